package storage

import (
	"context"
	"errors"
	"sync"

	"tinman/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	tuned       map[string][]model.NetworkConfig
	history     map[string][]model.RoundReport
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.tuned = make(map[string][]model.NetworkConfig)
	s.history = make(map[string][]model.RoundReport)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sortRuns(runs)
	return runs, nil
}

func (s *MemoryStore) SaveTunedConfigs(_ context.Context, runID string, configs []model.NetworkConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.tuned[runID] = cloneConfigs(configs)
	return nil
}

func (s *MemoryStore) GetTunedConfigs(_ context.Context, runID string) ([]model.NetworkConfig, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	configs, ok := s.tuned[runID]
	if !ok {
		return nil, false, nil
	}
	return cloneConfigs(configs), true, nil
}

func (s *MemoryStore) SaveRoundHistory(_ context.Context, runID string, history []model.RoundReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.history[runID] = append([]model.RoundReport(nil), history...)
	return nil
}

func (s *MemoryStore) GetRoundHistory(_ context.Context, runID string) ([]model.RoundReport, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.RoundReport(nil), history...), true, nil
}

func cloneConfigs(configs []model.NetworkConfig) []model.NetworkConfig {
	out := make([]model.NetworkConfig, len(configs))
	for i := range configs {
		out[i] = configs[i].Clone()
	}
	return out
}
