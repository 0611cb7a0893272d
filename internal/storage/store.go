package storage

import (
	"context"

	"tinman/internal/model"
)

// Store persists finished optimisation runs: the run summary, the accepted
// configurations and the per-round history.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns every run, newest first.
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveTunedConfigs(ctx context.Context, runID string, configs []model.NetworkConfig) error
	GetTunedConfigs(ctx context.Context, runID string) ([]model.NetworkConfig, bool, error)
	SaveRoundHistory(ctx context.Context, runID string, history []model.RoundReport) error
	GetRoundHistory(ctx context.Context, runID string) ([]model.RoundReport, bool, error)
}
