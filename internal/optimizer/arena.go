package optimizer

import (
	"fmt"

	"tinman/internal/model"
	"tinman/internal/trainer"
)

var ErrPoolExhausted = fmt.Errorf("%w: recycle pool is empty", model.ErrResourceExhausted)

// arena owns every configuration and trainer allocated during a run. Slots
// are addressed by index and never move; recycling pushes an index back onto
// the matching free stack.
type arena struct {
	configs      []*model.NetworkConfig
	freeConfigs  []int
	trainers     []*trainer.Trainer
	freeTrainers []int
}

func (a *arena) addConfig(cfg model.NetworkConfig) int {
	a.configs = append(a.configs, &cfg)
	return len(a.configs) - 1
}

func (a *arena) config(idx int) *model.NetworkConfig {
	return a.configs[idx]
}

func (a *arena) popConfig() (int, error) {
	n := len(a.freeConfigs)
	if n == 0 {
		return 0, fmt.Errorf("configs: %w", ErrPoolExhausted)
	}
	idx := a.freeConfigs[n-1]
	a.freeConfigs = a.freeConfigs[:n-1]
	return idx, nil
}

func (a *arena) releaseConfig(idx int) {
	a.freeConfigs = append(a.freeConfigs, idx)
}

func (a *arena) freeConfigCount() int {
	return len(a.freeConfigs)
}

func (a *arena) addTrainer(t *trainer.Trainer) int {
	a.trainers = append(a.trainers, t)
	return len(a.trainers) - 1
}

func (a *arena) trainer(idx int) *trainer.Trainer {
	return a.trainers[idx]
}

func (a *arena) popTrainer() (int, error) {
	n := len(a.freeTrainers)
	if n == 0 {
		return 0, fmt.Errorf("trainers: %w", ErrPoolExhausted)
	}
	idx := a.freeTrainers[n-1]
	a.freeTrainers = a.freeTrainers[:n-1]
	return idx, nil
}

func (a *arena) releaseTrainer(idx int) {
	a.freeTrainers = append(a.freeTrainers, idx)
}

func (a *arena) freeTrainerCount() int {
	return len(a.freeTrainers)
}

// dropTrainers discards every trainer. Only valid between rounds, when all
// trainers are free.
func (a *arena) dropTrainers() {
	a.trainers = nil
	a.freeTrainers = nil
}
