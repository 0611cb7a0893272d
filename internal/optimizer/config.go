package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"

	"tinman/internal/breeder"
	"tinman/internal/model"
	"tinman/internal/nn"
)

const (
	minWinnersPerRound = 2
	minWorkers         = 2
)

const (
	StopTargetReached   = "target_reached"
	StopEpochsExhausted = "epochs_exhausted"
)

// StructureHook is the extension point for architecture changes. IncreaseNodes
// runs between config epochs and reports whether it changed the layer
// structure of the elites; Trim runs once before the final collection.
type StructureHook interface {
	IncreaseNodes(ctx context.Context, elites []*model.NetworkConfig) (bool, error)
	Trim(ctx context.Context, elites []*model.NetworkConfig, ds *model.Dataset) error
}

type NoopStructureHook struct{}

func (NoopStructureHook) IncreaseNodes(context.Context, []*model.NetworkConfig) (bool, error) {
	return false, nil
}

func (NoopStructureHook) Trim(context.Context, []*model.NetworkConfig, *model.Dataset) error {
	return nil
}

// VariationHook runs on every accuracy plateau and may swap activation
// functions or learning settings of the elites in place. It must keep the
// layer structure.
type VariationHook interface {
	Vary(ctx context.Context, elites []*model.NetworkConfig) error
}

type NoopVariationHook struct{}

func (NoopVariationHook) Vary(context.Context, []*model.NetworkConfig) error {
	return nil
}

type Config struct {
	Seed int64
	// Gates defaults to every hyperparameter enabled.
	Gates *breeder.Gates
	// Workers overrides the request's cpus_to_use when > 0.
	Workers   int
	Structure StructureHook
	Variation VariationHook
	Logger    *slog.Logger
	// OnRound observes every evaluated round.
	OnRound func(model.RoundReport)
}

type Result struct {
	Tuned        []model.NetworkConfig  `json:"tuned_settings"`
	History      []model.RoundReport    `json:"history"`
	Request      model.OptimizerRequest `json:"request"`
	Generations  int                    `json:"generations"`
	Evaluations  int                    `json:"evaluations"`
	BestAccuracy float64                `json:"best_accuracy"`
	Workers      int                    `json:"workers"`
	StopReason   string                 `json:"stop_reason"`
}

// PrepareRequest validates req and returns a repaired copy: winners per
// round raised to 2, cpus clamped to the machine, weight ranges repaired and
// missing base weights drawn with rng.
func PrepareRequest(req model.OptimizerRequest, rng *rand.Rand) (model.OptimizerRequest, error) {
	switch {
	case req.TemperatureDrops <= 0:
		return model.OptimizerRequest{}, fmt.Errorf("%w: temperature_drops must be > 0", model.ErrConfiguration)
	case req.HeritabilityBiasDrops <= 0:
		return model.OptimizerRequest{}, fmt.Errorf("%w: heritability_bias_drops must be > 0", model.ErrConfiguration)
	case req.MaxTrainEpochs <= 0:
		return model.OptimizerRequest{}, fmt.Errorf("%w: max_train_epochs must be > 0", model.ErrConfiguration)
	case req.MaxConfigChangingEpochs <= 0:
		return model.OptimizerRequest{}, fmt.Errorf("%w: max_config_changing_epochs must be > 0", model.ErrConfiguration)
	case req.FinalNumberOfNnetSettings <= 0:
		return model.OptimizerRequest{}, fmt.Errorf("%w: final_number_of_nnet_settings must be > 0", model.ErrConfiguration)
	case req.TrainRoundsPerEpoch < 0:
		return model.OptimizerRequest{}, fmt.Errorf("%w: train_rounds_per_epoch must be >= 0", model.ErrConfiguration)
	case req.TestTrainCutoffIdx < 0:
		return model.OptimizerRequest{}, fmt.Errorf("%w: test_train_cutoff_idx must be >= 0", model.ErrConfiguration)
	}
	base := req.CurrentCandidateConfiguration.Clone()
	if err := base.Validate(); err != nil {
		return model.OptimizerRequest{}, fmt.Errorf("current candidate configuration: %w", err)
	}
	for i := range base.Layers {
		if _, err := nn.ParseActivation(base.Layers[i].ActivationFunction); err != nil {
			return model.OptimizerRequest{}, fmt.Errorf("current candidate configuration layer %d: %w", i, err)
		}
		base.Layers[i].RepairWeightRange()
	}
	base.FillMissingWeights(rng)
	base.Accuracy = 0

	out := req
	out.CurrentCandidateConfiguration = base
	out.TunedSettings = nil
	if out.WinnersPerRound < minWinnersPerRound {
		out.WinnersPerRound = minWinnersPerRound
	}
	out.CPUsToUse = clampCPUs(out.CPUsToUse)
	return out, nil
}

func clampCPUs(n int) int {
	available := runtime.NumCPU()
	if n > available {
		return available
	}
	if n < 1 {
		return 1
	}
	return n
}

// workerCount floors the usable cpus at two workers.
func workerCount(cpus int) int {
	if cpus < minWorkers {
		return minWorkers
	}
	return cpus
}
