// Package optimizer searches network configurations with alternating
// simulated annealing and genetic rounds, scoring candidates in parallel.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"tinman/internal/breeder"
	"tinman/internal/dataset"
	"tinman/internal/model"
	"tinman/internal/trainer"
)

type Optimizer struct {
	cfg Config
	// evaluate scores one bound trainer; replaced in tests.
	evaluate func(t *trainer.Trainer, ds *model.Dataset, train bool) error
}

func New(cfg Config) (*Optimizer, error) {
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("workers must be >= 0")
	}
	if cfg.Gates == nil {
		gates := breeder.AllGates()
		cfg.Gates = &gates
	}
	if cfg.Structure == nil {
		cfg.Structure = NoopStructureHook{}
	}
	if cfg.Variation == nil {
		cfg.Variation = NoopVariationHook{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Optimizer{cfg: cfg, evaluate: evaluateTrainer}, nil
}

func evaluateTrainer(t *trainer.Trainer, ds *model.Dataset, train bool) error {
	_, err := t.Evaluate(ds, train)
	return err
}

// search is the state of one optimisation run.
type search struct {
	cfg      Config
	log      *slog.Logger
	evaluate func(*trainer.Trainer, *model.Dataset, bool) error
	req      model.OptimizerRequest
	ds       *model.Dataset
	rng      *rand.Rand
	breeder  *breeder.Breeder
	arena    arena
	pool     *workerPool

	base       model.NetworkConfig
	elites     []int
	candidates []int
	bound      []int
	accs       []float64

	winners      int
	best         float64
	resetWeights bool
	configEpoch  int
	trainEpoch   int

	history     []model.RoundReport
	evaluations int
}

// Run optimises req against ds. The accepted configurations are returned and
// also written to req.TunedSettings.
func (o *Optimizer) Run(ctx context.Context, req *model.OptimizerRequest, ds *model.Dataset) (Result, error) {
	if req == nil {
		return Result{}, errors.New("optimizer request is required")
	}
	if ds == nil {
		return Result{}, errors.New("dataset is required")
	}
	rng := rand.New(rand.NewSource(o.cfg.Seed))
	in := *req
	if o.cfg.Workers > 0 {
		in.CPUsToUse = o.cfg.Workers
	}
	prepared, err := PrepareRequest(in, rng)
	if err != nil {
		return Result{}, err
	}
	base := prepared.CurrentCandidateConfiguration
	if err := dataset.Validate(ds, base.InputSize, base.OutputUnits()); err != nil {
		return Result{}, err
	}
	b, err := breeder.New(breeder.Options{
		TemperatureDrops:      prepared.TemperatureDrops,
		HeritabilityBiasDrops: prepared.HeritabilityBiasDrops,
		Gates:                 *o.cfg.Gates,
		Rand:                  rng,
		FirstConfigID:         1,
	})
	if err != nil {
		return Result{}, err
	}

	s := &search{
		cfg:      o.cfg,
		log:      o.cfg.Logger,
		evaluate: o.evaluate,
		req:      prepared,
		ds:       ds,
		rng:      rng,
		breeder:  b,
		pool:     newWorkerPool(workerCount(prepared.CPUsToUse)),
		base:     base,
		winners:  prepared.WinnersPerRound,
	}
	defer s.pool.close()

	started := time.Now()
	s.log.Info("optimisation started",
		"dataset", ds.TableInfo.TableName,
		"rows", len(ds.Data),
		"workers", s.pool.size,
		"winners_per_round", s.winners,
		"target", prepared.MinAcceptableAccuracy,
	)
	reason, err := s.run(ctx)
	if err != nil {
		return Result{}, err
	}
	if err := s.cfg.Structure.Trim(ctx, s.eliteConfigs(), ds); err != nil {
		return Result{}, fmt.Errorf("trim: %w", err)
	}
	tuned := s.collect()
	req.TunedSettings = tuned
	s.log.Info("optimisation finished",
		"reason", reason,
		"best_accuracy", s.best,
		"tuned", len(tuned),
		"generations", s.breeder.Generation(),
		"elapsed", time.Since(started),
	)
	return Result{
		Tuned:        tuned,
		History:      s.history,
		Request:      prepared,
		Generations:  s.breeder.Generation(),
		Evaluations:  s.evaluations,
		BestAccuracy: s.best,
		Workers:      s.pool.size,
		StopReason:   reason,
	}, nil
}

func (s *search) run(ctx context.Context) (string, error) {
	seed := s.arena.addConfig(s.base.Clone())
	s.arena.config(seed).ConfigID = s.breeder.NextConfigID()
	s.candidates = append(s.candidates, seed)
	if err := s.round(ctx, PhaseSeed); err != nil {
		return "", err
	}

	lastConfig := s.req.MaxConfigChangingEpochs - 1
	lastTrain := s.req.MaxTrainEpochs - 1
	for i := 0; i <= lastConfig; i++ {
		s.configEpoch = i
		s.resetWeights = true
		tries := 0
		for j := 0; j <= lastTrain; j++ {
			s.trainEpoch = j
			s.log.Info("train epoch", "config_epoch", i+1, "train_epoch", j+1, "best_accuracy", s.best)
			if (i == lastConfig && j == lastTrain) || s.targetReached() {
				s.resizeWinners(s.req.FinalNumberOfNnetSettings)
			}
			epochStart := s.best
			if err := s.tuneHyperParameters(ctx); err != nil {
				return "", err
			}
			if err := s.tuneWeights(ctx); err != nil {
				return "", err
			}
			if s.targetReached() {
				return StopTargetReached, nil
			}
			if Plateaued(epochStart, s.best) {
				tries++
				s.log.Info("accuracy plateau", "tries", tries, "start", epochStart, "best", s.best)
				if err := s.cfg.Variation.Vary(ctx, s.eliteConfigs()); err != nil {
					return "", fmt.Errorf("vary: %w", err)
				}
				if err := s.checkElites(); err != nil {
					return "", fmt.Errorf("vary: %w", err)
				}
			}
			if tries >= maxPlateauRetries {
				break
			}
		}
		if i < lastConfig {
			changed, err := s.cfg.Structure.IncreaseNodes(ctx, s.eliteConfigs())
			if err != nil {
				return "", fmt.Errorf("increase nodes: %w", err)
			}
			if changed {
				if err := s.restructure(); err != nil {
					return "", fmt.Errorf("increase nodes: %w", err)
				}
			}
		}
	}
	return StopEpochsExhausted, nil
}

func (s *search) targetReached() bool {
	return s.best >= s.req.MinAcceptableAccuracy
}

func (s *search) schedulesExhausted() bool {
	return s.breeder.Temperature().MinCeilingReached() && s.breeder.Favourability().MinCeilingReached()
}

func (s *search) tuneHyperParameters(ctx context.Context) error {
	s.breeder.TotalReset()
	for !s.schedulesExhausted() {
		start := s.best
		if err := s.saPhase(ctx, PhaseSAHyper); err != nil {
			return err
		}
		if s.targetReached() {
			return nil
		}
		if err := s.gaPhase(ctx, PhaseGAHyper); err != nil {
			return err
		}
		if s.targetReached() {
			return nil
		}
		if Plateaued(start, s.best) {
			s.log.Debug("hyperparameter search plateaued", "start", start, "best", s.best)
			break
		}
	}
	return nil
}

func (s *search) tuneWeights(ctx context.Context) error {
	s.breeder.TotalReset()
	for !s.schedulesExhausted() {
		start := s.best
		if err := s.saPhase(ctx, PhaseSAWeights); err != nil {
			return err
		}
		if err := s.gaPhase(ctx, PhaseGAWeights); err != nil {
			return err
		}
		if Plateaued(start, s.best) {
			s.log.Debug("weight search plateaued", "start", start, "best", s.best)
			break
		}
	}
	return nil
}

// saPhase breeds one child per elite at every temperature step down to the
// floor, scores them all in one round, then restarts the temperature from its
// lowered ceiling.
func (s *search) saPhase(ctx context.Context, phase Phase) error {
	temp := s.breeder.Temperature()
	for !temp.MinReached() {
		for _, parent := range s.elites {
			if err := s.breed(phase, parent, -1, breeder.Blend); err != nil {
				return err
			}
		}
		temp.Drop()
	}
	if err := s.round(ctx, phase); err != nil {
		return err
	}
	temp.ResetToAdjustedMax()
	return nil
}

// gaPhase recombines every ordered pair of distinct elites once per
// favourability step, scoring after each step and stopping early on a
// plateau.
func (s *search) gaPhase(ctx context.Context, phase Phase) error {
	fav := s.breeder.Favourability()
	for !fav.MinReached() {
		before := s.best
		for i, p1 := range s.elites {
			for j, p2 := range s.elites {
				if i == j {
					continue
				}
				if err := s.breed(phase, p1, p2, breeder.Blend); err != nil {
					return err
				}
				if phase == PhaseGAWeights {
					if err := s.breed(phase, p1, p2, breeder.RowSwap); err != nil {
						return err
					}
				}
			}
		}
		fav.Drop()
		if err := s.round(ctx, phase); err != nil {
			return err
		}
		if phase.hyper() && s.targetReached() {
			break
		}
		if Plateaued(before, s.best) {
			break
		}
	}
	fav.ResetToAdjustedMax()
	return nil
}

// breed writes one child into a recycled or fresh slot and queues it as a
// candidate.
func (s *search) breed(phase Phase, p1, p2 int, policy breeder.WeightPolicy) error {
	idx := s.acquireConfig()
	child := s.arena.config(idx)
	parent := *s.arena.config(p1)
	var err error
	switch phase {
	case PhaseSAHyper:
		seedHyperParameters(child, parent)
		err = s.breeder.SAHyperParameters(child)
	case PhaseGAHyper:
		seedHyperParameters(child, parent)
		err = s.breeder.GAHyperParameters(child, *s.arena.config(p2))
	case PhaseSAWeights:
		err = s.breeder.SAWeights(child, parent)
	case PhaseGAWeights:
		err = s.breeder.GAWeights(child, parent, *s.arena.config(p2), policy)
	default:
		err = fmt.Errorf("phase %s does not breed", phase)
	}
	if err != nil {
		s.arena.releaseConfig(idx)
		return fmt.Errorf("%s from config %d: %w", phase, parent.ConfigID, err)
	}
	s.candidates = append(s.candidates, idx)
	return nil
}

// seedHyperParameters copies parent's hyperparameters into child. The child
// keeps its own weights.
func seedHyperParameters(child *model.NetworkConfig, parent model.NetworkConfig) {
	child.QueryID = parent.QueryID
	child.InputSize = parent.InputSize
	for i := range parent.Layers {
		parent.Layers[i].CopyHyperParameters(&child.Layers[i])
	}
}

func (s *search) acquireConfig() int {
	if s.arena.freeConfigCount() > 0 {
		if idx, err := s.arena.popConfig(); err == nil {
			return idx
		}
	}
	// The breeding operator assigns the id.
	return s.arena.addConfig(s.base.Clone())
}

// bindTrainer returns a trainer bound to the candidate in slot idx, splitting
// the dataset at cutoff.
func (s *search) bindTrainer(idx, cutoff int) (int, error) {
	cfg := *s.arena.config(idx)
	if s.arena.freeTrainerCount() > 0 {
		t, err := s.arena.popTrainer()
		if err != nil {
			return 0, err
		}
		if err := s.arena.trainer(t).UpdateTrainee(cfg, cutoff); err != nil {
			s.arena.releaseTrainer(t)
			return 0, err
		}
		return t, nil
	}
	tr, err := trainer.New(cfg, cutoff, s.req.TrainRoundsPerEpoch, rand.New(rand.NewSource(s.rng.Int63())))
	if err != nil {
		return 0, err
	}
	return s.arena.addTrainer(tr), nil
}

// resizeWinners changes the elite bound and recycles the weakest surplus
// elites.
func (s *search) resizeWinners(n int) {
	if s.winners == n {
		return
	}
	s.log.Info("winners per round changed", "from", s.winners, "to", n)
	s.winners = n
	s.sortByAccuracy(s.elites)
	for len(s.elites) > s.winners {
		last := len(s.elites) - 1
		s.arena.releaseConfig(s.elites[last])
		s.elites = s.elites[:last]
	}
}

// sortByAccuracy orders slot indices by accuracy, best first, ties by id.
func (s *search) sortByAccuracy(slots []int) {
	sort.SliceStable(slots, func(a, b int) bool {
		ca, cb := s.arena.config(slots[a]), s.arena.config(slots[b])
		if ca.Accuracy != cb.Accuracy {
			return ca.Accuracy > cb.Accuracy
		}
		return ca.ConfigID < cb.ConfigID
	})
}

func (s *search) eliteConfigs() []*model.NetworkConfig {
	out := make([]*model.NetworkConfig, len(s.elites))
	for i, idx := range s.elites {
		out[i] = s.arena.config(idx)
	}
	return out
}

// checkElites verifies that hooks left the elites runnable with the current
// structure.
func (s *search) checkElites() error {
	for _, idx := range s.elites {
		if err := s.checkShape(*s.arena.config(idx)); err != nil {
			return err
		}
	}
	return nil
}

func (s *search) checkShape(cfg model.NetworkConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config %d: %w", cfg.ConfigID, err)
	}
	if !cfg.HasWeights() {
		return fmt.Errorf("%w: config %d has no weights", model.ErrConfiguration, cfg.ConfigID)
	}
	if cfg.InputSize != s.base.InputSize || len(cfg.Layers) != len(s.base.Layers) {
		return fmt.Errorf("%w: config %d changed structure", model.ErrConfiguration, cfg.ConfigID)
	}
	for i := range cfg.Layers {
		if cfg.Layers[i].OutputUnits != s.base.Layers[i].OutputUnits {
			return fmt.Errorf("%w: config %d layer %d changed structure", model.ErrConfiguration, cfg.ConfigID, i)
		}
	}
	return nil
}

// restructure adopts the elites' new layer structure: the first elite becomes
// the base, recycled slots are rebuilt from it and every trainer is dropped.
func (s *search) restructure() error {
	if len(s.elites) == 0 {
		return nil
	}
	base := s.arena.config(s.elites[0]).Clone()
	base.Accuracy = 0
	s.base = base
	if err := s.checkElites(); err != nil {
		return err
	}
	for _, idx := range s.arena.freeConfigs {
		cfg := s.arena.config(idx)
		id := cfg.ConfigID
		s.base.CopyInto(cfg)
		cfg.ConfigID = id
		cfg.RandomizeWeights(s.rng)
	}
	s.arena.dropTrainers()
	s.log.Info("network structure changed", "layers", len(base.Layers), "units", base.OutputUnits())
	return nil
}

// collect drains the elites best first, skipping those below the acceptable
// accuracy, until the requested number is reached.
func (s *search) collect() []model.NetworkConfig {
	s.sortByAccuracy(s.elites)
	var out []model.NetworkConfig
	for _, idx := range s.elites {
		if len(out) >= s.req.FinalNumberOfNnetSettings {
			break
		}
		cfg := s.arena.config(idx)
		if cfg.Accuracy < s.req.MinAcceptableAccuracy {
			continue
		}
		out = append(out, cfg.Clone())
	}
	return out
}
