package optimizer

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"tinman/internal/model"
)

// round scores every queued candidate in parallel, keeps the best as elites
// and recycles the rest.
func (s *search) round(ctx context.Context, phase Phase) error {
	if len(s.candidates) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	started := time.Now()
	generation := s.breeder.IncGeneration()

	train := phase.trains()
	cutoff := 0
	if train {
		cutoff = s.req.TestTrainCutoffIdx
	}
	s.bound = s.bound[:0]
	for _, idx := range s.candidates {
		t, err := s.bindTrainer(idx, cutoff)
		if err != nil {
			s.releaseBound()
			return fmt.Errorf("generation %d: %w", generation, err)
		}
		s.bound = append(s.bound, t)
	}

	n := len(s.bound)
	shardCount := min(s.pool.size, n)
	shards := make([]func() error, shardCount)
	for w := 0; w < shardCount; w++ {
		shards[w] = func() error {
			for k := w; k < n; k += shardCount {
				if err := s.evaluate(s.arena.trainer(s.bound[k]), s.ds, train); err != nil {
					return err
				}
			}
			return nil
		}
	}
	if err := s.pool.run(shards); err != nil {
		s.releaseBound()
		return fmt.Errorf("generation %d %s: %w", generation, phase, err)
	}

	s.accs = s.accs[:0]
	failed := 0
	for k, idx := range s.candidates {
		t := s.arena.trainer(s.bound[k])
		cfg := s.arena.config(idx)
		if train {
			if err := t.ExportWeights(cfg); err != nil {
				s.releaseBound()
				return fmt.Errorf("generation %d: %w", generation, err)
			}
		}
		res := t.Result()
		cfg.Accuracy = res.Accuracy
		failed += res.FailedPredictions
		s.accs = append(s.accs, res.Accuracy)
	}
	s.evaluations += n
	s.releaseBound()
	s.selectElites()
	if train && s.resetWeights {
		s.randomizeRecycled()
	}
	s.report(generation, phase, failed, time.Since(started))
	return nil
}

func (s *search) releaseBound() {
	for _, t := range s.bound {
		s.arena.releaseTrainer(t)
	}
	s.bound = s.bound[:0]
}

// selectElites merges the scored candidates into the elites. A candidate
// displaces the weakest elite only when it is strictly better; everything not
// kept goes back to the free list.
func (s *search) selectElites() {
	s.sortByAccuracy(s.candidates)
	for _, idx := range s.candidates {
		if len(s.elites) < s.winners {
			s.elites = append(s.elites, idx)
			continue
		}
		s.sortByAccuracy(s.elites)
		weakest := len(s.elites) - 1
		if s.arena.config(idx).Accuracy > s.arena.config(s.elites[weakest]).Accuracy {
			s.arena.releaseConfig(s.elites[weakest])
			s.elites[weakest] = idx
			continue
		}
		s.arena.releaseConfig(idx)
	}
	s.candidates = s.candidates[:0]
	s.sortByAccuracy(s.elites)
	if len(s.elites) > 0 {
		if acc := s.arena.config(s.elites[0]).Accuracy; acc > s.best {
			s.best = acc
		}
	}
}

// randomizeRecycled redraws the weights of every free configuration so that
// hyperparameter children start from fresh weights.
func (s *search) randomizeRecycled() {
	for _, idx := range s.arena.freeConfigs {
		s.arena.config(idx).RandomizeWeights(s.rng)
	}
}

func (s *search) report(generation int, phase Phase, failed int, elapsed time.Duration) {
	mean, std := stat.PopMeanStdDev(s.accs, nil)
	rep := model.RoundReport{
		Generation:     generation,
		ConfigEpoch:    s.configEpoch,
		TrainEpoch:     s.trainEpoch,
		Phase:          phase.String(),
		Candidates:     len(s.accs),
		BestAccuracy:   s.best,
		MeanAccuracy:   mean,
		StdDevAccuracy: std,
		MaxAccuracy:    floats.Max(s.accs),
		Temperature:    s.breeder.Temperature().Current(),
		Favourability:  s.breeder.Favourability().Current(),
		FailedPredicts: failed,
		ElapsedMS:      elapsed.Milliseconds(),
	}
	s.history = append(s.history, rep)
	if s.cfg.OnRound != nil {
		s.cfg.OnRound(rep)
	}
	s.log.Debug("round evaluated",
		"generation", rep.Generation,
		"phase", rep.Phase,
		"candidates", rep.Candidates,
		"max_accuracy", rep.MaxAccuracy,
		"best_accuracy", rep.BestAccuracy,
		"failed_predictions", rep.FailedPredicts,
	)
}
