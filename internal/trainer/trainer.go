// Package trainer binds a network to a dataset split and scores it.
package trainer

import (
	"errors"
	"fmt"
	"math/rand"

	"tinman/internal/model"
	"tinman/internal/nn"
	"tinman/internal/sampler"
)

// Result is the outcome of the last Test call.
type Result struct {
	Correct           int     `json:"correct"`
	Total             int     `json:"total"`
	FailedPredictions int     `json:"failed_predictions"`
	Accuracy          float64 `json:"accuracy"`
}

// Trainer owns one network. Rows [0, cutoff) train it and rows
// [cutoff, len) test it.
type Trainer struct {
	net     *nn.Network
	order   *sampler.Sampler
	rounds  int
	cutoff  int
	result  Result
	trained bool
}

// New builds the trainee from cfg. Missing weight matrices are drawn with rng,
// which also drives the row order.
func New(cfg model.NetworkConfig, cutoff, rounds int, rng *rand.Rand) (*Trainer, error) {
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	if cutoff < 0 {
		return nil, fmt.Errorf("%w: cutoff must be >= 0", model.ErrConfiguration)
	}
	if rounds < 0 {
		return nil, fmt.Errorf("%w: rounds must be >= 0", model.ErrConfiguration)
	}
	net, err := nn.New(cfg, rng)
	if err != nil {
		return nil, fmt.Errorf("config %d: %w", cfg.ConfigID, err)
	}
	order, err := sampler.New(rng)
	if err != nil {
		return nil, err
	}
	return &Trainer{net: net, order: order, rounds: rounds, cutoff: cutoff}, nil
}

func (t *Trainer) ConfigID() int {
	return t.net.ID()
}

func (t *Trainer) Network() *nn.Network {
	return t.net
}

func (t *Trainer) Cutoff() int {
	return t.cutoff
}

func (t *Trainer) Rounds() int {
	return t.rounds
}

func (t *Trainer) SetRounds(rounds int) {
	if rounds >= 0 {
		t.rounds = rounds
	}
}

// UpdateTrainee rebinds the trainer to cfg and cutoff without reallocating.
// cfg must carry weights for every layer.
func (t *Trainer) UpdateTrainee(cfg model.NetworkConfig, cutoff int) error {
	if cutoff < 0 {
		return fmt.Errorf("%w: cutoff must be >= 0", model.ErrConfiguration)
	}
	if err := t.net.UpdateState(cfg); err != nil {
		return fmt.Errorf("config %d: %w", cfg.ConfigID, err)
	}
	t.cutoff = cutoff
	t.result = Result{}
	t.trained = false
	return nil
}

// trainLength is the number of leading rows used for training.
func (t *Trainer) trainLength(rows int) int {
	if t.cutoff > rows {
		return rows
	}
	return t.cutoff
}

// testStart is the first held-out row. A cutoff past the end makes the whole
// dataset the test set.
func (t *Trainer) testStart(rows int) int {
	if t.cutoff > rows {
		return 0
	}
	return t.cutoff
}

// Train runs the configured number of shuffled passes over the training rows.
func (t *Trainer) Train(ds *model.Dataset) error {
	n := t.trainLength(len(ds.Data))
	if n == 0 {
		return nil
	}
	if err := t.order.Resize(n); err != nil {
		return err
	}
	for round := 0; round < t.rounds; round++ {
		t.order.Reset()
		for t.order.HasNext() {
			idx := t.order.Next()
			if err := t.trainRow(ds.Data[idx]); err != nil {
				return fmt.Errorf("config %d row %d: %w", t.net.ID(), idx, err)
			}
		}
	}
	t.trained = true
	return nil
}

func (t *Trainer) trainRow(row model.Row) error {
	if err := t.net.Forward(row.Columns); err != nil {
		return err
	}
	if err := t.net.SetErrorDelta(row.Label); err != nil {
		return err
	}
	return t.net.Backward(row.Columns)
}

// Test scores the held-out rows. A row on which no output unit activates is
// counted as a miss; any other error aborts the test.
func (t *Trainer) Test(ds *model.Dataset) error {
	start := t.testStart(len(ds.Data))
	res := Result{Total: len(ds.Data) - start}
	for i := start; i < len(ds.Data); i++ {
		row := ds.Data[i]
		got, err := t.net.Predict(row.Columns)
		if err != nil {
			if errors.Is(err, model.ErrPrediction) {
				res.FailedPredictions++
				continue
			}
			return fmt.Errorf("config %d row %d: %w", t.net.ID(), i, err)
		}
		if got == row.Label {
			res.Correct++
		}
	}
	if res.Total > 0 {
		res.Accuracy = float64(res.Correct) / float64(res.Total) * 100
	}
	t.result = res
	return nil
}

// Evaluate trains (when train is set) and then tests.
func (t *Trainer) Evaluate(ds *model.Dataset, train bool) (Result, error) {
	if train {
		if err := t.Train(ds); err != nil {
			return Result{}, err
		}
	}
	if err := t.Test(ds); err != nil {
		return Result{}, err
	}
	return t.result, nil
}

func (t *Trainer) Result() Result {
	return t.result
}

func (t *Trainer) Accuracy() float64 {
	return t.result.Accuracy
}

// Trained reports whether Train ran since the last rebind.
func (t *Trainer) Trained() bool {
	return t.trained
}

// ExportWeights copies the trainee's current weights into cfg.
func (t *Trainer) ExportWeights(cfg *model.NetworkConfig) error {
	return t.net.ExportWeights(cfg)
}
