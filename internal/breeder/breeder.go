// Package breeder produces candidate configurations by simulated annealing
// and genetic recombination, steered by two decaying schedules.
package breeder

import (
	"errors"
	"fmt"
	"math/rand"

	"tinman/internal/model"
)

const (
	MaxTemperature   = 0.99
	MinTemperature   = 0.01
	MaxFavourability = 0.95
	MinFavourability = 0.55
)

var (
	ErrMissingWeights = fmt.Errorf("%w: weight operator needs weight matrices", model.ErrConfiguration)
	ErrShapeMismatch  = fmt.Errorf("%w: parents differ in shape", model.ErrConfiguration)
)

// Gates select which hyperparameters the hyperparameter operators touch.
type Gates struct {
	LearningRate     bool `json:"alter_learning_rate"`
	Bias             bool `json:"alter_bias"`
	Momentum         bool `json:"alter_momentum"`
	UpperWeightLimit bool `json:"alter_upper_weight_limit"`
	LowerWeightLimit bool `json:"alter_lower_weight_limit"`
}

func AllGates() Gates {
	return Gates{LearningRate: true, Bias: true, Momentum: true, UpperWeightLimit: true, LowerWeightLimit: true}
}

// WeightPolicy selects how GAWeights combines two parents.
type WeightPolicy int

const (
	// Blend averages every weight by favourability.
	Blend WeightPolicy = iota
	// RowSwap copies whole rows from one parent, chosen per row.
	RowSwap
)

func (p WeightPolicy) String() string {
	switch p {
	case Blend:
		return "blend"
	case RowSwap:
		return "row_swap"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

type Options struct {
	TemperatureDrops      int
	HeritabilityBiasDrops int
	Gates                 Gates
	Rand                  *rand.Rand
	// FirstConfigID seeds the candidate id sequence.
	FirstConfigID int
}

// Breeder holds the temperature and favourability schedules, the generation
// counter and the candidate id sequence.
type Breeder struct {
	rng           *rand.Rand
	gates         Gates
	temperature   Schedule
	favourability Schedule
	generation    int
	nextID        int
}

func New(opts Options) (*Breeder, error) {
	if opts.Rand == nil {
		return nil, errors.New("random source is required")
	}
	if opts.TemperatureDrops <= 0 {
		return nil, fmt.Errorf("%w: temperature drops must be > 0", model.ErrConfiguration)
	}
	if opts.HeritabilityBiasDrops <= 0 {
		return nil, fmt.Errorf("%w: heritability bias drops must be > 0", model.ErrConfiguration)
	}
	temperature, err := NewSchedule(MaxTemperature, MinTemperature, MaxTemperature/float64(opts.TemperatureDrops))
	if err != nil {
		return nil, err
	}
	favourability, err := NewSchedule(MaxFavourability, MinFavourability, (MaxFavourability-MinFavourability)/float64(opts.HeritabilityBiasDrops))
	if err != nil {
		return nil, err
	}
	return &Breeder{
		rng:           opts.Rand,
		gates:         opts.Gates,
		temperature:   temperature,
		favourability: favourability,
		nextID:        opts.FirstConfigID,
	}, nil
}

func (b *Breeder) Temperature() *Schedule {
	return &b.temperature
}

func (b *Breeder) Favourability() *Schedule {
	return &b.favourability
}

func (b *Breeder) Gates() Gates {
	return b.gates
}

// TotalReset restores both schedules to their original maxima.
func (b *Breeder) TotalReset() {
	b.temperature.TotalReset()
	b.favourability.TotalReset()
}

func (b *Breeder) IncGeneration() int {
	b.generation++
	return b.generation
}

func (b *Breeder) Generation() int {
	return b.generation
}

// NextConfigID hands out the next candidate id.
func (b *Breeder) NextConfigID() int {
	id := b.nextID
	b.nextID++
	return id
}

// PeekConfigID returns the id the next operator will assign.
func (b *Breeder) PeekConfigID() int {
	return b.nextID
}
