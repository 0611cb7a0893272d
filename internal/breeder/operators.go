package breeder

import (
	"fmt"

	"tinman/internal/model"
)

func (b *Breeder) sign() float64 {
	if b.rng.Intn(2) == 0 {
		return -1
	}
	return 1
}

// perturbPositive moves v by delta, or away from zero by the same amount when
// v+delta would not stay positive.
func perturbPositive(v, delta float64) float64 {
	if v+delta > 0 {
		return v + delta
	}
	return v - delta
}

func (b *Breeder) claim(child *model.NetworkConfig) {
	child.ConfigID = b.NextConfigID()
	child.Accuracy = 0
	for i := range child.Layers {
		child.Layers[i].RepairWeightRange()
	}
}

// SAHyperParameters perturbs the enabled hyperparameters of child in place.
// Every layer draws one magnitude below the current temperature and one sign
// shared by all of its fields. child must already hold a copy of its parent.
func (b *Breeder) SAHyperParameters(child *model.NetworkConfig) error {
	temp := b.temperature.Current()
	for i := range child.Layers {
		layer := &child.Layers[i]
		mutation := b.rng.Float64() * temp
		sign := b.sign()
		delta := sign * mutation

		if b.gates.LearningRate {
			layer.LearningRate = perturbPositive(layer.LearningRate, delta)
		}
		if b.gates.Bias {
			layer.Bias += delta
		}
		if b.gates.Momentum {
			layer.Momentum = perturbPositive(layer.Momentum, delta)
		}
		if b.gates.UpperWeightLimit {
			// A flip here also steers the lower bound, keeping the span.
			if layer.WeightRange[1]+delta <= 0 {
				delta = -delta
			}
			layer.WeightRange[1] += delta
			if layer.WeightRange[1] > 1 {
				layer.WeightRange[1] = 1
			}
		}
		if b.gates.LowerWeightLimit {
			layer.WeightRange[0] += delta
			if layer.WeightRange[0] < -1 {
				layer.WeightRange[0] = -1
			}
		}
	}
	b.claim(child)
	return nil
}

// GAHyperParameters blends the enabled hyperparameters of parent2 into child,
// which must already hold a copy of the first parent.
func (b *Breeder) GAHyperParameters(child *model.NetworkConfig, parent2 model.NetworkConfig) error {
	if len(child.Layers) != len(parent2.Layers) {
		return fmt.Errorf("%w: %d layers vs %d", ErrShapeMismatch, len(child.Layers), len(parent2.Layers))
	}
	f := b.favourability.Current()
	blend := func(p1, p2 float64) float64 {
		return p1*f + p2*(1-f)
	}
	for i := range child.Layers {
		layer := &child.Layers[i]
		other := parent2.Layers[i]
		if b.gates.LearningRate {
			layer.LearningRate = blend(layer.LearningRate, other.LearningRate)
		}
		if b.gates.Bias {
			layer.Bias = blend(layer.Bias, other.Bias)
		}
		if b.gates.Momentum {
			layer.Momentum = blend(layer.Momentum, other.Momentum)
		}
		if b.gates.UpperWeightLimit {
			layer.WeightRange[1] = blend(layer.WeightRange[1], other.WeightRange[1])
		}
		if b.gates.LowerWeightLimit {
			layer.WeightRange[0] = blend(layer.WeightRange[0], other.WeightRange[0])
		}
	}
	b.claim(child)
	return nil
}

// SAWeights writes parent into child and adds an independent signed draw
// below the current temperature to every weight.
func (b *Breeder) SAWeights(child *model.NetworkConfig, parent model.NetworkConfig) error {
	if !parent.HasWeights() {
		return fmt.Errorf("config %d: %w", parent.ConfigID, ErrMissingWeights)
	}
	parent.CopyInto(child)
	temp := b.temperature.Current()
	for i := range child.Layers {
		for _, row := range child.Layers[i].LayerWeights {
			for k := range row {
				mutation := b.rng.Float64() * temp
				row[k] += b.sign() * mutation
			}
		}
	}
	b.claim(child)
	return nil
}

// GAWeights writes parent1 into child and recombines its weights with
// parent2's according to policy.
func (b *Breeder) GAWeights(child *model.NetworkConfig, parent1, parent2 model.NetworkConfig, policy WeightPolicy) error {
	if !parent1.HasWeights() {
		return fmt.Errorf("config %d: %w", parent1.ConfigID, ErrMissingWeights)
	}
	if !parent2.HasWeights() {
		return fmt.Errorf("config %d: %w", parent2.ConfigID, ErrMissingWeights)
	}
	if err := sameShape(parent1, parent2); err != nil {
		return err
	}
	if policy != Blend && policy != RowSwap {
		return fmt.Errorf("%w: unknown weight policy %s", model.ErrConfiguration, policy)
	}
	parent1.CopyInto(child)
	f := b.favourability.Current()
	for i := range child.Layers {
		other := parent2.Layers[i].LayerWeights
		for r, row := range child.Layers[i].LayerWeights {
			switch policy {
			case Blend:
				for k := range row {
					row[k] = row[k]*f + other[r][k]*(1-f)
				}
			case RowSwap:
				if b.rng.Float64() >= f {
					copy(row, other[r])
				}
			}
		}
	}
	b.claim(child)
	return nil
}

func sameShape(a, b model.NetworkConfig) error {
	if len(a.Layers) != len(b.Layers) {
		return fmt.Errorf("%w: %d layers vs %d", ErrShapeMismatch, len(a.Layers), len(b.Layers))
	}
	for i := range a.Layers {
		wa, wb := a.Layers[i].LayerWeights, b.Layers[i].LayerWeights
		if len(wa) != len(wb) {
			return fmt.Errorf("%w: layer %d rows %d vs %d", ErrShapeMismatch, i, len(wa), len(wb))
		}
		for r := range wa {
			if len(wa[r]) != len(wb[r]) {
				return fmt.Errorf("%w: layer %d row %d", ErrShapeMismatch, i, r)
			}
		}
	}
	return nil
}
