package model

import (
	"fmt"
	"math/rand"
)

// MinWeightSpan is the gap forced between the weight bounds when the lower
// bound catches up with the upper one.
const MinWeightSpan = 0.1

// Clone returns a deep copy of the configuration.
func (c NetworkConfig) Clone() NetworkConfig {
	out := c
	out.Layers = make([]LayerConfig, len(c.Layers))
	for i := range c.Layers {
		out.Layers[i] = c.Layers[i].Clone()
	}
	return out
}

// Clone returns a deep copy of the layer.
func (l LayerConfig) Clone() LayerConfig {
	out := l
	out.LayerWeights = CloneWeights(l.LayerWeights)
	return out
}

// CopyInto overwrites dst with c, reusing dst's layer and weight buffers when
// their shapes already match.
func (c NetworkConfig) CopyInto(dst *NetworkConfig) {
	dst.QueryID = c.QueryID
	dst.ConfigID = c.ConfigID
	dst.Accuracy = c.Accuracy
	dst.InputSize = c.InputSize
	if cap(dst.Layers) < len(c.Layers) {
		dst.Layers = make([]LayerConfig, len(c.Layers))
	}
	dst.Layers = dst.Layers[:len(c.Layers)]
	for i := range c.Layers {
		c.Layers[i].copyInto(&dst.Layers[i])
	}
}

func (l LayerConfig) copyInto(dst *LayerConfig) {
	weights := dst.LayerWeights
	*dst = l
	dst.LayerWeights = CopyWeightsInto(weights, l.LayerWeights)
}

// CopyHyperParameters copies every field except the weight matrix.
func (l LayerConfig) CopyHyperParameters(dst *LayerConfig) {
	weights := dst.LayerWeights
	*dst = l
	dst.LayerWeights = weights
}

// CloneWeights deep-copies a weight matrix; nil stays nil.
func CloneWeights(weights [][]float64) [][]float64 {
	if weights == nil {
		return nil
	}
	out := make([][]float64, len(weights))
	for i := range weights {
		out[i] = append([]float64(nil), weights[i]...)
	}
	return out
}

// CopyWeightsInto copies src into dst, growing dst only where its shape does
// not fit. The returned matrix must replace dst.
func CopyWeightsInto(dst, src [][]float64) [][]float64 {
	if src == nil {
		return nil
	}
	dst = ShapeWeights(dst, len(src), 0)
	for i := range src {
		if cap(dst[i]) < len(src[i]) {
			dst[i] = make([]float64, len(src[i]))
		}
		dst[i] = dst[i][:len(src[i])]
		copy(dst[i], src[i])
	}
	return dst
}

// ShapeWeights returns dst resized to rows x cols, reusing its storage where
// possible. A negative or zero cols leaves the row lengths untouched.
func ShapeWeights(dst [][]float64, rows, cols int) [][]float64 {
	if cap(dst) < rows {
		grown := make([][]float64, rows)
		copy(grown, dst)
		dst = grown
	}
	dst = dst[:rows]
	if cols <= 0 {
		return dst
	}
	for i := range dst {
		if cap(dst[i]) < cols {
			dst[i] = make([]float64, cols)
		}
		dst[i] = dst[i][:cols]
	}
	return dst
}

// RepairWeightRange forces low < high by moving high above low.
func (l *LayerConfig) RepairWeightRange() {
	if l.WeightRange[0] >= l.WeightRange[1] {
		l.WeightRange[1] = l.WeightRange[0] + MinWeightSpan
	}
}

// LayerInputSizes returns the fan-in of every layer.
func (c NetworkConfig) LayerInputSizes() []int {
	sizes := make([]int, len(c.Layers))
	in := c.InputSize
	for i, layer := range c.Layers {
		sizes[i] = in
		in = layer.OutputUnits
	}
	return sizes
}

// OutputUnits returns the unit count of the final layer.
func (c NetworkConfig) OutputUnits() int {
	if len(c.Layers) == 0 {
		return 0
	}
	return c.Layers[len(c.Layers)-1].OutputUnits
}

// Validate checks structural consistency. Weight matrices may be absent but
// must match the declared shape when present.
func (c NetworkConfig) Validate() error {
	if c.InputSize <= 0 {
		return fmt.Errorf("%w: input size must be > 0", ErrConfiguration)
	}
	if len(c.Layers) == 0 {
		return fmt.Errorf("%w: at least one layer is required", ErrConfiguration)
	}
	sizes := c.LayerInputSizes()
	for i, layer := range c.Layers {
		if layer.OutputUnits <= 0 {
			return fmt.Errorf("%w: layer %d output units must be > 0", ErrConfiguration, i)
		}
		if layer.LayerWeights == nil {
			continue
		}
		if len(layer.LayerWeights) != layer.OutputUnits {
			return fmt.Errorf("%w: layer %d has %d weight rows, want %d", ErrConfiguration, i, len(layer.LayerWeights), layer.OutputUnits)
		}
		for r, row := range layer.LayerWeights {
			if len(row) != sizes[i] {
				return fmt.Errorf("%w: layer %d row %d has %d weights, want %d", ErrConfiguration, i, r, len(row), sizes[i])
			}
		}
	}
	return nil
}

// HasWeights reports whether every layer carries a weight matrix.
func (c NetworkConfig) HasWeights() bool {
	for _, layer := range c.Layers {
		if layer.LayerWeights == nil {
			return false
		}
	}
	return len(c.Layers) > 0
}

// RandomizeWeights fills every layer's matrix with independent draws from
// [low, high) of that layer, allocating missing matrices.
func (c *NetworkConfig) RandomizeWeights(rng *rand.Rand) {
	sizes := c.LayerInputSizes()
	for i := range c.Layers {
		layer := &c.Layers[i]
		layer.LayerWeights = ShapeWeights(layer.LayerWeights, layer.OutputUnits, sizes[i])
		FillUniform(rng, layer.LayerWeights, layer.WeightRange[0], layer.WeightRange[1])
	}
}

// FillUniform overwrites weights with independent draws from [low, high).
func FillUniform(rng *rand.Rand, weights [][]float64, low, high float64) {
	span := high - low
	for _, row := range weights {
		for j := range row {
			row[j] = low + rng.Float64()*span
		}
	}
}

// FillMissingWeights draws a matrix for every layer that has none, leaving
// existing matrices alone.
func (c *NetworkConfig) FillMissingWeights(rng *rand.Rand) {
	sizes := c.LayerInputSizes()
	for i := range c.Layers {
		layer := &c.Layers[i]
		if layer.LayerWeights != nil {
			continue
		}
		layer.LayerWeights = ShapeWeights(nil, layer.OutputUnits, sizes[i])
		FillUniform(rng, layer.LayerWeights, layer.WeightRange[0], layer.WeightRange[1])
	}
}
