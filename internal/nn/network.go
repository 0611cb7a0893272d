package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"tinman/internal/model"
)

var (
	ErrMissingWeights     = fmt.Errorf("%w: layer has no weight matrix", model.ErrConfiguration)
	ErrLayerCountMismatch = fmt.Errorf("%w: layer count mismatch", model.ErrConfiguration)
	ErrWeightShape        = fmt.Errorf("%w: weight matrix shape mismatch", model.ErrConfiguration)
	ErrInputSize          = fmt.Errorf("%w: input vector size mismatch", model.ErrConfiguration)
	ErrTargetClass        = fmt.Errorf("%w: target class out of range", model.ErrConfiguration)
	ErrNoActivation       = fmt.Errorf("%w: no output unit activated", model.ErrPrediction)
)

// Node is one computational unit.
type Node struct {
	Weights     []float64
	PrevUpdates []float64
	Output      float64
	OutputPrime float64
	Delta       float64
}

// Layer addresses the half-open node range [Start, End) of the owning
// network. It carries no weights.
type Layer struct {
	Start        int
	End          int
	Activation   Activation
	LearningRate float64
	Momentum     float64
	Bias         float64
	WeightRange  [2]float64
}

func (l Layer) Units() int {
	return l.End - l.Start
}

// Network is a fully connected feed-forward network over a flat node array.
// Layers and nodes are always built together.
type Network struct {
	id        int
	inputSize int
	layers    []Layer
	nodes     []Node
	// outputs mirrors Node.Output so layer outputs can be used as a vector.
	outputs []float64
}

// New materialises cfg. Layers without a weight matrix draw their weights
// from their weight range using rng; rng may be nil when every layer carries
// weights.
func New(cfg model.NetworkConfig, rng *rand.Rand) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	total := 0
	for _, layer := range cfg.Layers {
		total += layer.OutputUnits
	}

	n := &Network{
		id:        cfg.ConfigID,
		inputSize: cfg.InputSize,
		layers:    make([]Layer, len(cfg.Layers)),
		nodes:     make([]Node, total),
		outputs:   make([]float64, total),
	}
	sizes := cfg.LayerInputSizes()
	start := 0
	for i, layerCfg := range cfg.Layers {
		act, err := ParseActivation(layerCfg.ActivationFunction)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		n.layers[i] = Layer{
			Start:        start,
			End:          start + layerCfg.OutputUnits,
			Activation:   act,
			LearningRate: layerCfg.LearningRate,
			Momentum:     layerCfg.Momentum,
			Bias:         layerCfg.Bias,
			WeightRange:  layerCfg.WeightRange,
		}
		for u := 0; u < layerCfg.OutputUnits; u++ {
			node := &n.nodes[start+u]
			node.Weights = make([]float64, sizes[i])
			node.PrevUpdates = make([]float64, sizes[i])
			switch {
			case layerCfg.LayerWeights != nil:
				copy(node.Weights, layerCfg.LayerWeights[u])
			case rng != nil:
				model.FillUniform(rng, [][]float64{node.Weights}, layerCfg.WeightRange[0], layerCfg.WeightRange[1])
			default:
				return nil, fmt.Errorf("layer %d: %w", i, ErrMissingWeights)
			}
		}
		start += layerCfg.OutputUnits
	}
	return n, nil
}

func (n *Network) ID() int {
	return n.id
}

func (n *Network) InputSize() int {
	return n.inputSize
}

func (n *Network) Layers() []Layer {
	return n.layers
}

// Outputs returns the final layer's last activated outputs. The slice is
// owned by the network and overwritten by the next Forward.
func (n *Network) Outputs() []float64 {
	last := n.layers[len(n.layers)-1]
	return n.outputs[last.Start:last.End]
}

// Forward propagates inputs. The input layer adds the bias to its
// pre-activation but evaluates the derivative on the unbiased sum; later
// layers use no bias at all.
func (n *Network) Forward(inputs []float64) error {
	if len(inputs) != n.inputSize {
		return fmt.Errorf("%w: got %d, want %d", ErrInputSize, len(inputs), n.inputSize)
	}
	first := n.layers[0]
	for j := first.Start; j < first.End; j++ {
		node := &n.nodes[j]
		sum := floats.Dot(node.Weights, inputs)
		node.Output = first.Activation.Apply(sum + first.Bias)
		node.OutputPrime = first.Activation.Derivative(sum)
		n.outputs[j] = node.Output
	}
	for li := 1; li < len(n.layers); li++ {
		layer := n.layers[li]
		prev := n.layers[li-1]
		in := n.outputs[prev.Start:prev.End]
		for j := layer.Start; j < layer.End; j++ {
			node := &n.nodes[j]
			sum := floats.Dot(node.Weights, in)
			node.Output = layer.Activation.Apply(sum)
			node.OutputPrime = layer.Activation.Derivative(sum)
			n.outputs[j] = node.Output
		}
	}
	return nil
}

// SetErrorDelta seeds the final layer deltas against the one-hot encoding of
// target.
func (n *Network) SetErrorDelta(target int) error {
	last := n.layers[len(n.layers)-1]
	if target < 0 || target >= last.Units() {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrTargetClass, target, last.Units())
	}
	for j := last.Start; j < last.End; j++ {
		node := &n.nodes[j]
		want := 0.0
		if j-last.Start == target {
			want = 1
		}
		node.Delta = (node.Output - want) * node.OutputPrime
	}
	return nil
}

// Backward applies one momentum gradient step using the deltas seeded by
// SetErrorDelta. inputs must be the vector last passed to Forward.
func (n *Network) Backward(inputs []float64) error {
	if len(inputs) != n.inputSize {
		return fmt.Errorf("%w: got %d, want %d", ErrInputSize, len(inputs), n.inputSize)
	}
	for li := len(n.layers) - 1; li >= 1; li-- {
		n.hiddenBackward(li)
	}
	n.inputBackward(inputs)
	return nil
}

func (n *Network) hiddenBackward(li int) {
	layer := n.layers[li]
	prev := n.layers[li-1]
	for p := prev.Start; p < prev.End; p++ {
		k := p - prev.Start
		out := n.outputs[p]
		acc := 0.0
		for j := layer.Start; j < layer.End; j++ {
			node := &n.nodes[j]
			acc += node.Delta * node.Weights[k]
			update := layer.LearningRate*(node.Delta*out) + layer.Momentum*node.PrevUpdates[k]
			node.Weights[k] -= update
			node.PrevUpdates[k] = update
		}
		n.nodes[p].Delta = acc * n.nodes[p].OutputPrime
	}
}

func (n *Network) inputBackward(inputs []float64) {
	layer := n.layers[0]
	for k, x := range inputs {
		for j := layer.Start; j < layer.End; j++ {
			node := &n.nodes[j]
			update := layer.LearningRate*(node.Delta*x) + layer.Momentum*node.PrevUpdates[k]
			node.Weights[k] -= update
			node.PrevUpdates[k] = update
		}
	}
}

// Predict runs Forward and returns the index of the first strictly positive
// maximum output of the final layer.
func (n *Network) Predict(inputs []float64) (int, error) {
	if err := n.Forward(inputs); err != nil {
		return 0, err
	}
	out := n.Outputs()
	idx := floats.MaxIdx(out)
	if !(out[idx] > 0) {
		return 0, ErrNoActivation
	}
	return idx, nil
}

// UpdateState rebinds the network to cfg without reallocating. The layer
// structure must match and every layer must carry weights. Momentum history
// is cleared.
func (n *Network) UpdateState(cfg model.NetworkConfig) error {
	if len(cfg.Layers) != len(n.layers) {
		return fmt.Errorf("%w: got %d, want %d", ErrLayerCountMismatch, len(cfg.Layers), len(n.layers))
	}
	if cfg.InputSize != n.inputSize {
		return fmt.Errorf("%w: config input size %d, network %d", ErrWeightShape, cfg.InputSize, n.inputSize)
	}
	for i, layerCfg := range cfg.Layers {
		layer := n.layers[i]
		if layerCfg.LayerWeights == nil {
			return fmt.Errorf("layer %d: %w", i, ErrMissingWeights)
		}
		if len(layerCfg.LayerWeights) != layer.Units() {
			return fmt.Errorf("layer %d: %w: %d rows, want %d", i, ErrWeightShape, len(layerCfg.LayerWeights), layer.Units())
		}
		for u, row := range layerCfg.LayerWeights {
			if len(row) != len(n.nodes[layer.Start+u].Weights) {
				return fmt.Errorf("layer %d row %d: %w", i, u, ErrWeightShape)
			}
		}
		if _, err := ParseActivation(layerCfg.ActivationFunction); err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
	}
	for i, layerCfg := range cfg.Layers {
		layer := &n.layers[i]
		layer.Activation, _ = ParseActivation(layerCfg.ActivationFunction)
		layer.LearningRate = layerCfg.LearningRate
		layer.Momentum = layerCfg.Momentum
		layer.Bias = layerCfg.Bias
		layer.WeightRange = layerCfg.WeightRange
		for u, row := range layerCfg.LayerWeights {
			node := &n.nodes[layer.Start+u]
			copy(node.Weights, row)
			clear(node.PrevUpdates)
			node.Output, node.OutputPrime, node.Delta = 0, 0, 0
		}
	}
	clear(n.outputs)
	n.id = cfg.ConfigID
	return nil
}

// ExportWeights writes the current weight matrices into cfg, which must have
// the network's layer structure.
func (n *Network) ExportWeights(cfg *model.NetworkConfig) error {
	if len(cfg.Layers) != len(n.layers) {
		return fmt.Errorf("%w: got %d, want %d", ErrLayerCountMismatch, len(cfg.Layers), len(n.layers))
	}
	for i := range cfg.Layers {
		layer := n.layers[i]
		dst := &cfg.Layers[i]
		dst.LayerWeights = model.ShapeWeights(dst.LayerWeights, layer.Units(), len(n.nodes[layer.Start].Weights))
		for u := range dst.LayerWeights {
			copy(dst.LayerWeights[u], n.nodes[layer.Start+u].Weights)
		}
	}
	return nil
}

// Config snapshots the network as a configuration.
func (n *Network) Config() model.NetworkConfig {
	cfg := model.NetworkConfig{
		ConfigID:  n.id,
		InputSize: n.inputSize,
		Layers:    make([]model.LayerConfig, len(n.layers)),
	}
	for i, layer := range n.layers {
		cfg.Layers[i] = model.LayerConfig{
			ActivationFunction: layer.Activation.String(),
			WeightRange:        layer.WeightRange,
			OutputUnits:        layer.Units(),
			Bias:               layer.Bias,
			LearningRate:       layer.LearningRate,
			Momentum:           layer.Momentum,
		}
	}
	_ = n.ExportWeights(&cfg)
	return cfg
}
