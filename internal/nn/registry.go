package nn

import (
	"fmt"
	"sort"

	"tinman/internal/model"
)

var (
	ErrActivationNotFound = fmt.Errorf("%w: activation not found", model.ErrConfiguration)
	ErrActivationCode     = fmt.Errorf("%w: activation code out of range", model.ErrConfiguration)
)

// Activation is a closed set of nonlinearities addressed by code. The code
// order is part of the persisted format.
type Activation uint8

const (
	Identity Activation = iota
	Sigmoid
	BinaryStep
	Tanh
	SQNL
	Arctan
	LeakyReLU
	ELU
	SELU
	GELU
	Softplus
	Swish

	activationCount
)

type activationEntry struct {
	name  string
	fn    func(float64) float64
	prime func(float64) float64
}

var activationTable = [activationCount]activationEntry{
	Identity:   {name: "default", fn: identity, prime: identityPrime},
	Sigmoid:    {name: "sigmoid", fn: sigmoid, prime: sigmoidPrime},
	BinaryStep: {name: "binary_step", fn: binaryStep, prime: binaryStepPrime},
	Tanh:       {name: "tanh", fn: tanh, prime: tanhPrime},
	SQNL:       {name: "sqnl", fn: sqnl, prime: sqnlPrime},
	Arctan:     {name: "arctan", fn: arctan, prime: arctanPrime},
	LeakyReLU:  {name: "lrelu", fn: lrelu, prime: lreluPrime},
	ELU:        {name: "elu", fn: elu, prime: eluPrime},
	SELU:       {name: "selu", fn: selu, prime: seluPrime},
	GELU:       {name: "gelu", fn: gelu, prime: geluPrime},
	Softplus:   {name: "softplus", fn: softplus, prime: softplusPrime},
	Swish:      {name: "swish", fn: swish, prime: swishPrime},
}

var activationAliases = map[string]Activation{
	"identity": Identity,
	"logistic": Sigmoid,
}

// ParseActivation resolves a configured activation name.
func ParseActivation(name string) (Activation, error) {
	for code, entry := range activationTable {
		if entry.name == name {
			return Activation(code), nil
		}
	}
	if act, ok := activationAliases[name]; ok {
		return act, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrActivationNotFound, name)
}

// ActivationFromCode validates a numeric activation code.
func ActivationFromCode(code int) (Activation, error) {
	if code < 0 || code >= int(activationCount) {
		return 0, fmt.Errorf("%w: %d", ErrActivationCode, code)
	}
	return Activation(code), nil
}

func (a Activation) Valid() bool {
	return a < activationCount
}

func (a Activation) String() string {
	if !a.Valid() {
		return fmt.Sprintf("activation(%d)", uint8(a))
	}
	return activationTable[a].name
}

// Apply evaluates the activation. a must be valid.
func (a Activation) Apply(x float64) float64 {
	return activationTable[a].fn(x)
}

// Derivative evaluates the derivative paired with the activation. a must be
// valid.
func (a Activation) Derivative(x float64) float64 {
	return activationTable[a].prime(x)
}

// ListActivations returns the canonical activation names sorted.
func ListActivations() []string {
	names := make([]string, 0, len(activationTable))
	for _, entry := range activationTable {
		names = append(names, entry.name)
	}
	sort.Strings(names)
	return names
}
