package nn

import "math"

const (
	// seluScale doubles as the positive-branch scale of elu in the reference table.
	seluScale = 1.0507009873554804934193349852946
	seluAlpha = 1.6732632423543772848170429916717

	leakySlope = 0.01
)

func identity(x float64) float64 {
	return x
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func binaryStep(x float64) float64 {
	if x >= 0 {
		return 1
	}
	return -1
}

func tanh(x float64) float64 {
	return math.Tanh(x)
}

// sqnl is the square nonlinearity; inputs above 2 map to 0.
func sqnl(x float64) float64 {
	switch {
	case x > 2:
		return 0
	case x >= 0:
		return x - x*x/4
	case x >= -2:
		return x + x*x/4
	default:
		return -1
	}
}

func arctan(x float64) float64 {
	return math.Atan(x)
}

func lrelu(x float64) float64 {
	if x < 0 {
		return leakySlope * x
	}
	return x
}

func elu(x float64) float64 {
	if x <= 0 {
		return seluScale * (math.Exp(x) - 1)
	}
	return x
}

func selu(x float64) float64 {
	if x <= 0 {
		return seluAlpha * (math.Exp(x) - 1)
	}
	return seluScale * x
}

func gelu(x float64) float64 {
	return 0.5 * x * (1 + math.Tanh(math.Sqrt(2/math.Pi)*(x+0.044715*x*x*x)))
}

func softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}

func swish(x float64) float64 {
	return x * sigmoid(x)
}
