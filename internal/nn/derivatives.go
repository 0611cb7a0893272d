package nn

import "math"

// The identity and binary step entries return their input unchanged. Networks
// persisted with those activations were trained against that table.
func identityPrime(x float64) float64 {
	return x
}

func binaryStepPrime(x float64) float64 {
	return x
}

func sigmoidPrime(x float64) float64 {
	s := sigmoid(x)
	return s * (1 - s)
}

func tanhPrime(x float64) float64 {
	t := math.Tanh(x)
	return 1 - t*t
}

func sqnlPrime(x float64) float64 {
	switch {
	case x > 2:
		return 0
	case x >= 0:
		return 1 - x/2
	case x >= -2:
		return x + x/2
	default:
		return 0
	}
}

func arctanPrime(x float64) float64 {
	return 1 / (x*x + 1)
}

func lreluPrime(x float64) float64 {
	if x < 0 {
		return leakySlope
	}
	return 1
}

func eluPrime(x float64) float64 {
	if x <= 0 {
		return elu(x) + seluScale
	}
	return 1
}

func seluPrime(x float64) float64 {
	if x <= 0 {
		return elu(x) + seluAlpha
	}
	return seluScale
}

func geluPrime(x float64) float64 {
	x3 := x * x * x
	sech := 1 / math.Cosh(0.0356774*x3+0.797885*x)
	return 0.5*math.Tanh(0.0356774*x3+0.797885*x) + (0.0535161*x3+0.398942*x)*sech*sech + 0.5
}

func softplusPrime(x float64) float64 {
	return sigmoid(x)
}

func swishPrime(x float64) float64 {
	s := sigmoid(x)
	return s + x*s*(1-s)
}
