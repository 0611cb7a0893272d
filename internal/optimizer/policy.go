package optimizer

import "fmt"

const maxPlateauRetries = 3

// gainBands maps the running best accuracy to the smallest improvement that
// still counts as progress. Accuracies above the last band use topBandGain.
var gainBands = []struct {
	upTo float64
	gain float64
}{
	{upTo: 90, gain: 0.2},
	{upTo: 92, gain: 0.1},
	{upTo: 94, gain: 0.08},
	{upTo: 96, gain: 0.04},
	{upTo: 98, gain: 0.02},
	{upTo: 99, gain: 0.01},
	{upTo: 99.4, gain: 0.001},
	{upTo: 99.6, gain: 0.0005},
	{upTo: 99.8, gain: 0.0001},
}

const topBandGain = 0.00005

// MinAccuracyGain is the improvement required at the given best accuracy.
func MinAccuracyGain(best float64) float64 {
	for _, band := range gainBands {
		if best <= band.upTo {
			return band.gain
		}
	}
	return topBandGain
}

// Plateaued reports whether moving from start to best is too small a gain.
func Plateaued(start, best float64) bool {
	return best-start < MinAccuracyGain(best)
}

// Phase names the kind of round being evaluated.
type Phase int

const (
	PhaseSeed Phase = iota
	PhaseSAHyper
	PhaseGAHyper
	PhaseSAWeights
	PhaseGAWeights
)

func (p Phase) String() string {
	switch p {
	case PhaseSeed:
		return "seed"
	case PhaseSAHyper:
		return "sa_hyper"
	case PhaseGAHyper:
		return "ga_hyper"
	case PhaseSAWeights:
		return "sa_weights"
	case PhaseGAWeights:
		return "ga_weights"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// trains reports whether candidates are trained before being tested. Weight
// rounds only test, scoring the searched weights against every row.
func (p Phase) trains() bool {
	return p == PhaseSeed || p == PhaseSAHyper || p == PhaseGAHyper
}

func (p Phase) hyper() bool {
	return p == PhaseSAHyper || p == PhaseGAHyper
}
