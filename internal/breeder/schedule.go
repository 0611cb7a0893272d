package breeder

import (
	"fmt"

	"tinman/internal/model"
)

// floorEpsilon absorbs the rounding left behind by repeated step subtraction
// so a schedule reaches its floor after exactly (max-min)/step drops.
const floorEpsilon = 1e-9

// Schedule is a linearly decaying control value. Its ceiling ratchets down on
// every ResetToAdjustedMax and only TotalReset restores it.
type Schedule struct {
	max     float64
	ceiling float64
	current float64
	min     float64
	step    float64
}

func NewSchedule(max, min, step float64) (Schedule, error) {
	if !(min < max) {
		return Schedule{}, fmt.Errorf("%w: schedule min %f must be below max %f", model.ErrConfiguration, min, max)
	}
	if !(step > 0) {
		return Schedule{}, fmt.Errorf("%w: schedule step must be > 0", model.ErrConfiguration)
	}
	return Schedule{max: max, ceiling: max, current: max, min: min, step: step}, nil
}

// Drop lowers the current value by one step, clamped to the floor.
func (s *Schedule) Drop() {
	s.current -= s.step
	if s.current < s.min {
		s.current = s.min
	}
}

// ResetToAdjustedMax lowers the ceiling by one step, clamped to the floor, and
// restarts the current value from it.
func (s *Schedule) ResetToAdjustedMax() {
	s.ceiling -= s.step
	if s.ceiling < s.min {
		s.ceiling = s.min
	}
	s.current = s.ceiling
}

func (s *Schedule) MinReached() bool {
	return s.current <= s.min+floorEpsilon
}

func (s *Schedule) MinCeilingReached() bool {
	return s.ceiling <= s.min+floorEpsilon
}

func (s *Schedule) TotalReset() {
	s.ceiling = s.max
	s.current = s.max
}

func (s Schedule) Current() float64 { return s.current }
func (s Schedule) Ceiling() float64 { return s.ceiling }
func (s Schedule) Max() float64     { return s.max }
func (s Schedule) Min() float64     { return s.min }
func (s Schedule) Step() float64    { return s.step }
