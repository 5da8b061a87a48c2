package sweep

import (
	"fmt"
)

// Setting is a single exposure configuration point under test. The shutter
// mode and pixel format are fixed for a whole run and live in the run
// parameters, not here.
type Setting struct {
	ExposureUs int
}

func (s Setting) String() string {
	return fmt.Sprintf("%dus", s.ExposureUs)
}

// FromList returns one Setting per value, in the given order.
func FromList(exposuresUs []int) []Setting {
	out := make([]Setting, 0, len(exposuresUs))
	for _, e := range exposuresUs {
		out = append(out, Setting{ExposureUs: e})
	}
	return out
}

// FromRange returns start, start+step, ... up to and including stop.
// A negative step counts down.
func FromRange(start, stop, step int) ([]Setting, error) {
	if step == 0 {
		return nil, fmt.Errorf("sweep step must not be zero")
	}
	if (step > 0 && start > stop) || (step < 0 && start < stop) {
		return nil, fmt.Errorf("sweep range %d..%d never reached with step %d", start, stop, step)
	}
	// Unsigned distance to stop, so e never steps past the int limits.
	left, stride := uint(stop)-uint(start), uint(step)
	if step < 0 {
		left, stride = uint(start)-uint(stop), -uint(step)
	}
	var out []Setting
	for e := start; ; e += step {
		out = append(out, Setting{ExposureUs: e})
		if left < stride {
			break
		}
		left -= stride
	}
	return out, nil
}

// Plan is an ordered exposure sweep with a repetition count per setting.
type Plan struct {
	Settings    []Setting
	Repetitions int
}

// NewPlan validates settings and returns a Plan. Settings must be positive
// and monotonically ordered (either direction); their order is kept.
func NewPlan(settings []Setting, repetitions int) (*Plan, error) {
	if len(settings) == 0 {
		return nil, fmt.Errorf("sweep has no exposure settings")
	}
	if repetitions < 1 {
		return nil, fmt.Errorf("repetitions must be >= 1, got %d", repetitions)
	}
	for i, s := range settings {
		if s.ExposureUs <= 0 {
			return nil, fmt.Errorf("exposure #%d must be > 0 us, got %d", i+1, s.ExposureUs)
		}
	}
	if !monotonic(settings) {
		return nil, fmt.Errorf("exposure sweep must be monotonically ordered")
	}
	cp := make([]Setting, len(settings))
	copy(cp, settings)
	return &Plan{Settings: cp, Repetitions: repetitions}, nil
}

func monotonic(s []Setting) bool {
	up, down := true, true
	for i := 1; i < len(s); i++ {
		if s[i].ExposureUs < s[i-1].ExposureUs {
			up = false
		}
		if s[i].ExposureUs > s[i-1].ExposureUs {
			down = false
		}
	}
	return up || down
}

// Attempts returns the number of capture attempts the plan performs when no
// setting is skipped.
func (p *Plan) Attempts() int {
	return len(p.Settings) * p.Repetitions
}

// Values returns the exposure values in sweep order.
func (p *Plan) Values() []int {
	out := make([]int, len(p.Settings))
	for i, s := range p.Settings {
		out[i] = s.ExposureUs
	}
	return out
}
