package diffusion

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// SchedulePolicy selects how the noise-variance schedule is laid out over the
// diffusion timesteps.
type SchedulePolicy int

const (
	// ScheduleLinear spaces the betas evenly from start to end.
	ScheduleLinear SchedulePolicy = iota
	// ScheduleWarm10 ramps linearly over the first 10% of the steps, then
	// holds the final beta. Warm20 and Warm50 ramp over 20% and 50%.
	ScheduleWarm10
	ScheduleWarm20
	ScheduleWarm50
)

func (sp SchedulePolicy) String() string {
	switch sp {
	case ScheduleLinear:
		return "linear"
	case ScheduleWarm10:
		return "warm0.1"
	case ScheduleWarm20:
		return "warm0.2"
	case ScheduleWarm50:
		return "warm0.5"
	default:
		return "unknown"
	}
}

// ParseSchedulePolicy resolves a policy name from the configuration surface.
func ParseSchedulePolicy(name string) (SchedulePolicy, error) {
	switch name {
	case "linear":
		return ScheduleLinear, nil
	case "warm0.1":
		return ScheduleWarm10, nil
	case "warm0.2":
		return ScheduleWarm20, nil
	case "warm0.5":
		return ScheduleWarm50, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedSchedule, name)
	}
}

func (sp SchedulePolicy) warmupFraction() (float64, bool) {
	switch sp {
	case ScheduleWarm10:
		return 0.1, true
	case ScheduleWarm20:
		return 0.2, true
	case ScheduleWarm50:
		return 0.5, true
	default:
		return 0, false
	}
}

// linspace fills dst with n evenly spaced values from start to end. Unlike
// floats.Span it tolerates n < 2.
func linspace(start, end float64, n int) []float64 {
	dst := make([]float64, n)
	switch n {
	case 0:
	case 1:
		dst[0] = start
	default:
		floats.Span(dst, start, end)
	}
	return dst
}

// MakeBetaSchedule derives the per-timestep noise variances. Every beta lies
// in (0, 1] and the sequence is immutable after construction.
func MakeBetaSchedule(policy SchedulePolicy, betaStart, betaEnd float64, timesteps int) ([]float64, error) {
	if timesteps < 1 {
		return nil, fmt.Errorf("%w: timesteps must be >= 1, got %d", ErrDomain, timesteps)
	}
	if betaStart <= 0 || betaEnd > 1 || betaStart > betaEnd {
		return nil, fmt.Errorf("%w: betas must satisfy 0 < start <= end <= 1, got start=%g end=%g", ErrDomain, betaStart, betaEnd)
	}

	if frac, ok := policy.warmupFraction(); ok {
		betas := make([]float64, timesteps)
		for i := range betas {
			betas[i] = betaEnd
		}
		warmup := int(float64(timesteps) * frac)
		copy(betas, linspace(betaStart, betaEnd, warmup))
		return betas, nil
	}

	if policy != ScheduleLinear {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedSchedule, policy)
	}
	return linspace(betaStart, betaEnd, timesteps), nil
}

func validateBetas(betas []float64) error {
	if len(betas) < 1 {
		return fmt.Errorf("%w: schedule must contain at least one beta", ErrDomain)
	}
	for i, b := range betas {
		if b <= 0 || b > 1 {
			return fmt.Errorf("%w: beta[%d] = %g outside (0, 1]", ErrDomain, i, b)
		}
	}
	return nil
}

// extendBetas doubles the schedule by repeating the final beta, so a sampling
// chain can keep running past the trained horizon.
func extendBetas(betas []float64) []float64 {
	extended := make([]float64, 2*len(betas))
	copy(extended, betas)
	last := betas[len(betas)-1]
	for i := len(betas); i < len(extended); i++ {
		extended[i] = last
	}
	return extended
}
