package diffusion

import "errors"

// Configuration errors surface at construction or first use; the engine never
// falls back silently on an unrecognized mode.
var (
	ErrUnsupportedSchedule  = errors.New("diffusion: unsupported beta schedule")
	ErrUnsupportedVariance  = errors.New("diffusion: unsupported variance type")
	ErrUnsupportedMean      = errors.New("diffusion: unsupported mean parameterization")
	ErrUnsupportedObjective = errors.New("diffusion: unsupported training objective")
)

// ErrShapeMismatch is returned whenever two tensors that must share a shape
// diverge. Checks run before any numeric work begins.
var ErrShapeMismatch = errors.New("diffusion: shape mismatch")

// ErrDomain is returned for schedule parameters outside their valid range
// (beta values outside (0, 1], fewer than one timestep).
var ErrDomain = errors.New("diffusion: parameter out of domain")
