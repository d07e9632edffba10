package diffusion

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-diffuse/tensor"
)

// Objective selects the training loss.
type Objective int

const (
	// ObjectiveMSE regresses the injected noise (simple objective).
	ObjectiveMSE Objective = iota
	// ObjectiveKL trains on the full variational-bound term.
	ObjectiveKL
)

func (o Objective) String() string {
	switch o {
	case ObjectiveMSE:
		return "mse"
	case ObjectiveKL:
		return "kl"
	default:
		return "unknown"
	}
}

// ParseObjective resolves an objective name from the configuration surface.
func ParseObjective(name string) (Objective, error) {
	switch name {
	case "mse":
		return ObjectiveMSE, nil
	case "kl":
		return ObjectiveKL, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedObjective, name)
	}
}

// MeanType selects how the denoising network's output parameterizes the
// reverse-process mean.
type MeanType int

// MeanEpsilon interprets the network output as a noise estimate, converted
// to a clean-sample estimate before the posterior mean is formed. It is the
// only supported parameterization.
const MeanEpsilon MeanType = iota

func (m MeanType) String() string {
	if m == MeanEpsilon {
		return "eps"
	}
	return "unknown"
}

// ParseMeanType resolves a mean-parameterization name.
func ParseMeanType(name string) (MeanType, error) {
	if name == "eps" {
		return MeanEpsilon, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedMean, name)
}

// VarianceType selects the (fixed, non-learned) reverse-process variance.
type VarianceType int

const (
	// VarianceFixedSmall uses the true posterior's clipped variance tables.
	VarianceFixedSmall VarianceType = iota
	// VarianceFixedLarge uses beta[t], with the row-1 log-variance
	// substitution (see Coefficients.FixedLargeLogVariance).
	VarianceFixedLarge
)

func (v VarianceType) String() string {
	switch v {
	case VarianceFixedSmall:
		return "fixedsmall"
	case VarianceFixedLarge:
		return "fixedlarge"
	default:
		return "unknown"
	}
}

// ParseVarianceType resolves a variance-mode name.
func ParseVarianceType(name string) (VarianceType, error) {
	switch name {
	case "fixedsmall":
		return VarianceFixedSmall, nil
	case "fixedlarge":
		return VarianceFixedLarge, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedVariance, name)
	}
}

// DenoiseFunc is the external denoising network: it maps a noisy state
// tensor [B, D, N] and a per-batch timestep tensor [B] to a noise estimate
// with exactly the state's shape. Any conditioning (guide features) is
// closed over by the caller. The engine never invokes it concurrently with
// itself.
type DenoiseFunc func(xt, t *tensor.Tensor) (*tensor.Tensor, error)

// NoiseFunc draws a standard-normal tensor of the requested shape. The
// engine calls it exactly once per forward-noising call and once per reverse
// step, so a seeded source replays deterministically.
type NoiseFunc func(shape []int) (*tensor.Tensor, error)

// GaussianNoise returns a NoiseFunc backed by rng.
func GaussianNoise(rng *rand.Rand) NoiseFunc {
	return func(shape []int) (*tensor.Tensor, error) {
		return tensor.Randn(shape, rng)
	}
}

func defaultNoise(shape []int) (*tensor.Tensor, error) {
	t, err := tensor.Zeros(shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	d, _ := t.Float32Data()
	for i := range d {
		d[i] = float32(rand.NormFloat64())
	}
	return t, nil
}

// Config is the construction surface of the engine.
type Config struct {
	Schedule  SchedulePolicy
	BetaStart float64
	BetaEnd   float64
	Timesteps int

	Objective    Objective
	MeanType     MeanType
	VarianceType VarianceType

	// Noise supplies forward-process randomness when QSample is called
	// without an explicit noise tensor. Defaults to the global source.
	Noise NoiseFunc
}

// GaussianDiffusion is the diffusion probabilistic engine. It is immutable
// after construction and safe to share across goroutines; all randomness
// enters through the caller-provided noise functions.
type GaussianDiffusion struct {
	cfg          Config
	numTimesteps int
	coeffs       *Coefficients
	noise        NoiseFunc
}

// New derives the noise schedule and coefficient tables and validates every
// configured mode. The tables cover twice the configured timesteps, the
// second half repeating the final beta, so an extended sampling chain needs
// no reconstruction.
func New(cfg Config) (*GaussianDiffusion, error) {
	betas, err := MakeBetaSchedule(cfg.Schedule, cfg.BetaStart, cfg.BetaEnd, cfg.Timesteps)
	if err != nil {
		return nil, err
	}
	return NewFromBetas(cfg, betas)
}

// NewFromBetas builds the engine over an explicit schedule, bypassing the
// schedule policy in cfg.
func NewFromBetas(cfg Config, betas []float64) (*GaussianDiffusion, error) {
	switch cfg.Objective {
	case ObjectiveMSE, ObjectiveKL:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedObjective, cfg.Objective)
	}
	if cfg.MeanType != MeanEpsilon {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMean, cfg.MeanType)
	}
	switch cfg.VarianceType {
	case VarianceFixedSmall, VarianceFixedLarge:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVariance, cfg.VarianceType)
	}

	if err := validateBetas(betas); err != nil {
		return nil, err
	}

	coeffs, err := DeriveCoefficients(extendBetas(betas))
	if err != nil {
		return nil, err
	}

	noise := cfg.Noise
	if noise == nil {
		noise = defaultNoise
	}

	return &GaussianDiffusion{
		cfg:          cfg,
		numTimesteps: len(betas),
		coeffs:       coeffs,
		noise:        noise,
	}, nil
}

// NumTimesteps returns the trained chain length T.
func (gd *GaussianDiffusion) NumTimesteps() int {
	return gd.numTimesteps
}

// TotalTimesteps returns the extended chain length 2T available to
// keep-running sampling.
func (gd *GaussianDiffusion) TotalTimesteps() int {
	return gd.coeffs.NumTimesteps()
}

// Coefficients exposes the derived tables (read-only by convention).
func (gd *GaussianDiffusion) Coefficients() *Coefficients {
	return gd.coeffs
}

// Objective returns the configured training objective.
func (gd *GaussianDiffusion) Objective() Objective {
	return gd.cfg.Objective
}

// checkTimesteps verifies t is an Int64 [B] tensor whose entries index the
// coefficient tables.
func (gd *GaussianDiffusion) checkTimesteps(t *tensor.Tensor, batch int) ([]int64, error) {
	if t.DType != tensor.Int64 {
		return nil, fmt.Errorf("%w: timestep tensor must be Int64, got %s", ErrShapeMismatch, t.DType)
	}
	if len(t.Shape) != 1 || t.Shape[0] != batch {
		return nil, fmt.Errorf("%w: timestep tensor must have shape [%d], got %v", ErrShapeMismatch, batch, t.Shape)
	}
	idx, err := t.Int64Data()
	if err != nil {
		return nil, err
	}
	rows := int64(gd.coeffs.NumTimesteps())
	for b, v := range idx {
		if v < 0 || v >= rows {
			return nil, fmt.Errorf("%w: timestep %d for batch element %d outside [0, %d)", ErrDomain, v, b, rows)
		}
	}
	return idx, nil
}

// extract broadcasts table[t[b]] across the non-batch dimensions of shape.
func extract(table []float32, idx []int64, shape []int) (*tensor.Tensor, error) {
	out, err := tensor.Zeros(shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	data, _ := out.Float32Data()

	batch := shape[0]
	block := out.NumElems / batch
	for b := 0; b < batch; b++ {
		v := table[idx[b]]
		offset := b * block
		for i := 0; i < block; i++ {
			data[offset+i] = v
		}
	}
	return out, nil
}

// combineExtract computes coef1[t[b]]*x + coef2[t[b]]*y elementwise, the fused
// form both the forward noising and posterior mean reduce to.
func combineExtract(coef1 []float32, x *tensor.Tensor, coef2 []float32, y *tensor.Tensor, idx []int64) (*tensor.Tensor, error) {
	if err := checkSame(x, y); err != nil {
		return nil, err
	}
	xd, err := x.Float32Data()
	if err != nil {
		return nil, err
	}
	yd, err := y.Float32Data()
	if err != nil {
		return nil, err
	}

	out := make([]float32, x.NumElems)
	batch := x.Shape[0]
	block := x.NumElems / batch
	for b := 0; b < batch; b++ {
		c1 := coef1[idx[b]]
		c2 := coef2[idx[b]]
		offset := b * block
		for i := 0; i < block; i++ {
			out[offset+i] = c1*xd[offset+i] + c2*yd[offset+i]
		}
	}
	return tensor.New(x.Shape, tensor.Float32, out)
}

func checkSame(t1, t2 *tensor.Tensor) error {
	if !tensor.SameShape(t1, t2) {
		return fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, t1.Shape, t2.Shape)
	}
	return nil
}
