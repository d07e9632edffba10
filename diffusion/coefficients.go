package diffusion

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// posteriorVarianceFloor keeps log(posterior variance) finite; the true
// posterior variance is exactly 0 at the start of the chain.
const posteriorVarianceFloor = 1e-20

// Coefficients holds every closed-form per-timestep constant the forward and
// reverse processes need, indexed by timestep. All tables are derived once in
// float64 and then cast to the float32 working precision (the cumulative
// product underflows float32 for long schedules).
type Coefficients struct {
	Betas []float32

	AlphasCumprod     []float32
	AlphasCumprodPrev []float32

	SqrtAlphasCumprod         []float32
	SqrtOneMinusAlphasCumprod []float32
	LogOneMinusAlphasCumprod  []float32
	SqrtRecipAlphasCumprod    []float32
	SqrtRecipM1AlphasCumprod  []float32

	PosteriorVariance           []float32
	PosteriorLogVarianceClipped []float32
	PosteriorMeanCoef1          []float32
	PosteriorMeanCoef2          []float32

	// FixedLargeLogVariance is log(beta[t]) for every row except row 1,
	// which uses log(posteriorVariance[1]) instead. The substitution keeps
	// the decoder likelihood finite under the fixed-large variance mode.
	FixedLargeLogVariance []float32
}

// DeriveCoefficients computes the coefficient tables for a beta schedule.
// Pure and deterministic; the same betas always produce identical tables.
func DeriveCoefficients(betas []float64) (*Coefficients, error) {
	if err := validateBetas(betas); err != nil {
		return nil, err
	}

	n := len(betas)

	alphas := make([]float64, n)
	for i, b := range betas {
		alphas[i] = 1 - b
	}

	alphasCumprod := make([]float64, n)
	floats.CumProd(alphasCumprod, alphas)

	alphasCumprodPrev := make([]float64, n)
	alphasCumprodPrev[0] = 1
	copy(alphasCumprodPrev[1:], alphasCumprod[:n-1])

	posteriorVariance := make([]float64, n)
	for t := 0; t < n; t++ {
		posteriorVariance[t] = betas[t] * (1 - alphasCumprodPrev[t]) / (1 - alphasCumprod[t])
	}

	c := &Coefficients{
		Betas:                       make([]float32, n),
		AlphasCumprod:               make([]float32, n),
		AlphasCumprodPrev:           make([]float32, n),
		SqrtAlphasCumprod:           make([]float32, n),
		SqrtOneMinusAlphasCumprod:   make([]float32, n),
		LogOneMinusAlphasCumprod:    make([]float32, n),
		SqrtRecipAlphasCumprod:      make([]float32, n),
		SqrtRecipM1AlphasCumprod:    make([]float32, n),
		PosteriorVariance:           make([]float32, n),
		PosteriorLogVarianceClipped: make([]float32, n),
		PosteriorMeanCoef1:          make([]float32, n),
		PosteriorMeanCoef2:          make([]float32, n),
		FixedLargeLogVariance:       make([]float32, n),
	}

	for t := 0; t < n; t++ {
		ac := alphasCumprod[t]
		acPrev := alphasCumprodPrev[t]

		c.Betas[t] = float32(betas[t])
		c.AlphasCumprod[t] = float32(ac)
		c.AlphasCumprodPrev[t] = float32(acPrev)

		c.SqrtAlphasCumprod[t] = float32(math.Sqrt(ac))
		c.SqrtOneMinusAlphasCumprod[t] = float32(math.Sqrt(1 - ac))
		c.LogOneMinusAlphasCumprod[t] = float32(math.Log(1 - ac))
		c.SqrtRecipAlphasCumprod[t] = float32(math.Sqrt(1 / ac))
		c.SqrtRecipM1AlphasCumprod[t] = float32(math.Sqrt(1/ac - 1))

		c.PosteriorVariance[t] = float32(posteriorVariance[t])
		c.PosteriorLogVarianceClipped[t] = float32(math.Log(math.Max(posteriorVariance[t], posteriorVarianceFloor)))
		c.PosteriorMeanCoef1[t] = float32(betas[t] * math.Sqrt(acPrev) / (1 - ac))
		c.PosteriorMeanCoef2[t] = float32((1 - acPrev) * math.Sqrt(alphas[t]) / (1 - ac))

		c.FixedLargeLogVariance[t] = float32(math.Log(betas[t]))
	}

	if n > 1 {
		c.FixedLargeLogVariance[1] = float32(math.Log(math.Max(posteriorVariance[1], posteriorVarianceFloor)))
	}

	return c, nil
}

// NumTimesteps returns the number of rows in the tables.
func (c *Coefficients) NumTimesteps() int {
	return len(c.Betas)
}
