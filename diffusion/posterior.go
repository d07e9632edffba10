package diffusion

import (
	"github.com/tsawler/go-diffuse/tensor"
)

// QPosterior returns the mean, variance, and clipped log-variance of the
// true diffusion posterior q(x_{t-1} | x_t, x_0):
//
//	mean = posteriorMeanCoef1[t]*x0 + posteriorMeanCoef2[t]*xt
//
// The log-variance uses the table clipped at the variance floor, because the
// posterior variance is exactly 0 at the start of the chain.
func (gd *GaussianDiffusion) QPosterior(x0, xt, t *tensor.Tensor) (mean, variance, logVarianceClipped *tensor.Tensor, err error) {
	if err := checkSame(x0, xt); err != nil {
		return nil, nil, nil, err
	}
	idx, err := gd.checkTimesteps(t, x0.Shape[0])
	if err != nil {
		return nil, nil, nil, err
	}

	mean, err = combineExtract(gd.coeffs.PosteriorMeanCoef1, x0, gd.coeffs.PosteriorMeanCoef2, xt, idx)
	if err != nil {
		return nil, nil, nil, err
	}

	variance, err = extract(gd.coeffs.PosteriorVariance, idx, xt.Shape)
	if err != nil {
		return nil, nil, nil, err
	}

	logVarianceClipped, err = extract(gd.coeffs.PosteriorLogVarianceClipped, idx, xt.Shape)
	if err != nil {
		return nil, nil, nil, err
	}

	return mean, variance, logVarianceClipped, nil
}
