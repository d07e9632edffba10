package diffusion

import (
	"fmt"

	"github.com/tsawler/go-diffuse/tensor"
)

// QMeanLogVariance returns the mean and log-variance of the closed-form
// noising distribution q(x_t | x_0), broadcast over x0's shape from the
// per-batch-element timesteps.
func (gd *GaussianDiffusion) QMeanLogVariance(x0, t *tensor.Tensor) (mean, logVariance *tensor.Tensor, err error) {
	idx, err := gd.checkTimesteps(t, x0.Shape[0])
	if err != nil {
		return nil, nil, err
	}

	x0d, err := x0.Float32Data()
	if err != nil {
		return nil, nil, err
	}

	meanData := make([]float32, x0.NumElems)
	batch := x0.Shape[0]
	block := x0.NumElems / batch
	for b := 0; b < batch; b++ {
		c := gd.coeffs.SqrtAlphasCumprod[idx[b]]
		offset := b * block
		for i := 0; i < block; i++ {
			meanData[offset+i] = c * x0d[offset+i]
		}
	}
	mean, err = tensor.New(x0.Shape, tensor.Float32, meanData)
	if err != nil {
		return nil, nil, err
	}

	logVariance, err = extract(gd.coeffs.LogOneMinusAlphasCumprod, idx, x0.Shape)
	if err != nil {
		return nil, nil, err
	}
	return mean, logVariance, nil
}

// QSample diffuses a clean sample to timestep t:
//
//	x_t = sqrt(alphaCumprod[t]) * x0 + sqrt(1 - alphaCumprod[t]) * noise
//
// If noise is nil one standard-normal draw of x0's shape is taken from the
// configured noise source; given the same noise the result is deterministic.
// x0 is never mutated.
func (gd *GaussianDiffusion) QSample(x0, t, noise *tensor.Tensor) (*tensor.Tensor, error) {
	idx, err := gd.checkTimesteps(t, x0.Shape[0])
	if err != nil {
		return nil, err
	}

	if noise == nil {
		noise, err = gd.noise(x0.Shape)
		if err != nil {
			return nil, fmt.Errorf("noise draw failed: %v", err)
		}
	}
	if err := checkSame(x0, noise); err != nil {
		return nil, err
	}

	return combineExtract(gd.coeffs.SqrtAlphasCumprod, x0, gd.coeffs.SqrtOneMinusAlphasCumprod, noise, idx)
}
