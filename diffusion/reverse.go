package diffusion

import (
	"fmt"
	"math"

	"github.com/tsawler/go-diffuse/tensor"
)

// clampRange is the assumed normalization range of the training data; the
// reconstructed clean-sample estimate is clipped to it when requested.
const clampRange = 0.5

// predictXStartFromEps converts a noise estimate into a clean-sample
// estimate:
//
//	x0_hat = sqrt(1/alphaCumprod[t])*xt - sqrt(1/alphaCumprod[t]-1)*eps
func (gd *GaussianDiffusion) predictXStartFromEps(xt, eps *tensor.Tensor, idx []int64) (*tensor.Tensor, error) {
	if err := checkSame(xt, eps); err != nil {
		return nil, err
	}

	xtd, err := xt.Float32Data()
	if err != nil {
		return nil, err
	}
	epsd, err := eps.Float32Data()
	if err != nil {
		return nil, err
	}

	out := make([]float32, xt.NumElems)
	batch := xt.Shape[0]
	block := xt.NumElems / batch
	for b := 0; b < batch; b++ {
		c1 := gd.coeffs.SqrtRecipAlphasCumprod[idx[b]]
		c2 := gd.coeffs.SqrtRecipM1AlphasCumprod[idx[b]]
		offset := b * block
		for i := 0; i < block; i++ {
			out[offset+i] = c1*xtd[offset+i] - c2*epsd[offset+i]
		}
	}
	return tensor.New(xt.Shape, tensor.Float32, out)
}

// modelVarianceTables returns the variance and log-variance tables for the
// configured fixed variance mode.
func (gd *GaussianDiffusion) modelVarianceTables() (variance, logVariance []float32, err error) {
	switch gd.cfg.VarianceType {
	case VarianceFixedSmall:
		return gd.coeffs.PosteriorVariance, gd.coeffs.PosteriorLogVarianceClipped, nil
	case VarianceFixedLarge:
		return gd.coeffs.Betas, gd.coeffs.FixedLargeLogVariance, nil
	default:
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedVariance, gd.cfg.VarianceType)
	}
}

// PMeanVariance runs the denoising network once and turns its prediction
// into the model's approximate reverse-process mean, variance, and
// log-variance, plus the reconstructed clean-sample estimate. When
// clipDenoised is set the estimate is clamped to [-0.5, 0.5] before the
// posterior mean is formed; the data pipeline must normalize to that range.
func (gd *GaussianDiffusion) PMeanVariance(denoise DenoiseFunc, xt, t *tensor.Tensor, clipDenoised bool) (mean, variance, logVariance, xStart *tensor.Tensor, err error) {
	idx, err := gd.checkTimesteps(t, xt.Shape[0])
	if err != nil {
		return nil, nil, nil, nil, err
	}

	eps, err := denoise(xt, t)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("denoise network failed: %v", err)
	}
	if err := checkSame(xt, eps); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("denoise network output: %w", err)
	}

	varTable, logVarTable, err := gd.modelVarianceTables()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	variance, err = extract(varTable, idx, xt.Shape)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	logVariance, err = extract(logVarTable, idx, xt.Shape)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	if gd.cfg.MeanType != MeanEpsilon {
		return nil, nil, nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedMean, gd.cfg.MeanType)
	}

	xStart, err = gd.predictXStartFromEps(xt, eps, idx)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if clipDenoised {
		xStart, err = tensor.Clamp(xStart, -clampRange, clampRange)
		if err != nil {
			return nil, nil, nil, nil, err
		}
	}

	mean, _, _, err = gd.QPosterior(xStart, xt, t)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return mean, variance, logVariance, xStart, nil
}

// nonzeroMask returns a per-batch-element mask broadcast over shape: 1 where
// the timestep is nonzero, 0 where it is zero. The terminal reverse step is
// deterministic, so its noise contribution is masked out exactly.
func nonzeroMask(idx []int64, shape []int) (*tensor.Tensor, error) {
	out, err := tensor.Zeros(shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	data, _ := out.Float32Data()

	batch := shape[0]
	block := out.NumElems / batch
	for b := 0; b < batch; b++ {
		var v float32
		if idx[b] != 0 {
			v = 1
		}
		offset := b * block
		for i := 0; i < block; i++ {
			data[offset+i] = v
		}
	}
	return out, nil
}

// PSample draws one reverse-diffusion sample:
//
//	x_{t-1} = mean + mask * exp(0.5*logVariance) * noise
//
// It also returns the clean-sample estimate the mean was built from. Fresh
// noise is drawn from noiseFn exactly once; for batch elements at t == 0 the
// returned sample equals the posterior mean.
func (gd *GaussianDiffusion) PSample(denoise DenoiseFunc, xt, t *tensor.Tensor, noiseFn NoiseFunc, clipDenoised bool) (sample, xStart *tensor.Tensor, err error) {
	mean, _, logVariance, xStart, err := gd.PMeanVariance(denoise, xt, t, clipDenoised)
	if err != nil {
		return nil, nil, err
	}

	idx, err := gd.checkTimesteps(t, xt.Shape[0])
	if err != nil {
		return nil, nil, err
	}

	noise, err := noiseFn(xt.Shape)
	if err != nil {
		return nil, nil, fmt.Errorf("noise draw failed: %v", err)
	}
	if err := checkSame(xt, noise); err != nil {
		return nil, nil, err
	}

	mask, err := nonzeroMask(idx, xt.Shape)
	if err != nil {
		return nil, nil, err
	}

	meanData, _ := mean.Float32Data()
	logVarData, _ := logVariance.Float32Data()
	noiseData, _ := noise.Float32Data()
	maskData, _ := mask.Float32Data()

	out := make([]float32, xt.NumElems)
	for i := range out {
		sigma := float32(math.Exp(0.5 * float64(logVarData[i])))
		out[i] = meanData[i] + maskData[i]*sigma*noiseData[i]
	}
	sample, err = tensor.New(xt.Shape, tensor.Float32, out)
	if err != nil {
		return nil, nil, err
	}
	return sample, xStart, nil
}
