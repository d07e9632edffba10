package diffusion

import (
	"fmt"

	"github.com/tsawler/go-diffuse/tensor"
)

// TrainingLosses computes one loss value per batch element. The clean batch
// x0 is noised to the per-element timesteps in t; under the mse objective
// the loss is the squared error between the injected noise and the network's
// noise estimate, reduced over the non-batch dimensions. Under the kl
// objective it is the variational-bound term at t. If noise is nil a single
// draw is taken from the configured noise source.
func (gd *GaussianDiffusion) TrainingLosses(denoise DenoiseFunc, x0, t, noise *tensor.Tensor) (*tensor.Tensor, error) {
	if x0.DType != tensor.Float32 {
		return nil, fmt.Errorf("%w: x0 must be Float32, got %s", ErrShapeMismatch, x0.DType)
	}
	if _, err := gd.checkTimesteps(t, x0.Shape[0]); err != nil {
		return nil, err
	}

	if noise == nil {
		var err error
		noise, err = gd.noise(x0.Shape)
		if err != nil {
			return nil, fmt.Errorf("noise draw failed: %v", err)
		}
	}
	if err := checkSame(x0, noise); err != nil {
		return nil, err
	}

	xt, err := gd.QSample(x0, t, noise)
	if err != nil {
		return nil, err
	}

	switch gd.cfg.Objective {
	case ObjectiveMSE:
		eps, err := denoise(xt, t)
		if err != nil {
			return nil, fmt.Errorf("denoise network failed: %v", err)
		}
		if err := checkSame(x0, eps); err != nil {
			return nil, fmt.Errorf("denoise network output: %w", err)
		}
		diff, err := tensor.Sub(noise, eps)
		if err != nil {
			return nil, err
		}
		sq, err := tensor.Square(diff)
		if err != nil {
			return nil, err
		}
		return tensor.MeanPerExample(sq)
	case ObjectiveKL:
		klBits, _, err := gd.VariationalBoundTerm(denoise, x0, xt, t, false)
		if err != nil {
			return nil, err
		}
		return klBits, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedObjective, gd.cfg.Objective)
	}
}
