package diffusion

import (
	"fmt"

	"github.com/tsawler/go-diffuse/tensor"
)

func (gd *GaussianDiffusion) chainLength(extendChain bool) int {
	if extendChain {
		return gd.TotalTimesteps()
	}
	return gd.numTimesteps
}

// SampleLoop generates a batch of samples by iterating the reverse process
// from pure noise at the top of the chain down to t = 0. shape is
// [B, D, N]. With extendChain the loop starts from the extended 2T horizon
// instead. The loop is strictly sequential and runs to completion;
// cancellation policy belongs to the caller.
func (gd *GaussianDiffusion) SampleLoop(denoise DenoiseFunc, shape []int, noiseFn NoiseFunc, clipDenoised, extendChain bool) (*tensor.Tensor, error) {
	if len(shape) < 1 {
		return nil, fmt.Errorf("%w: sample shape must have at least a batch dimension", ErrShapeMismatch)
	}

	xt, err := noiseFn(shape)
	if err != nil {
		return nil, fmt.Errorf("initial noise draw failed: %v", err)
	}

	for t := gd.chainLength(extendChain) - 1; t >= 0; t-- {
		tb, err := tensor.FullInt64([]int{shape[0]}, int64(t))
		if err != nil {
			return nil, err
		}
		xt, _, err = gd.PSample(denoise, xt, tb, noiseFn, clipDenoised)
		if err != nil {
			return nil, fmt.Errorf("reverse step %d failed: %v", t, err)
		}
	}
	return xt, nil
}

// SampleTrajectory runs the same loop while recording snapshots: the initial
// pure-noise tensor, then the state after every step where t is a multiple
// of recordEvery or t is the first iterated value. The snapshots come back
// in iteration order and are useful for visualizing how samples evolve.
func (gd *GaussianDiffusion) SampleTrajectory(denoise DenoiseFunc, shape []int, noiseFn NoiseFunc, recordEvery int, clipDenoised, extendChain bool) ([]*tensor.Tensor, error) {
	if len(shape) < 1 {
		return nil, fmt.Errorf("%w: sample shape must have at least a batch dimension", ErrShapeMismatch)
	}
	if recordEvery < 1 {
		return nil, fmt.Errorf("%w: recordEvery must be >= 1, got %d", ErrDomain, recordEvery)
	}

	totalSteps := gd.chainLength(extendChain)

	xt, err := noiseFn(shape)
	if err != nil {
		return nil, fmt.Errorf("initial noise draw failed: %v", err)
	}
	snapshots := []*tensor.Tensor{xt}

	for t := totalSteps - 1; t >= 0; t-- {
		tb, err := tensor.FullInt64([]int{shape[0]}, int64(t))
		if err != nil {
			return nil, err
		}
		xt, _, err = gd.PSample(denoise, xt, tb, noiseFn, clipDenoised)
		if err != nil {
			return nil, fmt.Errorf("reverse step %d failed: %v", t, err)
		}
		if t%recordEvery == 0 || t == totalSteps-1 {
			snapshots = append(snapshots, xt)
		}
	}
	return snapshots, nil
}
