package model

import (
	"math/rand"

	"github.com/tsawler/go-diffuse/diffusion"
	"github.com/tsawler/go-diffuse/tensor"
)

// PointModel ties a diffusion engine to a denoising network. It owns the
// per-minibatch timestep draws during training and forwards generation calls
// to the engine's sampling loops.
type PointModel struct {
	engine   *diffusion.GaussianDiffusion
	denoiser Denoiser
	rng      *rand.Rand
}

// NewPointModel wraps an engine and a denoiser. rng drives the training
// timestep draws and the refresh of caller-provided init noises.
func NewPointModel(engine *diffusion.GaussianDiffusion, denoiser Denoiser, rng *rand.Rand) *PointModel {
	return &PointModel{engine: engine, denoiser: denoiser, rng: rng}
}

func (pm *PointModel) Engine() *diffusion.GaussianDiffusion {
	return pm.engine
}

func (pm *PointModel) Denoiser() Denoiser {
	return pm.denoiser
}

func (pm *PointModel) denoiseFn() diffusion.DenoiseFunc {
	return pm.denoiser.Denoise
}

// LossIter draws one uniform timestep per batch element and returns the
// per-example training losses together with the timesteps and the noise that
// was injected. When initNoises is provided, elements drawn at a nonzero
// timestep get a fresh draw instead, so only the first chain step ever sees
// the fixed per-example noise.
func (pm *PointModel) LossIter(data, initNoises *tensor.Tensor) (losses, t, noise *tensor.Tensor, err error) {
	batch := data.Shape[0]
	T := pm.engine.NumTimesteps()

	tData := make([]int64, batch)
	for b := range tData {
		tData[b] = int64(pm.rng.Intn(T))
	}
	t, err = tensor.New([]int{batch}, tensor.Int64, tData)
	if err != nil {
		return nil, nil, nil, err
	}

	if initNoises != nil {
		noise, err = initNoises.Clone()
		if err != nil {
			return nil, nil, nil, err
		}
		nd, err2 := noise.Float32Data()
		if err2 != nil {
			return nil, nil, nil, err2
		}
		block := noise.NumElems / batch
		for b := 0; b < batch; b++ {
			if tData[b] == 0 {
				continue
			}
			offset := b * block
			for i := 0; i < block; i++ {
				nd[offset+i] = float32(pm.rng.NormFloat64())
			}
		}
	} else {
		noise, err = tensor.Randn(data.Shape, pm.rng)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	losses, err = pm.engine.TrainingLosses(pm.denoiseFn(), data, t, noise)
	if err != nil {
		return nil, nil, nil, err
	}
	return losses, t, noise, nil
}

// GenSamples runs the full reverse chain and returns a generated batch.
func (pm *PointModel) GenSamples(shape []int, noiseFn diffusion.NoiseFunc, clipDenoised, keepRunning bool) (*tensor.Tensor, error) {
	return pm.engine.SampleLoop(pm.denoiseFn(), shape, noiseFn, clipDenoised, keepRunning)
}

// GenSampleTrajectory runs the reverse chain while recording snapshots every
// freq steps for visualization.
func (pm *PointModel) GenSampleTrajectory(shape []int, noiseFn diffusion.NoiseFunc, freq int, clipDenoised, keepRunning bool) ([]*tensor.Tensor, error) {
	return pm.engine.SampleTrajectory(pm.denoiseFn(), shape, noiseFn, freq, clipDenoised, keepRunning)
}

// PriorKL returns the per-example final-noising-step cost in bits.
func (pm *PointModel) PriorKL(x0 *tensor.Tensor) (*tensor.Tensor, error) {
	return pm.engine.PriorBound(x0)
}

// AllKL evaluates the full variational bound for a clean batch.
func (pm *PointModel) AllKL(x0 *tensor.Tensor, clipDenoised bool) (*diffusion.BoundReport, error) {
	return pm.engine.BoundLoop(pm.denoiseFn(), x0, clipDenoised)
}
