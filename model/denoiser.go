package model

import (
	"fmt"

	"github.com/tsawler/go-diffuse/tensor"
)

// Denoiser is the denoising network contract: it maps a noisy point-cloud
// batch [B, D, N] and per-batch timesteps [B] to a noise estimate of exactly
// the input shape.
type Denoiser interface {
	Denoise(xt, t *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
}

// GuideFeatures is the conditioning bundle an image encoder produces: a
// pyramid of per-point feature maps plus one global feature vector per batch
// element. The diffusion engine never touches it; it flows opaquely into a
// guided denoiser.
type GuideFeatures struct {
	PointFeatures []*tensor.Tensor // each [B, C_i, N]
	Global        *tensor.Tensor   // [B, C_g]
}

// Validate checks the bundle's batch dimensions agree.
func (g *GuideFeatures) Validate() error {
	if g.Global == nil {
		return fmt.Errorf("guide bundle is missing the global feature vector")
	}
	batch := g.Global.Shape[0]
	for i, f := range g.PointFeatures {
		if f.Shape[0] != batch {
			return fmt.Errorf("guide feature map %d has batch %d, global has %d", i, f.Shape[0], batch)
		}
	}
	return nil
}

// GuidedDenoiser is a denoiser that consumes a conditioning bundle alongside
// the noisy state.
type GuidedDenoiser interface {
	DenoiseGuided(xt, t *tensor.Tensor, guide *GuideFeatures) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
}

// WithGuide closes a guided denoiser over a fixed conditioning bundle,
// yielding the plain two-argument contract the engine expects.
func WithGuide(d GuidedDenoiser, guide *GuideFeatures) Denoiser {
	return &guidedAdapter{inner: d, guide: guide}
}

type guidedAdapter struct {
	inner GuidedDenoiser
	guide *GuideFeatures
}

func (a *guidedAdapter) Denoise(xt, t *tensor.Tensor) (*tensor.Tensor, error) {
	return a.inner.DenoiseGuided(xt, t, a.guide)
}

func (a *guidedAdapter) Parameters() []*tensor.Tensor {
	return a.inner.Parameters()
}

// DenoiseFn adapts a bare function into a Denoiser with no parameters.
type DenoiseFn func(xt, t *tensor.Tensor) (*tensor.Tensor, error)

func (f DenoiseFn) Denoise(xt, t *tensor.Tensor) (*tensor.Tensor, error) {
	return f(xt, t)
}

func (f DenoiseFn) Parameters() []*tensor.Tensor {
	return nil
}
