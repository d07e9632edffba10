package diffusion

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/tsawler/go-diffuse/tensor"
)

const cdfFloor = 1e-12

// DiscretizedGaussianLogLikelihood scores data discretized into [0, 1] bins
// against per-element Gaussians given by means and log-scales. Elements at
// the bin edges use the open-ended CDF tails. A decoder diagnostic; the
// engine's training objectives do not depend on it.
func DiscretizedGaussianLogLikelihood(x, means, logScales *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkSame(x, means); err != nil {
		return nil, err
	}
	if err := checkSame(x, logScales); err != nil {
		return nil, err
	}

	xd, err := x.Float32Data()
	if err != nil {
		return nil, err
	}
	md, err := means.Float32Data()
	if err != nil {
		return nil, err
	}
	sd, err := logScales.Float32Data()
	if err != nil {
		return nil, err
	}

	std := distuv.Normal{Mu: 0, Sigma: 1}

	out := make([]float32, x.NumElems)
	for i := range out {
		centered := float64(xd[i] - md[i])
		invStdv := math.Exp(-float64(sd[i]))

		cdfPlus := std.CDF(invStdv * (centered + 0.5))
		cdfMin := std.CDF(invStdv * (centered - 0.5))
		cdfDelta := cdfPlus - cdfMin

		var logProb float64
		switch {
		case float64(xd[i]) < 0.001:
			logProb = math.Log(math.Max(cdfPlus, cdfFloor))
		case float64(xd[i]) > 0.999:
			logProb = math.Log(math.Max(1-cdfMin, cdfFloor))
		default:
			logProb = math.Log(math.Max(cdfDelta, cdfFloor))
		}
		out[i] = float32(logProb)
	}
	return tensor.New(x.Shape, tensor.Float32, out)
}
