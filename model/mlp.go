package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-diffuse/tensor"
)

// PointMLP is a lightweight shared-weight per-point denoiser: every point's
// feature vector is concatenated with a sinusoidal timestep embedding and
// pushed through a two-hidden-layer tanh MLP back to the feature
// dimensionality. It is the runnable stand-in for a production point-cloud
// backbone, with an explicit Backward so the trainer needs no autograd.
type PointMLP struct {
	dim      int // per-point feature dimensionality D
	embedDim int
	hidden   int

	w1, b1 *tensor.Tensor // [H, D+E], [H]
	w2, b2 *tensor.Tensor // [H, H], [H]
	w3, b3 *tensor.Tensor // [D, H], [D]

	// forward caches consumed by Backward
	lastInput  []float32 // [B*N, D+E]
	lastH1     []float32 // [B*N, H]
	lastH2     []float32 // [B*N, H]
	lastBatch  int
	lastPoints int
}

// NewPointMLP builds a denoiser for D-dimensional points. embedDim must be
// even; hidden controls the width of both hidden layers.
func NewPointMLP(dim, embedDim, hidden int, rng *rand.Rand) (*PointMLP, error) {
	if dim < 1 || hidden < 1 {
		return nil, fmt.Errorf("dim and hidden must be positive, got %d and %d", dim, hidden)
	}
	if embedDim < 2 || embedDim%2 != 0 {
		return nil, fmt.Errorf("embedDim must be even and >= 2, got %d", embedDim)
	}

	m := &PointMLP{dim: dim, embedDim: embedDim, hidden: hidden}

	var err error
	in := dim + embedDim
	if m.w1, err = xavierInit([]int{hidden, in}, in, rng); err != nil {
		return nil, err
	}
	if m.w2, err = xavierInit([]int{hidden, hidden}, hidden, rng); err != nil {
		return nil, err
	}
	if m.w3, err = xavierInit([]int{dim, hidden}, hidden, rng); err != nil {
		return nil, err
	}
	if m.b1, err = tensor.Zeros([]int{hidden}, tensor.Float32); err != nil {
		return nil, err
	}
	if m.b2, err = tensor.Zeros([]int{hidden}, tensor.Float32); err != nil {
		return nil, err
	}
	if m.b3, err = tensor.Zeros([]int{dim}, tensor.Float32); err != nil {
		return nil, err
	}

	for _, p := range m.Parameters() {
		p.SetRequiresGrad(true)
	}
	return m, nil
}

func xavierInit(shape []int, fanIn int, rng *rand.Rand) (*tensor.Tensor, error) {
	t, err := tensor.Randn(shape, rng)
	if err != nil {
		return nil, err
	}
	return tensor.Scale(t, float32(1/math.Sqrt(float64(fanIn))))
}

// Parameters returns the trainable tensors in a stable order.
func (m *PointMLP) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{m.w1, m.b1, m.w2, m.b2, m.w3, m.b3}
}

// ParameterNames returns names aligned index-for-index with Parameters.
func (m *PointMLP) ParameterNames() []string {
	return []string{"w1", "b1", "w2", "b2", "w3", "b3"}
}

func (m *PointMLP) Dim() int      { return m.dim }
func (m *PointMLP) EmbedDim() int { return m.embedDim }
func (m *PointMLP) Hidden() int   { return m.hidden }

// timeEmbedding fills a sinusoidal embedding of the scalar timestep.
func (m *PointMLP) timeEmbedding(t int64, dst []float32) {
	half := m.embedDim / 2
	for k := 0; k < half; k++ {
		freq := math.Exp(-math.Log(10000) * float64(k) / float64(half))
		angle := float64(t) * freq
		dst[k] = float32(math.Sin(angle))
		dst[half+k] = float32(math.Cos(angle))
	}
}

// Denoise maps [B, D, N] points and [B] timesteps to an [B, D, N] noise
// estimate, caching activations for Backward.
func (m *PointMLP) Denoise(xt, t *tensor.Tensor) (*tensor.Tensor, error) {
	if len(xt.Shape) != 3 {
		return nil, fmt.Errorf("expected [B, D, N] input, got shape %v", xt.Shape)
	}
	batch, dim, points := xt.Shape[0], xt.Shape[1], xt.Shape[2]
	if dim != m.dim {
		return nil, fmt.Errorf("denoiser built for %d feature dims, input has %d", m.dim, dim)
	}

	xd, err := xt.Float32Data()
	if err != nil {
		return nil, err
	}
	td, err := t.Int64Data()
	if err != nil {
		return nil, err
	}
	if len(td) != batch {
		return nil, fmt.Errorf("timestep tensor has %d entries for batch %d", len(td), batch)
	}

	in := m.dim + m.embedDim
	total := batch * points
	m.lastInput = make([]float32, total*in)
	m.lastH1 = make([]float32, total*m.hidden)
	m.lastH2 = make([]float32, total*m.hidden)
	m.lastBatch = batch
	m.lastPoints = points

	w1, _ := m.w1.Float32Data()
	b1, _ := m.b1.Float32Data()
	w2, _ := m.w2.Float32Data()
	b2, _ := m.b2.Float32Data()
	w3, _ := m.w3.Float32Data()
	b3, _ := m.b3.Float32Data()

	out := make([]float32, batch*dim*points)
	embed := make([]float32, m.embedDim)

	for b := 0; b < batch; b++ {
		m.timeEmbedding(td[b], embed)
		for p := 0; p < points; p++ {
			row := b*points + p
			u := m.lastInput[row*in : (row+1)*in]
			for d := 0; d < dim; d++ {
				u[d] = xd[(b*dim+d)*points+p]
			}
			copy(u[dim:], embed)

			h1 := m.lastH1[row*m.hidden : (row+1)*m.hidden]
			for j := 0; j < m.hidden; j++ {
				sum := b1[j]
				wRow := w1[j*in : (j+1)*in]
				for k := 0; k < in; k++ {
					sum += wRow[k] * u[k]
				}
				h1[j] = float32(math.Tanh(float64(sum)))
			}

			h2 := m.lastH2[row*m.hidden : (row+1)*m.hidden]
			for j := 0; j < m.hidden; j++ {
				sum := b2[j]
				wRow := w2[j*m.hidden : (j+1)*m.hidden]
				for k := 0; k < m.hidden; k++ {
					sum += wRow[k] * h1[k]
				}
				h2[j] = float32(math.Tanh(float64(sum)))
			}

			for d := 0; d < dim; d++ {
				sum := b3[d]
				wRow := w3[d*m.hidden : (d+1)*m.hidden]
				for k := 0; k < m.hidden; k++ {
					sum += wRow[k] * h2[k]
				}
				out[(b*dim+d)*points+p] = sum
			}
		}
	}

	return tensor.New([]int{batch, dim, points}, tensor.Float32, out)
}

// Backward accumulates parameter gradients for the most recent Denoise call
// given the loss gradient with respect to its output.
func (m *PointMLP) Backward(gradOut *tensor.Tensor) error {
	if m.lastInput == nil {
		return fmt.Errorf("Backward called before Denoise")
	}
	batch, points := m.lastBatch, m.lastPoints
	if len(gradOut.Shape) != 3 || gradOut.Shape[0] != batch || gradOut.Shape[1] != m.dim || gradOut.Shape[2] != points {
		return fmt.Errorf("gradient shape %v does not match forward shape [%d %d %d]", gradOut.Shape, batch, m.dim, points)
	}
	gd, err := gradOut.Float32Data()
	if err != nil {
		return err
	}

	in := m.dim + m.embedDim
	w2, _ := m.w2.Float32Data()
	w3, _ := m.w3.Float32Data()

	gw1 := make([]float32, m.hidden*in)
	gb1 := make([]float32, m.hidden)
	gw2 := make([]float32, m.hidden*m.hidden)
	gb2 := make([]float32, m.hidden)
	gw3 := make([]float32, m.dim*m.hidden)
	gb3 := make([]float32, m.dim)

	gh2 := make([]float32, m.hidden)
	gz2 := make([]float32, m.hidden)
	gh1 := make([]float32, m.hidden)
	gz1 := make([]float32, m.hidden)

	for b := 0; b < batch; b++ {
		for p := 0; p < points; p++ {
			row := b*points + p
			u := m.lastInput[row*in : (row+1)*in]
			h1 := m.lastH1[row*m.hidden : (row+1)*m.hidden]
			h2 := m.lastH2[row*m.hidden : (row+1)*m.hidden]

			for j := range gh2 {
				gh2[j] = 0
			}
			for d := 0; d < m.dim; d++ {
				g := gd[(b*m.dim+d)*points+p]
				gb3[d] += g
				wRow := w3[d*m.hidden : (d+1)*m.hidden]
				for k := 0; k < m.hidden; k++ {
					gw3[d*m.hidden+k] += g * h2[k]
					gh2[k] += g * wRow[k]
				}
			}

			for j := 0; j < m.hidden; j++ {
				gz2[j] = gh2[j] * (1 - h2[j]*h2[j])
				gb2[j] += gz2[j]
			}
			for j := range gh1 {
				gh1[j] = 0
			}
			for j := 0; j < m.hidden; j++ {
				wRow := w2[j*m.hidden : (j+1)*m.hidden]
				for k := 0; k < m.hidden; k++ {
					gw2[j*m.hidden+k] += gz2[j] * h1[k]
					gh1[k] += gz2[j] * wRow[k]
				}
			}

			for j := 0; j < m.hidden; j++ {
				gz1[j] = gh1[j] * (1 - h1[j]*h1[j])
				gb1[j] += gz1[j]
				for k := 0; k < in; k++ {
					gw1[j*in+k] += gz1[j] * u[k]
				}
			}
		}
	}

	grads := []struct {
		param *tensor.Tensor
		data  []float32
		shape []int
	}{
		{m.w1, gw1, []int{m.hidden, in}},
		{m.b1, gb1, []int{m.hidden}},
		{m.w2, gw2, []int{m.hidden, m.hidden}},
		{m.b2, gb2, []int{m.hidden}},
		{m.w3, gw3, []int{m.dim, m.hidden}},
		{m.b3, gb3, []int{m.dim}},
	}
	for _, g := range grads {
		gt, err := tensor.New(g.shape, tensor.Float32, g.data)
		if err != nil {
			return err
		}
		if err := g.param.AccumulateGrad(gt); err != nil {
			return err
		}
	}
	return nil
}
