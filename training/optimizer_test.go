package training

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-diffuse/tensor"
)

func newParam(t *testing.T, values []float32) *tensor.Tensor {
	t.Helper()
	p, err := tensor.New([]int{len(values)}, tensor.Float32, values)
	require.NoError(t, err)
	p.SetRequiresGrad(true)
	return p
}

func setGrad(t *testing.T, p *tensor.Tensor, values []float32) {
	t.Helper()
	g, err := tensor.New([]int{len(values)}, tensor.Float32, values)
	require.NoError(t, err)
	require.NoError(t, p.SetGrad(g))
}

func TestSGDStep(t *testing.T) {
	p := newParam(t, []float32{1.0, -2.0})
	sgd := NewSGD([]*tensor.Tensor{p}, 0.1, 0, 0)

	setGrad(t, p, []float32{0.5, -1.0})
	require.NoError(t, sgd.Step())

	data, err := p.Float32Data()
	require.NoError(t, err)
	assert.InDelta(t, 0.95, data[0], 1e-6)
	assert.InDelta(t, -1.9, data[1], 1e-6)
}

func TestSGDMomentumAccumulates(t *testing.T) {
	p := newParam(t, []float32{0})
	sgd := NewSGD([]*tensor.Tensor{p}, 1.0, 0.9, 0)

	// Constant gradient of 1: steps shrink the parameter by 1, then 1.9.
	setGrad(t, p, []float32{1})
	require.NoError(t, sgd.Step())
	setGrad(t, p, []float32{1})
	require.NoError(t, sgd.Step())

	data, err := p.Float32Data()
	require.NoError(t, err)
	assert.InDelta(t, -2.9, data[0], 1e-5)
}

func TestAdamConvergesOnQuadratic(t *testing.T) {
	p := newParam(t, []float32{5.0})
	adam := NewAdam([]*tensor.Tensor{p}, 0.1, 0.9, 0.999, 1e-8, 0)

	// Minimize (x - 3)^2 with analytic gradient 2(x - 3).
	for i := 0; i < 500; i++ {
		data, err := p.Float32Data()
		require.NoError(t, err)
		setGrad(t, p, []float32{2 * (data[0] - 3)})
		require.NoError(t, adam.Step())
	}

	data, err := p.Float32Data()
	require.NoError(t, err)
	assert.InDelta(t, 3.0, data[0], 1e-2)
}

func TestAdamSkipsParamsWithoutGrad(t *testing.T) {
	p := newParam(t, []float32{1.0})
	adam := NewAdam([]*tensor.Tensor{p}, 0.1, 0.9, 0.999, 1e-8, 0)

	require.NoError(t, adam.Step())

	data, err := p.Float32Data()
	require.NoError(t, err)
	assert.Equal(t, float32(1.0), data[0])
}

func TestAdamStateRoundTrip(t *testing.T) {
	p := newParam(t, []float32{1.0, 2.0})
	adam := NewAdam([]*tensor.Tensor{p}, 0.01, 0.9, 0.999, 1e-8, 0)
	setGrad(t, p, []float32{0.3, -0.7})
	require.NoError(t, adam.Step())

	m1, m2 := adam.StateTensors()
	require.Len(t, m1, 1)
	require.Len(t, m2, 1)

	// Restore into a second optimizer whose parameter starts from the
	// same post-step values.
	stepped, err := p.Float32Data()
	require.NoError(t, err)
	p2 := newParam(t, append([]float32(nil), stepped...))
	adam2 := NewAdam([]*tensor.Tensor{p2}, 0.01, 0.9, 0.999, 1e-8, 0)
	require.NoError(t, adam2.LoadStateTensors(m1, m2))
	adam2.SetStepCount(adam.StepCount())

	// Same gradient must produce the same next update.
	setGrad(t, p, []float32{0.1, 0.1})
	setGrad(t, p2, []float32{0.1, 0.1})

	require.NoError(t, adam.Step())
	require.NoError(t, adam2.Step())

	after1, _ := p.Float32Data()
	after2, _ := p2.Float32Data()
	assert.InDelta(t, after1[0], after2[0], 1e-7)
	assert.InDelta(t, after1[1], after2[1], 1e-7)
}

func TestClipGradNorm(t *testing.T) {
	p := newParam(t, []float32{0, 0})
	setGrad(t, p, []float32{3, 4}) // norm 5

	norm, err := ClipGradNorm([]*tensor.Tensor{p}, 1.0)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, norm, 1e-6)

	grad, err := p.Grad().Float32Data()
	require.NoError(t, err)
	clipped := math.Sqrt(float64(grad[0]*grad[0] + grad[1]*grad[1]))
	assert.InDelta(t, 1.0, clipped, 1e-3)
}

func TestClipGradNormBelowThresholdUnchanged(t *testing.T) {
	p := newParam(t, []float32{0, 0})
	setGrad(t, p, []float32{0.3, 0.4})

	norm, err := ClipGradNorm([]*tensor.Tensor{p}, 10.0)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, norm, 1e-6)

	grad, err := p.Grad().Float32Data()
	require.NoError(t, err)
	assert.Equal(t, float32(0.3), grad[0])
	assert.Equal(t, float32(0.4), grad[1])
}

func TestClipGradNormRejectsBadMax(t *testing.T) {
	p := newParam(t, []float32{0})
	_, err := ClipGradNorm([]*tensor.Tensor{p}, 0)
	assert.Error(t, err)
}

func TestSchedulers(t *testing.T) {
	tests := []struct {
		name      string
		scheduler LRScheduler
		epoch     int
		baseLR    float64
		want      float64
	}{
		{"constant", &ConstantLRScheduler{}, 50, 0.1, 0.1},
		{"exponential epoch 0", NewExponentialLRScheduler(0.998), 0, 2e-4, 2e-4},
		{"exponential epoch 10", NewExponentialLRScheduler(0.998), 10, 2e-4, 2e-4 * math.Pow(0.998, 10)},
		{"step before boundary", NewStepLRScheduler(30, 0.1), 29, 1.0, 1.0},
		{"step after boundary", NewStepLRScheduler(30, 0.1), 30, 1.0, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.scheduler.GetLR(tt.epoch, tt.baseLR)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}
