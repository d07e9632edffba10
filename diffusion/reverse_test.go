package diffusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-diffuse/tensor"
)

func TestQPosteriorMean(t *testing.T) {
	gd := testEngine(t, Config{})
	c := gd.Coefficients()

	x0, err := tensor.Full([]int{1, 1, 3}, 1)
	require.NoError(t, err)
	xt, err := tensor.Full([]int{1, 1, 3}, 2)
	require.NoError(t, err)
	tb := timesteps(t, 2)

	mean, variance, logVar, err := gd.QPosterior(x0, xt, tb)
	require.NoError(t, err)

	wantMean := c.PosteriorMeanCoef1[2]*1 + c.PosteriorMeanCoef2[2]*2
	md, _ := mean.Float32Data()
	vd, _ := variance.Float32Data()
	lvd, _ := logVar.Float32Data()
	for i := range md {
		assert.InDelta(t, float64(wantMean), float64(md[i]), 1e-6)
		assert.Equal(t, c.PosteriorVariance[2], vd[i])
		assert.Equal(t, c.PosteriorLogVarianceClipped[2], lvd[i])
	}
}

func TestQPosteriorShapeMismatch(t *testing.T) {
	gd := testEngine(t, Config{})
	x0 := randTensor(t, []int{1, 3, 4}, 1)
	xt := randTensor(t, []int{1, 3, 5}, 2)
	_, _, _, err := gd.QPosterior(x0, xt, timesteps(t, 1))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestPredictXStartRecoversCleanSample(t *testing.T) {
	gd := testEngine(t, Config{})

	x0 := randTensor(t, []int{2, 3, 8}, 7)
	noise := randTensor(t, []int{2, 3, 8}, 8)
	tb := timesteps(t, 1, 3)

	xt, err := gd.QSample(x0, tb, noise)
	require.NoError(t, err)

	// feed the exact injected noise back in; the reconstruction must
	// invert the forward process
	_, _, _, xStart, err := gd.PMeanVariance(fixedDenoiser(noise), xt, tb, false)
	require.NoError(t, err)

	want, _ := x0.Float32Data()
	got, _ := xStart.Float32Data()
	for i := range want {
		assert.InDelta(t, float64(want[i]), float64(got[i]), 1e-4)
	}
}

func TestPMeanVarianceClipsReconstruction(t *testing.T) {
	gd := testEngine(t, Config{})

	xt, err := tensor.Full([]int{1, 1, 4}, 10)
	require.NoError(t, err)
	tb := timesteps(t, 3)

	_, _, _, xStart, err := gd.PMeanVariance(zeroDenoiser(), xt, tb, true)
	require.NoError(t, err)

	data, _ := xStart.Float32Data()
	for _, v := range data {
		assert.GreaterOrEqual(t, v, float32(-0.5))
		assert.LessOrEqual(t, v, float32(0.5))
	}
}

func TestPMeanVarianceFixedLargeTables(t *testing.T) {
	gd := testEngine(t, Config{VarianceType: VarianceFixedLarge, Schedule: ScheduleLinear, BetaStart: 0.1, BetaEnd: 0.4, Timesteps: 4})
	c := gd.Coefficients()

	xt := randTensor(t, []int{1, 2, 3}, 9)

	// row 1 must use the posterior variance, not beta[1]
	_, variance, logVar, _, err := gd.PMeanVariance(zeroDenoiser(), xt, timesteps(t, 1), false)
	require.NoError(t, err)
	vd, _ := variance.Float32Data()
	lvd, _ := logVar.Float32Data()
	for i := range vd {
		assert.Equal(t, c.Betas[1], vd[i])
		assert.Equal(t, c.PosteriorLogVarianceClipped[1], lvd[i])
	}

	// other rows fall back to log(beta[t])
	_, _, logVar2, _, err := gd.PMeanVariance(zeroDenoiser(), xt, timesteps(t, 2), false)
	require.NoError(t, err)
	lvd2, _ := logVar2.Float32Data()
	logBeta2, err := tensor.Log(tensor.FromScalar(c.Betas[2]))
	require.NoError(t, err)
	want, _ := logBeta2.Float32Data()
	for i := range lvd2 {
		assert.InDelta(t, float64(want[0]), float64(lvd2[i]), 1e-6)
	}
}

func TestPMeanVarianceRejectsBadDenoiserShape(t *testing.T) {
	gd := testEngine(t, Config{})
	xt := randTensor(t, []int{1, 3, 4}, 10)

	badDenoise := func(x, t *tensor.Tensor) (*tensor.Tensor, error) {
		return tensor.Zeros([]int{1, 3, 5}, tensor.Float32)
	}
	_, _, _, _, err := gd.PMeanVariance(badDenoise, xt, timesteps(t, 1), false)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestPSampleTerminalStepIsDeterministic(t *testing.T) {
	gd := testEngine(t, Config{})
	xt := randTensor(t, []int{2, 3, 4}, 11)
	tb := timesteps(t, 0, 0)

	// enormous noise; the t==0 mask must cancel it entirely
	hugeNoise := func(shape []int) (*tensor.Tensor, error) {
		return tensor.Full(shape, 1e6)
	}

	sample, _, err := gd.PSample(zeroDenoiser(), xt, tb, hugeNoise, false)
	require.NoError(t, err)

	mean, _, _, _, err := gd.PMeanVariance(zeroDenoiser(), xt, tb, false)
	require.NoError(t, err)

	sd, _ := sample.Float32Data()
	md, _ := mean.Float32Data()
	assert.Equal(t, md, sd, "terminal step must return exactly the posterior mean")
}

func TestPSampleMasksOnlyTerminalElements(t *testing.T) {
	gd := testEngine(t, Config{})
	xt := randTensor(t, []int{2, 1, 2}, 12)
	tb := timesteps(t, 0, 2)

	constNoise := func(shape []int) (*tensor.Tensor, error) {
		return tensor.Full(shape, 1)
	}

	sample, _, err := gd.PSample(zeroDenoiser(), xt, tb, constNoise, false)
	require.NoError(t, err)
	mean, _, _, _, err := gd.PMeanVariance(zeroDenoiser(), xt, tb, false)
	require.NoError(t, err)

	sd, _ := sample.Float32Data()
	md, _ := mean.Float32Data()

	// element 0 at t=0: no noise; element 1 at t=2: mean plus sigma
	assert.Equal(t, md[0], sd[0])
	assert.Equal(t, md[1], sd[1])
	assert.NotEqual(t, md[2], sd[2])
	assert.NotEqual(t, md[3], sd[3])
}

func TestNonzeroMask(t *testing.T) {
	mask, err := nonzeroMask([]int64{0, 3, 0}, []int{3, 1, 2})
	require.NoError(t, err)
	data, _ := mask.Float32Data()
	assert.Equal(t, []float32{0, 0, 1, 1, 0, 0}, data)
}
