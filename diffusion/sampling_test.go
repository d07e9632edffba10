package diffusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-diffuse/tensor"
)

func TestSampleLoopShape(t *testing.T) {
	gd := testEngine(t, Config{})
	shape := []int{2, 3, 16}

	out, err := gd.SampleLoop(zeroDenoiser(), shape, seededNoise(1), true, false)
	require.NoError(t, err)
	assert.Equal(t, shape, out.Shape)
}

func TestSampleLoopStepCount(t *testing.T) {
	gd := testEngine(t, Config{})

	calls := 0
	countingDenoise := func(xt, tb *tensor.Tensor) (*tensor.Tensor, error) {
		calls++
		return tensor.Zeros(xt.Shape, tensor.Float32)
	}

	_, err := gd.SampleLoop(countingDenoise, []int{1, 3, 4}, seededNoise(2), false, false)
	require.NoError(t, err)
	assert.Equal(t, gd.NumTimesteps(), calls)

	calls = 0
	_, err = gd.SampleLoop(countingDenoise, []int{1, 3, 4}, seededNoise(3), false, true)
	require.NoError(t, err)
	assert.Equal(t, gd.TotalTimesteps(), calls, "extended chain iterates 2T steps")
}

func TestSampleLoopDeterministicWithSeededNoise(t *testing.T) {
	gd := testEngine(t, Config{})

	out1, err := gd.SampleLoop(zeroDenoiser(), []int{1, 3, 8}, seededNoise(7), true, false)
	require.NoError(t, err)
	out2, err := gd.SampleLoop(zeroDenoiser(), []int{1, 3, 8}, seededNoise(7), true, false)
	require.NoError(t, err)

	d1, _ := out1.Float32Data()
	d2, _ := out2.Float32Data()
	assert.Equal(t, d1, d2)
}

func TestSampleTrajectorySnapshotSchedule(t *testing.T) {
	gd, err := New(Config{Schedule: ScheduleLinear, BetaStart: 0.0001, BetaEnd: 0.02, Timesteps: 100})
	require.NoError(t, err)

	snaps, err := gd.SampleTrajectory(zeroDenoiser(), []int{1, 3, 4}, seededNoise(4), 25, true, false)
	require.NoError(t, err)

	// initial noise + steps 99, 75, 50, 25, 0
	assert.Len(t, snaps, 6)
	for _, s := range snaps {
		assert.Equal(t, []int{1, 3, 4}, s.Shape)
	}
}

func TestSampleTrajectoryRejectsBadRecordEvery(t *testing.T) {
	gd := testEngine(t, Config{})
	_, err := gd.SampleTrajectory(zeroDenoiser(), []int{1, 3, 4}, seededNoise(5), 0, true, false)
	assert.ErrorIs(t, err, ErrDomain)
}
