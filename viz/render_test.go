package viz

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-diffuse/tensor"
)

func randomBatch(t *testing.T, b, d, n int) *tensor.Tensor {
	t.Helper()
	rng := rand.New(rand.NewSource(9))
	batch, err := tensor.Randn([]int{b, d, n}, rng)
	require.NoError(t, err)
	return batch
}

func TestParsePlane(t *testing.T) {
	tests := []struct {
		name    string
		want    Plane
		wantErr bool
	}{
		{"xy", PlaneXY, false},
		{"xz", PlaneXZ, false},
		{"yz", PlaneYZ, false},
		{"zz", 0, true},
	}
	for _, tt := range tests {
		got, err := ParsePlane(tt.name)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestCloudPointsProjection(t *testing.T) {
	data := []float32{
		// x row, y row, z row for two points
		1, 2,
		3, 4,
		5, 6,
	}
	batch, err := tensor.New([]int{1, 3, 2}, tensor.Float32, data)
	require.NoError(t, err)

	xys, err := cloudPoints(batch, 0, PlaneXZ)
	require.NoError(t, err)
	require.Len(t, xys, 2)
	assert.Equal(t, 1.0, xys[0].X)
	assert.Equal(t, 5.0, xys[0].Y)
	assert.Equal(t, 2.0, xys[1].X)
	assert.Equal(t, 6.0, xys[1].Y)
}

func TestCloudPointsRejectsMissingAxis(t *testing.T) {
	batch := randomBatch(t, 1, 2, 4)
	_, err := cloudPoints(batch, 0, PlaneXZ)
	assert.Error(t, err, "z projection of 2-D points must fail")
}

func TestRenderCloudsWritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clouds.png")
	batch := randomBatch(t, 3, 3, 32)

	require.NoError(t, RenderClouds(path, "samples", batch, PlaneXY, 2))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestRenderTrajectoryWritesAllSnapshots(t *testing.T) {
	dir := t.TempDir()
	snaps := []*tensor.Tensor{
		randomBatch(t, 1, 3, 16),
		randomBatch(t, 1, 3, 16),
		randomBatch(t, 1, 3, 16),
	}

	require.NoError(t, RenderTrajectory(dir, "chain", snaps, PlaneXY, 1))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRenderLossCurve(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loss.png")

	require.NoError(t, RenderLossCurve(path, []float64{1.0, 0.5, 0.25}))
	_, err := os.Stat(path)
	require.NoError(t, err)

	assert.Error(t, RenderLossCurve(filepath.Join(dir, "empty.png"), nil))
}
