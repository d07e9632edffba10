package checkpoints

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-diffuse/tensor"
)

func randomParams(t *testing.T) ([]string, []*tensor.Tensor) {
	t.Helper()
	rng := rand.New(rand.NewSource(21))
	w, err := tensor.Randn([]int{4, 3}, rng)
	require.NoError(t, err)
	b, err := tensor.Randn([]int{4}, rng)
	require.NoError(t, err)
	return []string{"w", "b"}, []*tensor.Tensor{w, b}
}

func TestEncodeDecodeFloat32(t *testing.T) {
	names, params := randomParams(t)

	weights, err := EncodeWeights(names, params, false)
	require.NoError(t, err)
	require.Len(t, weights, 2)
	assert.Equal(t, "w", weights[0].Name)
	assert.Equal(t, tensor.Float32.String(), weights[0].DType)
	assert.Empty(t, weights[0].Data16)

	decoded, err := weights[0].Decode()
	require.NoError(t, err)
	want, _ := params[0].Float32Data()
	got, _ := decoded.Float32Data()
	assert.Equal(t, want, got)
}

func TestEncodeDecodeHalfPrecision(t *testing.T) {
	names, params := randomParams(t)

	weights, err := EncodeWeights(names, params, true)
	require.NoError(t, err)
	assert.Equal(t, tensor.Float16.String(), weights[0].DType)
	assert.Empty(t, weights[0].Data)
	assert.NotEmpty(t, weights[0].Data16)

	decoded, err := weights[0].Decode()
	require.NoError(t, err)
	require.Equal(t, params[0].Shape, decoded.Shape)

	// Half precision keeps about three decimal digits for unit-scale values.
	want, _ := params[0].Float32Data()
	got, _ := decoded.Float32Data()
	for i := range want {
		assert.InDelta(t, want[i], got[i], 2e-3)
	}
}

func TestEncodeWeightsNameCountMismatch(t *testing.T) {
	_, params := randomParams(t)
	_, err := EncodeWeights([]string{"only-one"}, params, false)
	assert.Error(t, err)
}

func TestApplyWeights(t *testing.T) {
	names, params := randomParams(t)
	weights, err := EncodeWeights(names, params, false)
	require.NoError(t, err)

	fresh := []*tensor.Tensor{}
	for _, p := range params {
		z, err := tensor.Zeros(p.Shape, tensor.Float32)
		require.NoError(t, err)
		fresh = append(fresh, z)
	}

	require.NoError(t, ApplyWeights(weights, fresh))
	for i := range params {
		want, _ := params[i].Float32Data()
		got, _ := fresh[i].Float32Data()
		assert.Equal(t, want, got)
	}
}

func TestApplyWeightsShapeMismatch(t *testing.T) {
	names, params := randomParams(t)
	weights, err := EncodeWeights(names, params, false)
	require.NoError(t, err)

	wrong, err := tensor.Zeros([]int{2, 2}, tensor.Float32)
	require.NoError(t, err)
	other, err := tensor.Zeros([]int{4}, tensor.Float32)
	require.NoError(t, err)
	assert.Error(t, ApplyWeights(weights, []*tensor.Tensor{wrong, other}))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	names, params := randomParams(t)
	weights, err := EncodeWeights(names, params, false)
	require.NoError(t, err)

	ckpt := &Checkpoint{
		Metadata: NewMetadata("round trip"),
		ModelConfig: ModelConfig{
			Schedule:  "linear",
			BetaStart: 1e-4,
			BetaEnd:   0.02,
			Timesteps: 1000,
			Objective: "mse",
			Dim:       3,
		},
		Weights: weights,
		TrainingState: TrainingState{
			Epoch:        7,
			Step:         350,
			LearningRate: 2e-4,
			BestLoss:     0.12,
		},
		OptimizerState: OptimizerState{
			Type:         "adam",
			LearningRate: 2e-4,
			Beta1:        0.5,
			Beta2:        0.999,
			StepCount:    350,
		},
	}

	path := filepath.Join(t.TempDir(), "ckpt.json")
	require.NoError(t, Save(path, ckpt))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, FormatVersion, loaded.Version)
	assert.Equal(t, ckpt.Metadata.RunID, loaded.Metadata.RunID)
	assert.Equal(t, ckpt.ModelConfig, loaded.ModelConfig)
	assert.Equal(t, ckpt.TrainingState, loaded.TrainingState)
	assert.Equal(t, "adam", loaded.OptimizerState.Type)
	require.Len(t, loaded.Weights, 2)

	decoded, err := loaded.Weights[1].Decode()
	require.NoError(t, err)
	want, _ := params[1].Float32Data()
	got, _ := decoded.Float32Data()
	assert.Equal(t, want, got)
}

func TestLoadRejectsNewerVersion(t *testing.T) {
	names, params := randomParams(t)
	weights, err := EncodeWeights(names, params, false)
	require.NoError(t, err)

	ckpt := &Checkpoint{
		Version:  FormatVersion + 1,
		Metadata: NewMetadata(""),
		Weights:  weights,
	}
	path := filepath.Join(t.TempDir(), "future.json")
	require.NoError(t, Save(path, ckpt))

	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestNewMetadataAssignsUniqueRunIDs(t *testing.T) {
	a := NewMetadata("a")
	b := NewMetadata("b")
	assert.NotEmpty(t, a.RunID)
	assert.NotEqual(t, a.RunID, b.RunID)
	assert.False(t, a.CreatedAt.IsZero())
}
