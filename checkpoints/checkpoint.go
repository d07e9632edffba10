package checkpoints

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/tsawler/go-diffuse/tensor"
)

// FormatVersion identifies the checkpoint file layout.
const FormatVersion = 1

// WeightTensor holds one named parameter. Weights are stored either as
// float32 values directly in JSON, or as base64-encoded little-endian
// float16 bits when half precision storage is requested.
type WeightTensor struct {
	Name   string    `json:"name"`
	Shape  []int     `json:"shape"`
	DType  string    `json:"dtype"`
	Data   []float32 `json:"data,omitempty"`
	Data16 string    `json:"data16,omitempty"`
}

// TrainingState captures where a run left off.
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	Step         int64   `json:"step"`
	LearningRate float64 `json:"learning_rate"`
	BestLoss     float64 `json:"best_loss"`
}

// OptimizerState captures an optimizer's configuration and moment buffers.
type OptimizerState struct {
	Type         string      `json:"type"`
	LearningRate float64     `json:"learning_rate"`
	Beta1        float64     `json:"beta1,omitempty"`
	Beta2        float64     `json:"beta2,omitempty"`
	Epsilon      float64     `json:"epsilon,omitempty"`
	WeightDecay  float64     `json:"weight_decay,omitempty"`
	StepCount    int64       `json:"step_count,omitempty"`
	Moments1     [][]float32 `json:"moments1,omitempty"`
	Moments2     [][]float32 `json:"moments2,omitempty"`
}

// Metadata identifies a checkpoint.
type Metadata struct {
	RunID       string    `json:"run_id"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// ModelConfig records the settings needed to rebuild the model and the
// diffusion process it was trained under.
type ModelConfig struct {
	Schedule     string  `json:"schedule"`
	BetaStart    float64 `json:"beta_start"`
	BetaEnd      float64 `json:"beta_end"`
	Timesteps    int     `json:"timesteps"`
	Objective    string  `json:"objective"`
	MeanType     string  `json:"mean_type"`
	VarianceType string  `json:"variance_type"`
	Dim          int     `json:"dim"`
	EmbedDim     int     `json:"embed_dim"`
	Hidden       int     `json:"hidden"`
}

// Checkpoint is the complete serialized state of a training run.
type Checkpoint struct {
	Version        int            `json:"version"`
	Metadata       Metadata       `json:"metadata"`
	ModelConfig    ModelConfig    `json:"model_config"`
	Weights        []WeightTensor `json:"weights"`
	TrainingState  TrainingState  `json:"training_state"`
	OptimizerState OptimizerState `json:"optimizer_state"`
}

// NewMetadata returns metadata with a fresh run ID and the current time.
func NewMetadata(description string) Metadata {
	return Metadata{
		RunID:       uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		Description: description,
	}
}

// EncodeWeights converts named parameters into WeightTensor records.
// With halfPrecision set, values are stored as float16 bits, roughly
// halving the size of the encoded payload at reduced precision.
func EncodeWeights(names []string, params []*tensor.Tensor, halfPrecision bool) ([]WeightTensor, error) {
	if len(names) != len(params) {
		return nil, fmt.Errorf("got %d names for %d parameters", len(names), len(params))
	}

	weights := make([]WeightTensor, len(params))
	for i, param := range params {
		shape := make([]int, len(param.Shape))
		copy(shape, param.Shape)

		wt := WeightTensor{Name: names[i], Shape: shape}
		if halfPrecision {
			bits, err := param.ToFloat16Bits()
			if err != nil {
				return nil, fmt.Errorf("encoding %q as float16: %v", names[i], err)
			}
			buf := make([]byte, 2*len(bits))
			for j, b := range bits {
				binary.LittleEndian.PutUint16(buf[2*j:], b)
			}
			wt.DType = tensor.Float16.String()
			wt.Data16 = base64.StdEncoding.EncodeToString(buf)
		} else {
			data, err := param.Float32Data()
			if err != nil {
				return nil, fmt.Errorf("encoding %q: %v", names[i], err)
			}
			wt.DType = tensor.Float32.String()
			wt.Data = make([]float32, len(data))
			copy(wt.Data, data)
		}
		weights[i] = wt
	}
	return weights, nil
}

// Decode converts a WeightTensor record back into a float32 tensor.
func (wt *WeightTensor) Decode() (*tensor.Tensor, error) {
	if wt.Data16 != "" {
		buf, err := base64.StdEncoding.DecodeString(wt.Data16)
		if err != nil {
			return nil, fmt.Errorf("decoding %q: %v", wt.Name, err)
		}
		if len(buf)%2 != 0 {
			return nil, fmt.Errorf("decoding %q: odd payload length %d", wt.Name, len(buf))
		}
		bits := make([]uint16, len(buf)/2)
		for j := range bits {
			bits[j] = binary.LittleEndian.Uint16(buf[2*j:])
		}
		t, err := tensor.FromFloat16Bits(wt.Shape, bits)
		if err != nil {
			return nil, fmt.Errorf("decoding %q: %v", wt.Name, err)
		}
		return t, nil
	}

	data := make([]float32, len(wt.Data))
	copy(data, wt.Data)
	t, err := tensor.New(wt.Shape, tensor.Float32, data)
	if err != nil {
		return nil, fmt.Errorf("decoding %q: %v", wt.Name, err)
	}
	return t, nil
}

// ApplyWeights copies decoded checkpoint weights into parameters, matched
// by position. Shapes must agree.
func ApplyWeights(weights []WeightTensor, params []*tensor.Tensor) error {
	if len(weights) != len(params) {
		return fmt.Errorf("checkpoint has %d weights, model has %d parameters", len(weights), len(params))
	}
	for i := range weights {
		decoded, err := weights[i].Decode()
		if err != nil {
			return err
		}
		if !tensor.SameShape(decoded, params[i]) {
			return fmt.Errorf("weight %q has shape %v, parameter has %v", weights[i].Name, decoded.Shape, params[i].Shape)
		}
		src, err := decoded.Float32Data()
		if err != nil {
			return fmt.Errorf("reading weight %q: %v", weights[i].Name, err)
		}
		dst, err := params[i].Float32Data()
		if err != nil {
			return fmt.Errorf("writing weight %q: %v", weights[i].Name, err)
		}
		copy(dst, src)
	}
	return nil
}

// Save writes the checkpoint as JSON to path.
func Save(path string, ckpt *Checkpoint) error {
	if ckpt.Version == 0 {
		ckpt.Version = FormatVersion
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating checkpoint file: %v", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	if err := encoder.Encode(ckpt); err != nil {
		return fmt.Errorf("encoding checkpoint: %v", err)
	}
	return nil
}

// Load reads a checkpoint from path.
func Load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint file: %v", err)
	}
	defer file.Close()

	var ckpt Checkpoint
	if err := json.NewDecoder(file).Decode(&ckpt); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %v", err)
	}
	if ckpt.Version > FormatVersion {
		return nil, fmt.Errorf("checkpoint version %d is newer than supported version %d", ckpt.Version, FormatVersion)
	}
	return &ckpt, nil
}
