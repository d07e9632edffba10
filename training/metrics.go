package training

import (
	"fmt"
	"time"

	"github.com/tsawler/go-diffuse/tensor"
)

// EpochMetrics summarizes a single training epoch.
type EpochMetrics struct {
	Epoch        int           `json:"epoch"`
	AvgLoss      float64       `json:"avg_loss"`
	LearningRate float64       `json:"learning_rate"`
	ParamNorm    float64       `json:"param_norm"`
	GradNorm     float64       `json:"grad_norm"`
	Batches      int           `json:"batches"`
	Duration     time.Duration `json:"duration"`
}

// History accumulates per-epoch metrics over a run.
type History struct {
	Epochs []EpochMetrics `json:"epochs"`
}

// Append records metrics for one epoch.
func (h *History) Append(m EpochMetrics) {
	h.Epochs = append(h.Epochs, m)
}

// Best returns the epoch with the lowest average loss.
func (h *History) Best() (EpochMetrics, error) {
	if len(h.Epochs) == 0 {
		return EpochMetrics{}, fmt.Errorf("history is empty")
	}
	best := h.Epochs[0]
	for _, m := range h.Epochs[1:] {
		if m.AvgLoss < best.AvgLoss {
			best = m
		}
	}
	return best, nil
}

// Losses returns the average loss per epoch in order.
func (h *History) Losses() []float64 {
	losses := make([]float64, len(h.Epochs))
	for i, m := range h.Epochs {
		losses[i] = m.AvgLoss
	}
	return losses
}

// SampleStats holds summary statistics of a tensor, used to sanity-check
// generated point clouds against the data distribution.
type SampleStats struct {
	Mean float64
	Std  float64
	Min  float32
	Max  float32
}

// ComputeSampleStats summarizes the values of t.
func ComputeSampleStats(t *tensor.Tensor) (SampleStats, error) {
	mean, err := tensor.Mean(t)
	if err != nil {
		return SampleStats{}, fmt.Errorf("computing mean: %v", err)
	}
	std, err := tensor.Std(t)
	if err != nil {
		return SampleStats{}, fmt.Errorf("computing std: %v", err)
	}
	min, max, err := tensor.MinMax(t)
	if err != nil {
		return SampleStats{}, fmt.Errorf("computing range: %v", err)
	}
	return SampleStats{Mean: mean, Std: std, Min: min, Max: max}, nil
}

func (s SampleStats) String() string {
	return fmt.Sprintf("mean=%.4f std=%.4f min=%.4f max=%.4f", s.Mean, s.Std, s.Min, s.Max)
}
