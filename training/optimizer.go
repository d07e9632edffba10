package training

import (
	"fmt"
	"math"
	"sync"

	"github.com/tsawler/go-diffuse/tensor"
)

// Optimizer interface defines the methods that all optimizers must implement
type Optimizer interface {
	Step() error      // Updates model parameters based on gradients
	ZeroGrad()        // Resets gradients to zero for all parameters
	GetLR() float64   // Gets current learning rate
	SetLR(lr float64) // Sets learning rate
}

// SGD implements Stochastic Gradient Descent with optional momentum.
type SGD struct {
	parameters   []*tensor.Tensor
	learningRate float64
	momentum     float64
	weightDecay  float64
	velocities   map[*tensor.Tensor][]float32
	mutex        sync.Mutex
}

// NewSGD creates a new SGD optimizer
func NewSGD(parameters []*tensor.Tensor, lr, momentum, weightDecay float64) *SGD {
	return &SGD{
		parameters:   parameters,
		learningRate: lr,
		momentum:     momentum,
		weightDecay:  weightDecay,
		velocities:   make(map[*tensor.Tensor][]float32),
	}
}

// Step performs a single optimization step
func (sgd *SGD) Step() error {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	for _, param := range sgd.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}

		data, err := param.Float32Data()
		if err != nil {
			return fmt.Errorf("parameter data access failed: %v", err)
		}
		grad, err := param.Grad().Float32Data()
		if err != nil {
			return fmt.Errorf("gradient data access failed: %v", err)
		}

		velocity := sgd.velocities[param]
		if sgd.momentum > 0 && velocity == nil {
			velocity = make([]float32, len(data))
			sgd.velocities[param] = velocity
		}

		lr := float32(sgd.learningRate)
		wd := float32(sgd.weightDecay)
		mu := float32(sgd.momentum)
		for i := range data {
			g := grad[i]
			if sgd.weightDecay > 0 {
				g += wd * data[i]
			}
			if sgd.momentum > 0 {
				velocity[i] = mu*velocity[i] + g
				g = velocity[i]
			}
			data[i] -= lr * g
		}
	}

	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (sgd *SGD) ZeroGrad() {
	tensor.ZeroGrad(sgd.parameters)
}

// GetLR gets the current learning rate
func (sgd *SGD) GetLR() float64 {
	return sgd.learningRate
}

// SetLR sets the learning rate
func (sgd *SGD) SetLR(lr float64) {
	sgd.learningRate = lr
}

// Adam implements the Adam optimizer
type Adam struct {
	parameters   []*tensor.Tensor
	learningRate float64
	beta1        float64
	beta2        float64
	epsilon      float64
	weightDecay  float64
	stepCount    int64
	moments1     map[*tensor.Tensor][]float32 // First moment estimates
	moments2     map[*tensor.Tensor][]float32 // Second moment estimates
	mutex        sync.Mutex
}

// NewAdam creates a new Adam optimizer
func NewAdam(parameters []*tensor.Tensor, lr, beta1, beta2, epsilon, weightDecay float64) *Adam {
	if beta1 == 0 && beta2 == 0 && epsilon == 0 {
		// Allow zero-value construction with sensible defaults
		beta1, beta2, epsilon = 0.9, 0.999, 1e-8
	}
	return &Adam{
		parameters:   parameters,
		learningRate: lr,
		beta1:        beta1,
		beta2:        beta2,
		epsilon:      epsilon,
		weightDecay:  weightDecay,
		moments1:     make(map[*tensor.Tensor][]float32),
		moments2:     make(map[*tensor.Tensor][]float32),
	}
}

// Step performs a single optimization step using the Adam algorithm
func (adam *Adam) Step() error {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	adam.stepCount++

	// Bias correction factors for the current step
	bc1 := 1.0 - math.Pow(adam.beta1, float64(adam.stepCount))
	bc2 := 1.0 - math.Pow(adam.beta2, float64(adam.stepCount))

	for _, param := range adam.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}

		data, err := param.Float32Data()
		if err != nil {
			return fmt.Errorf("parameter data access failed: %v", err)
		}
		grad, err := param.Grad().Float32Data()
		if err != nil {
			return fmt.Errorf("gradient data access failed: %v", err)
		}

		m1 := adam.moments1[param]
		if m1 == nil {
			m1 = make([]float32, len(data))
			adam.moments1[param] = m1
		}
		m2 := adam.moments2[param]
		if m2 == nil {
			m2 = make([]float32, len(data))
			adam.moments2[param] = m2
		}

		b1 := float32(adam.beta1)
		b2 := float32(adam.beta2)
		wd := float32(adam.weightDecay)
		for i := range data {
			g := float64(grad[i])
			if adam.weightDecay > 0 {
				g += float64(wd * data[i])
			}

			m1[i] = b1*m1[i] + (1-b1)*float32(g)
			m2[i] = b2*m2[i] + (1-b2)*float32(g*g)

			mHat := float64(m1[i]) / bc1
			vHat := float64(m2[i]) / bc2

			data[i] -= float32(adam.learningRate * mHat / (math.Sqrt(vHat) + adam.epsilon))
		}
	}

	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (adam *Adam) ZeroGrad() {
	tensor.ZeroGrad(adam.parameters)
}

// GetLR gets the current learning rate
func (adam *Adam) GetLR() float64 {
	return adam.learningRate
}

// SetLR sets the learning rate
func (adam *Adam) SetLR(lr float64) {
	adam.learningRate = lr
}

// StepCount returns the number of completed optimization steps.
func (adam *Adam) StepCount() int64 {
	return adam.stepCount
}

// SetStepCount restores the internal step counter, used when resuming
// training from a checkpoint.
func (adam *Adam) SetStepCount(n int64) {
	adam.stepCount = n
}

// StateTensors exposes the moment estimates keyed by parameter index,
// in parameter order, for checkpointing. Missing moments (before the
// first step) yield nil slices.
func (adam *Adam) StateTensors() (m1, m2 [][]float32) {
	for _, p := range adam.parameters {
		m1 = append(m1, adam.moments1[p])
		m2 = append(m2, adam.moments2[p])
	}
	return m1, m2
}

// LoadStateTensors restores moment estimates saved by StateTensors.
func (adam *Adam) LoadStateTensors(m1, m2 [][]float32) error {
	if len(m1) != len(adam.parameters) || len(m2) != len(adam.parameters) {
		return fmt.Errorf("optimizer state has %d/%d moment slices, want %d", len(m1), len(m2), len(adam.parameters))
	}
	for i, p := range adam.parameters {
		if m1[i] == nil {
			continue
		}
		if len(m1[i]) != p.NumElems || len(m2[i]) != p.NumElems {
			return fmt.Errorf("optimizer state size mismatch for parameter %d: got %d, want %d", i, len(m1[i]), p.NumElems)
		}
		buf1 := make([]float32, len(m1[i]))
		copy(buf1, m1[i])
		buf2 := make([]float32, len(m2[i]))
		copy(buf2, m2[i])
		adam.moments1[p] = buf1
		adam.moments2[p] = buf2
	}
	return nil
}

// ClipGradNorm scales gradients in place so that their global L2 norm
// does not exceed maxNorm. It returns the norm measured before clipping.
func ClipGradNorm(parameters []*tensor.Tensor, maxNorm float64) (float64, error) {
	if maxNorm <= 0 {
		return 0, fmt.Errorf("max norm must be positive, got %g", maxNorm)
	}

	var total float64
	for _, param := range parameters {
		if param.Grad() == nil {
			continue
		}
		grad, err := param.Grad().Float32Data()
		if err != nil {
			return 0, fmt.Errorf("gradient data access failed: %v", err)
		}
		for _, g := range grad {
			total += float64(g) * float64(g)
		}
	}
	norm := math.Sqrt(total)

	if norm > maxNorm {
		scale := float32(maxNorm / (norm + 1e-6))
		for _, param := range parameters {
			if param.Grad() == nil {
				continue
			}
			grad, _ := param.Grad().Float32Data()
			for i := range grad {
				grad[i] *= scale
			}
		}
	}

	return norm, nil
}

// ParamNorm returns the global L2 norm of the parameter values.
func ParamNorm(parameters []*tensor.Tensor) (float64, error) {
	var total float64
	for _, param := range parameters {
		data, err := param.Float32Data()
		if err != nil {
			return 0, fmt.Errorf("parameter data access failed: %v", err)
		}
		for _, v := range data {
			total += float64(v) * float64(v)
		}
	}
	return math.Sqrt(total), nil
}

// GradNorm returns the global L2 norm of all parameter gradients.
func GradNorm(parameters []*tensor.Tensor) (float64, error) {
	var total float64
	for _, param := range parameters {
		if param.Grad() == nil {
			continue
		}
		grad, err := param.Grad().Float32Data()
		if err != nil {
			return 0, fmt.Errorf("gradient data access failed: %v", err)
		}
		for _, g := range grad {
			total += float64(g) * float64(g)
		}
	}
	return math.Sqrt(total), nil
}
