package tensor

import (
	"fmt"
)

type DType int

const (
	Float32 DType = iota
	Float16
	Int64
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Float16:
		return "Float16"
	case Int64:
		return "Int64"
	default:
		return "Unknown"
	}
}

// Tensor is a dense, row-major CPU tensor. Data holds []float32 for Float32
// tensors and []int64 for Int64 tensors. Float16 exists only as a storage
// format for checkpoints; in-memory compute is always Float32 or Int64.
type Tensor struct {
	Shape        []int
	Strides      []int
	DType        DType
	Data         interface{}
	NumElems     int
	requiresGrad bool
	grad         *Tensor
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, elements=%d)", t.Shape, t.DType, t.NumElems)
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// SetGrad replaces the gradient tensor. A nil grad clears it.
func (t *Tensor) SetGrad(grad *Tensor) error {
	if grad != nil {
		if err := sameShape(t.Shape, grad.Shape); err != nil {
			return fmt.Errorf("gradient shape mismatch: %v", err)
		}
	}
	t.grad = grad
	return nil
}

// AccumulateGrad adds delta into the tensor's gradient, allocating it on
// first use.
func (t *Tensor) AccumulateGrad(delta *Tensor) error {
	if err := sameShape(t.Shape, delta.Shape); err != nil {
		return fmt.Errorf("gradient shape mismatch: %v", err)
	}
	if t.grad == nil {
		g, err := Zeros(t.Shape, t.DType)
		if err != nil {
			return err
		}
		t.grad = g
	}
	gd, err := t.grad.Float32Data()
	if err != nil {
		return err
	}
	dd, err := delta.Float32Data()
	if err != nil {
		return err
	}
	for i := range gd {
		gd[i] += dd[i]
	}
	return nil
}

// ZeroGrad clears the gradients of every tensor in params.
func ZeroGrad(params []*Tensor) {
	for _, p := range params {
		if p.grad == nil {
			continue
		}
		if data, ok := p.grad.Data.([]float32); ok {
			for i := range data {
				data[i] = 0
			}
		}
	}
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("shape must have at least one dimension")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

func sameShape(shape1, shape2 []int) error {
	if len(shape1) != len(shape2) {
		return fmt.Errorf("shapes must have same number of dimensions: %v vs %v", shape1, shape2)
	}
	for i := range shape1 {
		if shape1[i] != shape2[i] {
			return fmt.Errorf("shapes must match: %v vs %v", shape1, shape2)
		}
	}
	return nil
}

// SameShape reports whether two tensors have identical shapes.
func SameShape(t1, t2 *Tensor) bool {
	return sameShape(t1.Shape, t2.Shape) == nil
}

// New creates a tensor from the provided backing data. The data length must
// match the shape's element count exactly.
func New(shape []int, dtype DType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	t := &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		DType:    dtype,
		NumElems: numElems,
	}

	switch dtype {
	case Float32:
		d, ok := data.([]float32)
		if !ok {
			return nil, fmt.Errorf("expected []float32 data for Float32 tensor, got %T", data)
		}
		if len(d) != numElems {
			return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(d), shape, numElems)
		}
		t.Data = d
	case Int64:
		d, ok := data.([]int64)
		if !ok {
			return nil, fmt.Errorf("expected []int64 data for Int64 tensor, got %T", data)
		}
		if len(d) != numElems {
			return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(d), shape, numElems)
		}
		t.Data = d
	default:
		return nil, fmt.Errorf("unsupported dtype for New: %s", dtype)
	}

	return t, nil
}

// Zeros creates a zero-filled tensor.
func Zeros(shape []int, dtype DType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	n := calculateNumElements(shape)
	switch dtype {
	case Float32:
		return New(shape, dtype, make([]float32, n))
	case Int64:
		return New(shape, dtype, make([]int64, n))
	default:
		return nil, fmt.Errorf("unsupported dtype for Zeros: %s", dtype)
	}
}

// Full creates a Float32 tensor filled with value.
func Full(shape []int, value float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	data := make([]float32, calculateNumElements(shape))
	for i := range data {
		data[i] = value
	}
	return New(shape, Float32, data)
}

// FullInt64 creates an Int64 tensor filled with value. Used for per-batch
// timestep index tensors.
func FullInt64(shape []int, value int64) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	data := make([]int64, calculateNumElements(shape))
	for i := range data {
		data[i] = value
	}
	return New(shape, Int64, data)
}

// FromScalar creates a single-element Float32 tensor.
func FromScalar(value float32) *Tensor {
	t, _ := New([]int{1}, Float32, []float32{value})
	return t
}
