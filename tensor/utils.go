package tensor

import (
	"fmt"
	"math/rand"

	"github.com/x448/float16"
)

// Reshape returns a view with the same data but a different shape. One
// dimension may be -1 to have its size inferred.
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	newNumElems := 1
	negOneIdx := -1

	for i, dim := range newShape {
		if dim < 0 {
			if dim != -1 {
				return nil, fmt.Errorf("negative dimension %d at index %d is not allowed (only -1 is allowed)", dim, i)
			}
			if negOneIdx >= 0 {
				return nil, fmt.Errorf("only one dimension can be -1")
			}
			negOneIdx = i
		} else if dim == 0 {
			return nil, fmt.Errorf("dimension %d cannot be 0", i)
		} else {
			newNumElems *= dim
		}
	}

	shape := append([]int(nil), newShape...)
	if negOneIdx >= 0 {
		if t.NumElems%newNumElems != 0 {
			return nil, fmt.Errorf("cannot reshape tensor of size %d into shape with -1: size must be divisible by %d", t.NumElems, newNumElems)
		}
		shape[negOneIdx] = t.NumElems / newNumElems
		newNumElems *= shape[negOneIdx]
	}

	if newNumElems != t.NumElems {
		return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v (size %d)", t.NumElems, shape, newNumElems)
	}

	return &Tensor{
		Shape:        shape,
		Strides:      calculateStrides(shape),
		DType:        t.DType,
		Data:         t.Data, // shares the underlying data
		NumElems:     t.NumElems,
		requiresGrad: t.requiresGrad,
	}, nil
}

// Clone returns a deep copy. Gradients are not copied.
func (t *Tensor) Clone() (*Tensor, error) {
	clone := &Tensor{
		Shape:        append([]int(nil), t.Shape...),
		Strides:      append([]int(nil), t.Strides...),
		DType:        t.DType,
		NumElems:     t.NumElems,
		requiresGrad: t.requiresGrad,
	}

	switch t.DType {
	case Float32:
		if t.Data == nil {
			return nil, fmt.Errorf("tensor has nil data")
		}
		data := t.Data.([]float32)
		cloneData := make([]float32, len(data))
		copy(cloneData, data)
		clone.Data = cloneData
	case Int64:
		if t.Data == nil {
			return nil, fmt.Errorf("tensor has nil data")
		}
		data := t.Data.([]int64)
		cloneData := make([]int64, len(data))
		copy(cloneData, data)
		clone.Data = cloneData
	default:
		return nil, fmt.Errorf("unsupported dtype for Clone: %s", t.DType)
	}

	return clone, nil
}

// SetData replaces the tensor's backing data in place; the replacement must
// match the existing element count and dtype.
func (t *Tensor) SetData(data interface{}) error {
	switch t.DType {
	case Float32:
		d, ok := data.([]float32)
		if !ok {
			return fmt.Errorf("expected []float32 data, got %T", data)
		}
		if len(d) != t.NumElems {
			return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
		}
		copy(t.Data.([]float32), d)
	case Int64:
		d, ok := data.([]int64)
		if !ok {
			return fmt.Errorf("expected []int64 data, got %T", data)
		}
		if len(d) != t.NumElems {
			return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
		}
		copy(t.Data.([]int64), d)
	default:
		return fmt.Errorf("unsupported dtype for SetData: %s", t.DType)
	}
	return nil
}

func (t *Tensor) Float32Data() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Float32", t.DType)
	}
	return t.Data.([]float32), nil
}

func (t *Tensor) Int64Data() ([]int64, error) {
	if t.DType != Int64 {
		return nil, fmt.Errorf("tensor dtype is %s, not Int64", t.DType)
	}
	return t.Data.([]int64), nil
}

// Item returns the value of a single-element tensor.
func (t *Tensor) Item() (float64, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Item() can only be called on tensors with exactly one element, got %d", t.NumElems)
	}
	switch t.DType {
	case Float32:
		return float64(t.Data.([]float32)[0]), nil
	case Int64:
		return float64(t.Data.([]int64)[0]), nil
	default:
		return 0, fmt.Errorf("unsupported dtype for Item: %s", t.DType)
	}
}

// At returns the Float32 element at the given multi-dimensional indices.
func (t *Tensor) At(indices ...int) (float32, error) {
	if t.DType != Float32 {
		return 0, fmt.Errorf("At supports Float32 tensors only, got %s", t.DType)
	}
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}
	linear := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of bounds for dimension %d (size %d)", idx, i, t.Shape[i])
		}
		linear += idx * t.Strides[i]
	}
	return t.Data.([]float32)[linear], nil
}

// Randn fills a new Float32 tensor with standard-normal draws from rng.
func Randn(shape []int, rng *rand.Rand) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	data := make([]float32, calculateNumElements(shape))
	for i := range data {
		data[i] = float32(rng.NormFloat64())
	}
	return New(shape, Float32, data)
}

// ToFloat16Bits converts a Float32 tensor's data to IEEE 754 half-precision
// bit patterns, for compact checkpoint storage.
func (t *Tensor) ToFloat16Bits() ([]uint16, error) {
	data, err := t.Float32Data()
	if err != nil {
		return nil, err
	}
	bits := make([]uint16, len(data))
	for i, v := range data {
		bits[i] = float16.Fromfloat32(v).Bits()
	}
	return bits, nil
}

// FromFloat16Bits builds a Float32 tensor from half-precision bit patterns.
func FromFloat16Bits(shape []int, bits []uint16) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if len(bits) != calculateNumElements(shape) {
		return nil, fmt.Errorf("data length %d does not match shape %v", len(bits), shape)
	}
	data := make([]float32, len(bits))
	for i, b := range bits {
		data[i] = float16.Frombits(b).Float32()
	}
	return New(shape, Float32, data)
}
