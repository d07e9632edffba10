package tensor

import (
	"fmt"
	"math"
)

func checkBinary(t1, t2 *Tensor) error {
	if t1.DType != Float32 || t2.DType != Float32 {
		return fmt.Errorf("elementwise ops support Float32 tensors only: %s vs %s", t1.DType, t2.DType)
	}
	if err := sameShape(t1.Shape, t2.Shape); err != nil {
		return err
	}
	return nil
}

func binaryOp(t1, t2 *Tensor, op func(a, b float32) float32) (*Tensor, error) {
	if err := checkBinary(t1, t2); err != nil {
		return nil, err
	}
	a := t1.Data.([]float32)
	b := t2.Data.([]float32)
	out := make([]float32, t1.NumElems)
	for i := range out {
		out[i] = op(a[i], b[i])
	}
	return New(t1.Shape, Float32, out)
}

func Add(t1, t2 *Tensor) (*Tensor, error) {
	return binaryOp(t1, t2, func(a, b float32) float32 { return a + b })
}

func Sub(t1, t2 *Tensor) (*Tensor, error) {
	return binaryOp(t1, t2, func(a, b float32) float32 { return a - b })
}

func Mul(t1, t2 *Tensor) (*Tensor, error) {
	return binaryOp(t1, t2, func(a, b float32) float32 { return a * b })
}

func Div(t1, t2 *Tensor) (*Tensor, error) {
	return binaryOp(t1, t2, func(a, b float32) float32 { return a / b })
}

func unaryOp(t *Tensor, op func(a float32) float32) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("unary ops support Float32 tensors only, got %s", t.DType)
	}
	in := t.Data.([]float32)
	out := make([]float32, t.NumElems)
	for i := range out {
		out[i] = op(in[i])
	}
	return New(t.Shape, Float32, out)
}

// Scale multiplies every element by s.
func Scale(t *Tensor, s float32) (*Tensor, error) {
	return unaryOp(t, func(a float32) float32 { return a * s })
}

// AddScalar adds s to every element.
func AddScalar(t *Tensor, s float32) (*Tensor, error) {
	return unaryOp(t, func(a float32) float32 { return a + s })
}

func Exp(t *Tensor) (*Tensor, error) {
	return unaryOp(t, func(a float32) float32 { return float32(math.Exp(float64(a))) })
}

func Log(t *Tensor) (*Tensor, error) {
	return unaryOp(t, func(a float32) float32 { return float32(math.Log(float64(a))) })
}

func Sqrt(t *Tensor) (*Tensor, error) {
	return unaryOp(t, func(a float32) float32 { return float32(math.Sqrt(float64(a))) })
}

func Square(t *Tensor) (*Tensor, error) {
	return unaryOp(t, func(a float32) float32 { return a * a })
}

// Clamp limits every element to [min, max].
func Clamp(t *Tensor, min, max float32) (*Tensor, error) {
	return unaryOp(t, func(a float32) float32 {
		if a < min {
			return min
		}
		if a > max {
			return max
		}
		return a
	})
}

// MeanPerExample reduces a [B, ...] tensor over all non-batch dimensions,
// returning a [B] tensor of per-example means.
func MeanPerExample(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("MeanPerExample supports Float32 tensors only, got %s", t.DType)
	}
	if len(t.Shape) < 1 {
		return nil, fmt.Errorf("MeanPerExample requires at least one dimension")
	}

	batch := t.Shape[0]
	perExample := t.NumElems / batch
	data := t.Data.([]float32)

	out := make([]float32, batch)
	for b := 0; b < batch; b++ {
		var sum float64
		offset := b * perExample
		for i := 0; i < perExample; i++ {
			sum += float64(data[offset+i])
		}
		out[b] = float32(sum / float64(perExample))
	}
	return New([]int{batch}, Float32, out)
}

// SumPerExample reduces a [B, ...] tensor over all non-batch dimensions,
// returning a [B] tensor of per-example sums.
func SumPerExample(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("SumPerExample supports Float32 tensors only, got %s", t.DType)
	}
	if len(t.Shape) < 1 {
		return nil, fmt.Errorf("SumPerExample requires at least one dimension")
	}

	batch := t.Shape[0]
	perExample := t.NumElems / batch
	data := t.Data.([]float32)

	out := make([]float32, batch)
	for b := 0; b < batch; b++ {
		var sum float64
		offset := b * perExample
		for i := 0; i < perExample; i++ {
			sum += float64(data[offset+i])
		}
		out[b] = float32(sum)
	}
	return New([]int{batch}, Float32, out)
}

// Mean returns the scalar mean over every element.
func Mean(t *Tensor) (float64, error) {
	if t.DType != Float32 {
		return 0, fmt.Errorf("Mean supports Float32 tensors only, got %s", t.DType)
	}
	data := t.Data.([]float32)
	var sum float64
	for _, v := range data {
		sum += float64(v)
	}
	return sum / float64(len(data)), nil
}

// Std returns the scalar population standard deviation over every element.
func Std(t *Tensor) (float64, error) {
	mean, err := Mean(t)
	if err != nil {
		return 0, err
	}
	data := t.Data.([]float32)
	var sum float64
	for _, v := range data {
		d := float64(v) - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(data))), nil
}

// MinMax returns the smallest and largest element.
func MinMax(t *Tensor) (float32, float32, error) {
	if t.DType != Float32 {
		return 0, 0, fmt.Errorf("MinMax supports Float32 tensors only, got %s", t.DType)
	}
	data := t.Data.([]float32)
	min, max := data[0], data[0]
	for _, v := range data[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max, nil
}
