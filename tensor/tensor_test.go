package tensor

import (
	"math/rand"
	"testing"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		shape   []int
		dtype   DType
		data    interface{}
		wantErr bool
	}{
		{"valid float32", []int{2, 3}, Float32, make([]float32, 6), false},
		{"valid int64", []int{4}, Int64, make([]int64, 4), false},
		{"length mismatch", []int{2, 3}, Float32, make([]float32, 5), true},
		{"wrong data type", []int{2}, Float32, make([]int64, 2), true},
		{"empty shape", []int{}, Float32, []float32{}, true},
		{"zero dimension", []int{2, 0}, Float32, []float32{}, true},
		{"negative dimension", []int{-1}, Float32, []float32{}, true},
		{"float16 compute unsupported", []int{2}, Float16, make([]float32, 2), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.shape, tt.dtype, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%v, %s) error = %v, wantErr %v", tt.shape, tt.dtype, err, tt.wantErr)
			}
		})
	}
}

func TestStrides(t *testing.T) {
	tensor, err := New([]int{2, 3, 4}, Float32, make([]float32, 24))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	expected := []int{12, 4, 1}
	for i, s := range expected {
		if tensor.Strides[i] != s {
			t.Errorf("stride[%d] = %d, expected %d", i, tensor.Strides[i], s)
		}
	}
}

func TestZerosAndFull(t *testing.T) {
	z, err := Zeros([]int{3, 2}, Float32)
	if err != nil {
		t.Fatalf("Zeros failed: %v", err)
	}
	data, _ := z.Float32Data()
	for i, v := range data {
		if v != 0 {
			t.Errorf("Zeros element %d = %f, expected 0", i, v)
		}
	}

	f, err := Full([]int{4}, 2.5)
	if err != nil {
		t.Fatalf("Full failed: %v", err)
	}
	fdata, _ := f.Float32Data()
	for i, v := range fdata {
		if v != 2.5 {
			t.Errorf("Full element %d = %f, expected 2.5", i, v)
		}
	}

	fi, err := FullInt64([]int{3}, 7)
	if err != nil {
		t.Fatalf("FullInt64 failed: %v", err)
	}
	idata, _ := fi.Int64Data()
	for i, v := range idata {
		if v != 7 {
			t.Errorf("FullInt64 element %d = %d, expected 7", i, v)
		}
	}
}

func TestDTypeString(t *testing.T) {
	tests := []struct {
		dtype    DType
		expected string
	}{
		{Float32, "Float32"},
		{Float16, "Float16"},
		{Int64, "Int64"},
		{DType(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.dtype.String(); got != tt.expected {
			t.Errorf("DType(%d).String() = %q, expected %q", tt.dtype, got, tt.expected)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	original, err := New([]int{2, 2}, Float32, []float32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	clone, err := original.Clone()
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}

	cloneData, _ := clone.Float32Data()
	cloneData[0] = 99

	origData, _ := original.Float32Data()
	if origData[0] != 1 {
		t.Errorf("mutating clone changed original: got %f, expected 1", origData[0])
	}
}

func TestReshape(t *testing.T) {
	tensor, err := New([]int{2, 6}, Float32, make([]float32, 12))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	tests := []struct {
		name     string
		newShape []int
		expected []int
		wantErr  bool
	}{
		{"explicit", []int{3, 4}, []int{3, 4}, false},
		{"inferred", []int{-1, 4}, []int{3, 4}, false},
		{"inferred last", []int{2, 2, -1}, []int{2, 2, 3}, false},
		{"wrong size", []int{5, 2}, nil, true},
		{"two inferred", []int{-1, -1}, nil, true},
		{"not divisible", []int{-1, 5}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := tensor.Reshape(tt.newShape)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Reshape(%v) error = %v, wantErr %v", tt.newShape, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			for i, dim := range tt.expected {
				if r.Shape[i] != dim {
					t.Errorf("shape[%d] = %d, expected %d", i, r.Shape[i], dim)
				}
			}
		})
	}
}

func TestReshapeSharesData(t *testing.T) {
	tensor, _ := New([]int{4}, Float32, []float32{1, 2, 3, 4})
	view, err := tensor.Reshape([]int{2, 2})
	if err != nil {
		t.Fatalf("Reshape failed: %v", err)
	}

	viewData, _ := view.Float32Data()
	viewData[3] = 40

	origData, _ := tensor.Float32Data()
	if origData[3] != 40 {
		t.Errorf("reshape should share data: got %f, expected 40", origData[3])
	}
}

func TestAt(t *testing.T) {
	tensor, _ := New([]int{2, 3}, Float32, []float32{1, 2, 3, 4, 5, 6})

	v, err := tensor.At(1, 2)
	if err != nil {
		t.Fatalf("At failed: %v", err)
	}
	if v != 6 {
		t.Errorf("At(1,2) = %f, expected 6", v)
	}

	if _, err := tensor.At(2, 0); err == nil {
		t.Error("expected out-of-bounds error")
	}
	if _, err := tensor.At(0); err == nil {
		t.Error("expected index-count error")
	}
}

func TestItem(t *testing.T) {
	s := FromScalar(3.5)
	v, err := s.Item()
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}
	if v != 3.5 {
		t.Errorf("Item() = %f, expected 3.5", v)
	}

	multi, _ := Zeros([]int{2}, Float32)
	if _, err := multi.Item(); err == nil {
		t.Error("expected error for multi-element tensor")
	}
}

func TestGradientAccumulation(t *testing.T) {
	p, _ := Zeros([]int{3}, Float32)
	p.SetRequiresGrad(true)

	if p.Grad() != nil {
		t.Fatal("fresh tensor should have nil grad")
	}

	d1, _ := New([]int{3}, Float32, []float32{1, 2, 3})
	if err := p.AccumulateGrad(d1); err != nil {
		t.Fatalf("AccumulateGrad failed: %v", err)
	}
	d2, _ := New([]int{3}, Float32, []float32{10, 20, 30})
	if err := p.AccumulateGrad(d2); err != nil {
		t.Fatalf("AccumulateGrad failed: %v", err)
	}

	grad, _ := p.Grad().Float32Data()
	expected := []float32{11, 22, 33}
	for i, v := range expected {
		if grad[i] != v {
			t.Errorf("grad[%d] = %f, expected %f", i, grad[i], v)
		}
	}

	ZeroGrad([]*Tensor{p})
	grad, _ = p.Grad().Float32Data()
	for i, v := range grad {
		if v != 0 {
			t.Errorf("grad[%d] = %f after ZeroGrad, expected 0", i, v)
		}
	}
}

func TestAccumulateGradShapeMismatch(t *testing.T) {
	p, _ := Zeros([]int{3}, Float32)
	bad, _ := Zeros([]int{4}, Float32)
	if err := p.AccumulateGrad(bad); err == nil {
		t.Error("expected shape mismatch error")
	}
}

func TestRandnDeterministic(t *testing.T) {
	a, err := Randn([]int{2, 5}, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("Randn failed: %v", err)
	}
	b, _ := Randn([]int{2, 5}, rand.New(rand.NewSource(42)))

	ad, _ := a.Float32Data()
	bd, _ := b.Float32Data()
	for i := range ad {
		if ad[i] != bd[i] {
			t.Errorf("same seed produced different values at %d: %f vs %f", i, ad[i], bd[i])
		}
	}
}

func TestFloat16RoundTrip(t *testing.T) {
	original, _ := New([]int{4}, Float32, []float32{0, 1, -0.5, 0.25})
	bits, err := original.ToFloat16Bits()
	if err != nil {
		t.Fatalf("ToFloat16Bits failed: %v", err)
	}

	restored, err := FromFloat16Bits([]int{4}, bits)
	if err != nil {
		t.Fatalf("FromFloat16Bits failed: %v", err)
	}

	// These values are exactly representable in half precision.
	od, _ := original.Float32Data()
	rd, _ := restored.Float32Data()
	for i := range od {
		if od[i] != rd[i] {
			t.Errorf("element %d = %f after round trip, expected %f", i, rd[i], od[i])
		}
	}

	if _, err := FromFloat16Bits([]int{5}, bits); err == nil {
		t.Error("expected length mismatch error")
	}
}
