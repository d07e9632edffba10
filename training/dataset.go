package training

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-diffuse/tensor"
)

// Dataset provides indexed access to point clouds. Every item must share
// the same [D, N] shape so items can be stacked into a batch.
type Dataset interface {
	Len() int
	GetItem(index int) (*tensor.Tensor, error)
}

// SliceDataset wraps a pre-built slice of point clouds.
type SliceDataset struct {
	items []*tensor.Tensor
}

// NewSliceDataset creates a dataset over the given clouds. All clouds must
// have the same two-dimensional shape.
func NewSliceDataset(items []*tensor.Tensor) (*SliceDataset, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("dataset must contain at least one item")
	}
	for i, item := range items {
		if len(item.Shape) != 2 {
			return nil, fmt.Errorf("item %d has %d dimensions, want 2 ([dims, points])", i, len(item.Shape))
		}
		if !tensor.SameShape(item, items[0]) {
			return nil, fmt.Errorf("item %d has shape %v, want %v", i, item.Shape, items[0].Shape)
		}
	}
	return &SliceDataset{items: items}, nil
}

func (d *SliceDataset) Len() int {
	return len(d.items)
}

func (d *SliceDataset) GetItem(index int) (*tensor.Tensor, error) {
	if index < 0 || index >= len(d.items) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", index, len(d.items))
	}
	return d.items[index], nil
}

// SyntheticShape names a generator for synthetic point cloud data.
type SyntheticShape int

const (
	ShapeSphere SyntheticShape = iota
	ShapeTorus
)

func (s SyntheticShape) String() string {
	switch s {
	case ShapeSphere:
		return "sphere"
	case ShapeTorus:
		return "torus"
	default:
		return fmt.Sprintf("SyntheticShape(%d)", int(s))
	}
}

// ParseSyntheticShape converts a shape name to its SyntheticShape value.
func ParseSyntheticShape(name string) (SyntheticShape, error) {
	switch name {
	case "sphere":
		return ShapeSphere, nil
	case "torus":
		return ShapeTorus, nil
	default:
		return 0, fmt.Errorf("unknown synthetic shape %q", name)
	}
}

// NewSyntheticDataset generates size point clouds of numPoints points each,
// sampled from the surface of the given shape with small Gaussian jitter and
// scaled to roughly fit [-0.5, 0.5] per coordinate.
func NewSyntheticDataset(shape SyntheticShape, size, numPoints int, jitter float64, rng *rand.Rand) (*SliceDataset, error) {
	if size < 1 {
		return nil, fmt.Errorf("dataset size must be at least 1, got %d", size)
	}
	if numPoints < 1 {
		return nil, fmt.Errorf("points per cloud must be at least 1, got %d", numPoints)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	items := make([]*tensor.Tensor, size)
	for i := range items {
		data := make([]float32, 3*numPoints)
		for p := 0; p < numPoints; p++ {
			var x, y, z float64
			switch shape {
			case ShapeSphere:
				// Uniform on the unit sphere, scaled to radius 0.5.
				u := rng.NormFloat64()
				v := rng.NormFloat64()
				w := rng.NormFloat64()
				norm := math.Sqrt(u*u+v*v+w*w) + 1e-12
				x, y, z = 0.5*u/norm, 0.5*v/norm, 0.5*w/norm
			case ShapeTorus:
				// Major radius 0.35, minor radius 0.12 keeps the surface
				// inside the unit box after jitter.
				theta := 2 * math.Pi * rng.Float64()
				phi := 2 * math.Pi * rng.Float64()
				const major, minor = 0.35, 0.12
				x = (major + minor*math.Cos(phi)) * math.Cos(theta)
				y = (major + minor*math.Cos(phi)) * math.Sin(theta)
				z = minor * math.Sin(phi)
			default:
				return nil, fmt.Errorf("unknown synthetic shape %v", shape)
			}
			data[0*numPoints+p] = float32(x + jitter*rng.NormFloat64())
			data[1*numPoints+p] = float32(y + jitter*rng.NormFloat64())
			data[2*numPoints+p] = float32(z + jitter*rng.NormFloat64())
		}
		item, err := tensor.New([]int{3, numPoints}, tensor.Float32, data)
		if err != nil {
			return nil, fmt.Errorf("building synthetic cloud %d: %v", i, err)
		}
		items[i] = item
	}

	return NewSliceDataset(items)
}
