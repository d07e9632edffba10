// Package viz renders point clouds and training curves to image files.
// Clouds are projected onto a coordinate plane, which is enough to eyeball
// whether sampled geometry is converging toward the data distribution.
package viz

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/tsawler/go-diffuse/tensor"
)

// Plane selects which two coordinates of a cloud are plotted.
type Plane int

const (
	PlaneXY Plane = iota
	PlaneXZ
	PlaneYZ
)

func (p Plane) String() string {
	switch p {
	case PlaneXY:
		return "xy"
	case PlaneXZ:
		return "xz"
	case PlaneYZ:
		return "yz"
	default:
		return fmt.Sprintf("Plane(%d)", int(p))
	}
}

// ParsePlane resolves a projection plane by name.
func ParsePlane(name string) (Plane, error) {
	switch name {
	case "xy":
		return PlaneXY, nil
	case "xz":
		return PlaneXZ, nil
	case "yz":
		return PlaneYZ, nil
	default:
		return 0, fmt.Errorf("unknown projection plane %q", name)
	}
}

func (p Plane) axes() (int, int) {
	switch p {
	case PlaneXZ:
		return 0, 2
	case PlaneYZ:
		return 1, 2
	default:
		return 0, 1
	}
}

// cloudPoints projects one batch row of a [B, D, N] tensor onto a plane.
func cloudPoints(batch *tensor.Tensor, row int, plane Plane) (plotter.XYs, error) {
	if len(batch.Shape) != 3 {
		return nil, fmt.Errorf("expected [B, D, N] tensor, got shape %v", batch.Shape)
	}
	dims, points := batch.Shape[1], batch.Shape[2]
	a, b := plane.axes()
	if a >= dims || b >= dims {
		return nil, fmt.Errorf("plane %v needs %d dimensions, cloud has %d", plane, b+1, dims)
	}

	data, err := batch.Float32Data()
	if err != nil {
		return nil, err
	}

	block := dims * points
	xys := make(plotter.XYs, points)
	for p := 0; p < points; p++ {
		xys[p].X = float64(data[row*block+a*points+p])
		xys[p].Y = float64(data[row*block+b*points+p])
	}
	return xys, nil
}

// RenderClouds overlays up to maxClouds batch rows as scatter plots and
// writes the result as a PNG.
func RenderClouds(path, title string, batch *tensor.Tensor, plane Plane, maxClouds int) error {
	if len(batch.Shape) != 3 {
		return fmt.Errorf("expected [B, D, N] tensor, got shape %v", batch.Shape)
	}
	count := batch.Shape[0]
	if maxClouds > 0 && count > maxClouds {
		count = maxClouds
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = plane.String()[:1]
	p.Y.Label.Text = plane.String()[1:]

	for row := 0; row < count; row++ {
		xys, err := cloudPoints(batch, row, plane)
		if err != nil {
			return err
		}
		scatter, err := plotter.NewScatter(xys)
		if err != nil {
			return fmt.Errorf("building scatter for cloud %d: %v", row, err)
		}
		scatter.GlyphStyle.Radius = vg.Points(1.5)
		scatter.GlyphStyle.Color = plotutil.Color(row)
		p.Add(scatter)
	}

	if err := p.Save(5*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("saving plot: %v", err)
	}
	return nil
}

// RenderTrajectory writes one PNG per snapshot of a sampling trajectory
// into dir, named by snapshot position.
func RenderTrajectory(dir, prefix string, snapshots []*tensor.Tensor, plane Plane, maxClouds int) error {
	if len(snapshots) == 0 {
		return fmt.Errorf("trajectory contains no snapshots")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %v", err)
	}
	for i, snap := range snapshots {
		path := filepath.Join(dir, fmt.Sprintf("%s-%03d.png", prefix, i))
		title := fmt.Sprintf("%s snapshot %d/%d", prefix, i, len(snapshots)-1)
		if err := RenderClouds(path, title, snap, plane, maxClouds); err != nil {
			return fmt.Errorf("rendering snapshot %d: %v", i, err)
		}
	}
	return nil
}

// RenderLossCurve plots per-epoch losses and writes the result as a PNG.
func RenderLossCurve(path string, losses []float64) error {
	if len(losses) == 0 {
		return fmt.Errorf("no losses to plot")
	}

	xys := make(plotter.XYs, len(losses))
	for i, l := range losses {
		xys[i].X = float64(i)
		xys[i].Y = l
	}

	p := plot.New()
	p.Title.Text = "training loss"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "loss"

	line, err := plotter.NewLine(xys)
	if err != nil {
		return fmt.Errorf("building loss line: %v", err)
	}
	line.LineStyle.Width = vg.Points(1)
	p.Add(line)
	p.Add(plotter.NewGrid())

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("saving plot: %v", err)
	}
	return nil
}
