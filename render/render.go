// Package render draws sampled strokes and model diagnostics to image files.
// It is pure I/O convenience over the model's outputs.
package render

import (
	"fmt"
	"image/color"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Draw renders a (T x 3) matrix of stroke offsets (dx, dy, pen lift) as
// handwriting: offsets are accumulated into absolute positions and the pen
// path is broken into segments wherever the pen lifts.
func Draw(offsets *mat.Dense, title, path string) error {
	T, c := offsets.Dims()
	if c != 3 {
		return fmt.Errorf("render: offsets are (%d x %d), want (T x 3)", T, c)
	}

	p := plot.New()
	p.Title.Text = title
	p.HideAxes()

	var x, y float64
	seg := plotter.XYs{}
	flush := func() error {
		if len(seg) < 2 {
			seg = seg[:0]
			return nil
		}
		line, err := plotter.NewLine(seg)
		if err != nil {
			return err
		}
		line.Color = color.RGBA{B: 255, A: 255}
		p.Add(line)
		seg = plotter.XYs{}
		return nil
	}

	for t := 0; t < T; t++ {
		x += offsets.At(t, 0)
		y += offsets.At(t, 1)
		seg = append(seg, plotter.XY{X: x, Y: y})
		if offsets.At(t, 2) == 1 {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	return p.Save(12*vg.Inch, 3*vg.Inch, path)
}

// matGrid adapts a mat.Dense to the heat map's grid interface, with matrix
// rows on the vertical axis.
type matGrid struct{ m *mat.Dense }

func (g matGrid) Dims() (int, int) {
	r, c := g.m.Dims()
	return c, r
}
func (g matGrid) Z(c, r int) float64 { return g.m.At(r, c) }
func (g matGrid) X(c int) float64    { return float64(c) }
func (g matGrid) Y(r int) float64    { return float64(r) }

// HeatMap renders a weight matrix, e.g. the attention phi across sampling
// steps and context positions.
func HeatMap(m *mat.Dense, title, path string) error {
	p := plot.New()
	p.Title.Text = title
	p.Add(plotter.NewHeatMap(matGrid{m: m}, palette.Heat(12, 1)))
	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}

// Lines plots one labelled line per matrix row, e.g. the kappa components
// advancing over sampling steps.
func Lines(m *mat.Dense, title, path string) error {
	p := plot.New()
	p.Title.Text = title
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		xys := make(plotter.XYs, c)
		for j := 0; j < c; j++ {
			xys[j] = plotter.XY{X: float64(j), Y: m.At(i, j)}
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("%d", i), line)
	}
	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}
