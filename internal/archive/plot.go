package archive

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"transfer_cavity_lock/internal/lock"
)

var (
	cavityColor = color.RGBA{R: 200, G: 30, B: 30, A: 255}
	laserColor  = color.RGBA{R: 30, G: 30, B: 200, A: 255}
)

// RenderTraces plots both photodiode traces against the commanded cavity
// voltage and returns the PNG encoder.
func RenderTraces(t *lock.Traces) (io.WriterTo, error) {
	if t == nil || len(t.Voltages) == 0 {
		return nil, fmt.Errorf("no traces to plot")
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Iteration %d (%s)", t.Iteration, t.State)
	p.X.Label.Text = "Cavity voltage (V)"
	p.Y.Label.Text = "Photodiode signal"

	add := func(label string, y []float64, c color.Color) error {
		pts := make(plotter.XYs, 0, len(y))
		for i, v := range y {
			if i >= len(t.Voltages) {
				break
			}
			pts = append(pts, plotter.XY{X: t.Voltages[i], Y: v})
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("%s line: %w", label, err)
		}
		line.Color = c
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(label, line)
		return nil
	}
	if err := add("cavity", t.Cavity, cavityColor); err != nil {
		return nil, err
	}
	if err := add("laser", t.Laser, laserColor); err != nil {
		return nil, err
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
}
