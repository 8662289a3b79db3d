// Package fit locates a single Lorentzian transmission peak in a photodiode
// trace by damped nonlinear least squares.
package fit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrInvalidInput is returned for traces that cannot be fitted at all.
	ErrInvalidInput = errors.New("invalid fit input")

	// ErrImplausible marks a fit that converged to a non-physical peak.
	ErrImplausible = errors.New("implausible fit")
)

// Coefficients is the ordered triple [width, centroid, amplitude].
type Coefficients struct {
	Width     float64 `json:"width"`
	Centroid  float64 `json:"centroid"`
	Amplitude float64 `json:"amplitude"`
}

func (c Coefficients) String() string {
	return fmt.Sprintf("[%.6g, %.6g, %.6g]", c.Width, c.Centroid, c.Amplitude)
}

// Eval returns amplitude / (1 + k²(x-centroid)²) with k = 1/width.
func (c Coefficients) Eval(x float64) float64 {
	if c.Width == 0 {
		return 0
	}
	d := (x - c.Centroid) / c.Width
	return c.Amplitude / (1 + d*d)
}

// InitialGuess seeds a fit with the given width, the position of the largest
// sample and the peak-to-floor height.
func InitialGuess(x, y []float64, width float64) (Coefficients, error) {
	if len(x) == 0 || len(x) != len(y) {
		return Coefficients{}, fmt.Errorf("%w: %d x values, %d y values", ErrInvalidInput, len(x), len(y))
	}
	return Coefficients{
		Width:     width,
		Centroid:  x[floats.MaxIdx(y)],
		Amplitude: floats.Max(y) - floats.Min(y),
	}, nil
}

// Window returns a copy of y with every sample outside the central half,
// indices [n/4, 3n/4), set to zero.
func Window(y []float64) []float64 {
	n := len(y)
	out := make([]float64, n)
	copy(out[n/4:3*n/4], y[n/4:3*n/4])
	return out
}

// Gate decides whether a fitted centroid is physically meaningful.
type Gate struct {
	Lower     float64 // exclusive hardware bound
	Upper     float64 // exclusive hardware bound
	Tolerance float64 // allowed excursion beyond the scan window
}

// Check returns an error wrapping ErrImplausible unless
// Lower < centroid < Upper and centroid lies within [low-Tolerance,
// high+Tolerance] of the window it was fitted in.
func (g Gate) Check(centroid, low, high float64) error {
	switch {
	case math.IsNaN(centroid) || math.IsInf(centroid, 0):
		return fmt.Errorf("%w: centroid %v", ErrImplausible, centroid)
	case centroid <= g.Lower || centroid >= g.Upper:
		return fmt.Errorf("%w: centroid %.4f outside (%.4f, %.4f)", ErrImplausible, centroid, g.Lower, g.Upper)
	case centroid < low-g.Tolerance || centroid > high+g.Tolerance:
		return fmt.Errorf("%w: centroid %.4f outside window [%.4f, %.4f] ± %.4f",
			ErrImplausible, centroid, low, high, g.Tolerance)
	}
	return nil
}
