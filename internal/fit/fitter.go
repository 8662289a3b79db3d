package fit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrDiverged is returned when the fit produces non-finite coefficients.
var ErrDiverged = errors.New("fit diverged")

const (
	defaultMaxIterations = 1000
	defaultTolerance     = 1e-12

	lambdaStart = 1e-3
	lambdaMax   = 1e12
)

// Result is the outcome of one fit.
type Result struct {
	Coefficients
	MSE        float64 `json:"mse"`
	Iterations int     `json:"iterations"`
	Converged  bool    `json:"converged"`
}

// Fitter fits a fixed-width Lorentzian by Levenberg-Marquardt. The width in
// the guess is the lineshape constant for the channel and is not refined;
// centroid and amplitude are.
type Fitter struct {
	MaxIterations int
	// Tolerance is the relative drop in squared error below which the fit
	// counts as converged.
	Tolerance float64
}

// NewFitter returns a fitter bounded to maxIterations steps.
func NewFitter(maxIterations int) *Fitter {
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	return &Fitter{MaxIterations: maxIterations, Tolerance: defaultTolerance}
}

// Fit refines guess against the samples (x, y).
func (f *Fitter) Fit(x, y []float64, guess Coefficients) (Result, error) {
	n := len(x)
	if n < 2 || n != len(y) {
		return Result{}, fmt.Errorf("%w: %d x values, %d y values", ErrInvalidInput, n, len(y))
	}
	if guess.Width == 0 || math.IsNaN(guess.Width) {
		return Result{}, fmt.Errorf("%w: width %v", ErrInvalidInput, guess.Width)
	}

	maxIter := f.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	tol := f.Tolerance
	if tol <= 0 {
		tol = defaultTolerance
	}

	cur := guess
	res := make([]float64, n)
	sse := residuals(res, x, y, cur)

	jac := mat.NewDense(n, 2, nil)
	var jtj mat.Dense
	var jtr, step mat.VecDense
	a := mat.NewDense(2, 2, nil)

	lambda := lambdaStart
	out := Result{}
	for out.Iterations < maxIter {
		out.Iterations++
		jacobian(jac, x, cur)
		jtj.Mul(jac.T(), jac)
		jtr.MulVec(jac.T(), mat.NewVecDense(n, res))

		improved := false
		for lambda <= lambdaMax {
			for i := 0; i < 2; i++ {
				for j := 0; j < 2; j++ {
					v := jtj.At(i, j)
					if i == j {
						v = v*(1+lambda) + lambda*1e-9
					}
					a.Set(i, j, v)
				}
			}
			if err := step.SolveVec(a, &jtr); err != nil {
				var cond mat.Condition
				if !errors.As(err, &cond) {
					lambda *= 10
					continue
				}
			}
			next := cur
			next.Centroid += step.AtVec(0)
			next.Amplitude += step.AtVec(1)
			trial := residuals(res, x, y, next)
			if trial < sse {
				drop := sse - trial
				cur, sse = next, trial
				lambda /= 10
				improved = true
				if drop <= tol*math.Max(sse, tol) {
					out.Converged = true
				}
				break
			}
			lambda *= 10
		}
		if !improved {
			// no downhill step left: restore residuals of the accepted point
			residuals(res, x, y, cur)
			out.Converged = true
		}
		if out.Converged {
			break
		}
	}

	if math.IsNaN(cur.Centroid) || math.IsInf(cur.Centroid, 0) ||
		math.IsNaN(cur.Amplitude) || math.IsInf(cur.Amplitude, 0) {
		return Result{}, fmt.Errorf("%w after %d iterations", ErrDiverged, out.Iterations)
	}
	out.Coefficients = cur
	out.MSE = sse / float64(n)
	return out, nil
}

// residuals fills res with y - f(x) and returns the squared error.
func residuals(res, x, y []float64, c Coefficients) float64 {
	for i := range x {
		res[i] = y[i] - c.Eval(x[i])
	}
	return floats.Dot(res, res)
}

// jacobian fills jac with the partial derivatives of the model with respect
// to centroid and amplitude.
func jacobian(jac *mat.Dense, x []float64, c Coefficients) {
	k2 := 1 / (c.Width * c.Width)
	for i, xi := range x {
		d := xi - c.Centroid
		den := 1 + k2*d*d
		jac.Set(i, 0, 2*c.Amplitude*k2*d/(den*den))
		jac.Set(i, 1, 1/den)
	}
}
