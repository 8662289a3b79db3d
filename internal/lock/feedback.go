package lock

import (
	"fmt"
	"math"

	"transfer_cavity_lock/internal/scan"
)

// Round rounds x to the given number of decimal places.
func Round(x float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(x*p) / p
}

// Deviation returns the locked error signal: the measured peak separation
// minus the setpoint, rounded to 4 places.
func Deviation(cavityCentroid, laserCentroid, setPoint float64) float64 {
	return Round((laserCentroid-cavityCentroid)-setPoint, 4)
}

// Feedback returns the next laser voltage, current - gain*deviation rounded
// to 4 places. If that would leave [lower, upper] the current voltage is
// returned unchanged together with an error wrapping scan.ErrRangeViolation.
func Feedback(current, gain, deviation, lower, upper float64) (float64, error) {
	next := current - gain*deviation
	if next > upper || next < lower || math.IsNaN(next) {
		return current, fmt.Errorf("%w: laser voltage %.4f outside [%.4f, %.4f], holding %.4f",
			scan.ErrRangeViolation, next, lower, upper, current)
	}
	return Round(next, 4), nil
}

// StepValues returns the n intermediate voltages that walk linearly from
// from to to. The last value is exactly to.
func StepValues(from, to float64, n int) []float64 {
	if n <= 0 {
		n = 1
	}
	out := make([]float64, n)
	delta := (to - from) / float64(n)
	for i := 1; i < n; i++ {
		out[i-1] = from + float64(i)*delta
	}
	out[n-1] = to
	return out
}
