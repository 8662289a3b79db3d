package scan

import "errors"

// ErrRangeViolation reports a commanded voltage outside the hardware range.
// It is a warning: the offending samples are clamped and the sweep goes on.
var ErrRangeViolation = errors.New("voltage out of hardware range")

// Limits is the safe output range of the piezo driver.
type Limits struct {
	Lower   float64
	Upper   float64
	Epsilon float64 // distance kept from a bound when clamping
}

// Ramp returns the round-trip waveform for p: the ascending leg followed by
// the same samples in reverse, so consecutive sweeps join without a jump.
// ramp[i] == ramp[2*steps-1-i] for every i.
func Ramp(p *Parameters) []float64 {
	up := p.Voltages()
	n := len(up)
	ramp := make([]float64, 2*n)
	for i, v := range up {
		ramp[i] = v
		ramp[2*n-1-i] = v
	}
	return ramp
}

// Clamp replaces samples at or beyond a limit with the limit pulled in by
// Epsilon. It returns the number of samples replaced.
func (l Limits) Clamp(ramp []float64) int {
	clamped := 0
	for i, v := range ramp {
		switch {
		case v >= l.Upper:
			ramp[i] = l.Upper - l.Epsilon
			clamped++
		case v < l.Lower:
			ramp[i] = l.Lower + l.Epsilon
			clamped++
		}
	}
	return clamped
}
