// Package scan describes cavity sweeps and runs them on a hardware.Device.
package scan

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidParameters is returned when bounds or step counts would break
// the sweep invariants.
var ErrInvalidParameters = errors.New("invalid scan parameters")

// Parameters describes one sweep: voltage bounds, sample count and the last
// fitted peak position. Bounds and steps are only reachable through setters
// so StepSize always matches them.
type Parameters struct {
	low      float64
	high     float64
	steps    int
	stepSize float64

	// SleepTime is the inter-sample delay for sweeps that are not timed by
	// the hardware clock.
	SleepTime time.Duration

	// SetPoint is the last known peak voltage.
	SetPoint float64

	// Record keeps the sampled photodiode traces of the sweep.
	Record bool
}

// NewParameters returns parameters for a sweep from low to high in steps
// samples, with recording enabled.
func NewParameters(low, high float64, steps int) (*Parameters, error) {
	p := &Parameters{Record: true}
	if err := p.SetSteps(steps); err != nil {
		return nil, err
	}
	if err := p.SetBounds(low, high); err != nil {
		return nil, err
	}
	return p, nil
}

// Low returns the lower bound in volts.
func (p *Parameters) Low() float64 { return p.low }

// High returns the upper bound in volts.
func (p *Parameters) High() float64 { return p.high }

// Steps returns the number of samples per sweep leg.
func (p *Parameters) Steps() int { return p.steps }

// StepSize returns (High-Low)/Steps.
func (p *Parameters) StepSize() float64 { return p.stepSize }

// Center returns the midpoint of the window.
func (p *Parameters) Center() float64 { return (p.low + p.high) / 2 }

// SetBounds moves the window. low must not exceed high.
func (p *Parameters) SetBounds(low, high float64) error {
	if math.IsNaN(low) || math.IsNaN(high) || math.IsInf(low, 0) || math.IsInf(high, 0) {
		return fmt.Errorf("%w: non-finite bounds [%v, %v]", ErrInvalidParameters, low, high)
	}
	if low > high {
		return fmt.Errorf("%w: low %.4f above high %.4f", ErrInvalidParameters, low, high)
	}
	p.low, p.high = low, high
	p.adjustStepSize()
	return nil
}

// SetSteps changes the sample count per leg.
func (p *Parameters) SetSteps(steps int) error {
	if steps <= 0 {
		return fmt.Errorf("%w: steps must be positive, got %d", ErrInvalidParameters, steps)
	}
	p.steps = steps
	p.adjustStepSize()
	return nil
}

func (p *Parameters) adjustStepSize() {
	if p.steps == 0 {
		p.stepSize = 0
		return
	}
	p.stepSize = (p.high - p.low) / float64(p.steps)
}

// Voltages returns the ascending leg of the sweep: Steps values starting at
// Low, StepSize apart.
func (p *Parameters) Voltages() []float64 {
	v := make([]float64, p.steps)
	for i := range v {
		v[i] = p.low + float64(i)*p.stepSize
	}
	return v
}

// View is a serializable snapshot of Parameters.
type View struct {
	Low       float64       `json:"low"`
	High      float64       `json:"high"`
	Steps     int           `json:"steps"`
	StepSize  float64       `json:"step_size"`
	SleepTime time.Duration `json:"sleep_time"`
	SetPoint  float64       `json:"set_point"`
	Record    bool          `json:"record"`
}

// View returns a snapshot of p.
func (p *Parameters) View() View {
	return View{
		Low:       p.low,
		High:      p.high,
		Steps:     p.steps,
		StepSize:  p.stepSize,
		SleepTime: p.SleepTime,
		SetPoint:  p.SetPoint,
		Record:    p.Record,
	}
}
