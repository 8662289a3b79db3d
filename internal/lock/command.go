package lock

import (
	"fmt"
	"math"
)

// Command is a typed request from the interactive side to the loop. Commands
// are queued and applied at the start of the next iteration, never during a
// sweep.
type Command interface {
	validate(cfg Config) error
	apply(r *run)
}

// SetGain changes the feedback gain.
type SetGain struct{ Gain float64 }

// SetScanWidth changes the full scan window width. The centre is kept.
type SetScanWidth struct{ Width float64 }

// SetScanOffset moves the free-running window centre.
type SetScanOffset struct{ Offset float64 }

// SetSteps changes the number of samples per sweep.
type SetSteps struct{ Steps int }

// Tweak nudges the locked setpoint by TweakGain per increment. Counts add up
// until the next locked iteration consumes them.
type Tweak struct{ Increments, Decrements int }

// SetLaserVoltage walks the laser output to Volts while the laser is not
// locked.
type SetLaserVoltage struct{ Volts float64 }

// SetSetPoint replaces the locked peak separation.
type SetSetPoint struct{ SetPoint float64 }

func (c SetGain) validate(Config) error {
	if !finite(c.Gain) {
		return fmt.Errorf("%w: gain %v", ErrConfig, c.Gain)
	}
	return nil
}

func (c SetGain) apply(r *run) { r.settings.Gain = c.Gain }

func (c SetScanWidth) validate(cfg Config) error {
	if !finite(c.Width) || c.Width < 0 || c.Width >= cfg.CavityMax-cfg.CavityMin {
		return fmt.Errorf("%w: scan width %v", ErrConfig, c.Width)
	}
	return nil
}

func (c SetScanWidth) apply(r *run) {
	r.settings.ScanWidth = c.Width
	center := r.params.Center()
	if r.state == FreeRunning {
		center = r.settings.ScanOffset
	}
	r.setWindow(center)
}

func (c SetScanOffset) validate(cfg Config) error {
	if !finite(c.Offset) || c.Offset <= cfg.CavityMin || c.Offset >= cfg.CavityMax {
		return fmt.Errorf("%w: scan offset %v outside (%v, %v)", ErrConfig, c.Offset, cfg.CavityMin, cfg.CavityMax)
	}
	return nil
}

func (c SetScanOffset) apply(r *run) {
	r.settings.ScanOffset = c.Offset
	if r.state == FreeRunning {
		r.setWindow(c.Offset)
	}
}

func (c SetSteps) validate(Config) error {
	if c.Steps <= 0 {
		return fmt.Errorf("%w: steps %d", ErrConfig, c.Steps)
	}
	return nil
}

func (c SetSteps) apply(r *run) {
	r.settings.Steps = c.Steps
	_ = r.params.SetSteps(c.Steps)
}

func (c Tweak) validate(Config) error {
	if c.Increments < 0 || c.Decrements < 0 {
		return fmt.Errorf("%w: negative tweak count", ErrConfig)
	}
	return nil
}

func (c Tweak) apply(r *run) {
	r.increments += c.Increments
	r.decrements += c.Decrements
}

func (c SetLaserVoltage) validate(cfg Config) error {
	if math.IsNaN(c.Volts) || c.Volts < cfg.LaserMin || c.Volts > cfg.LaserMax {
		return fmt.Errorf("%w: laser voltage %v outside [%v, %v]", ErrConfig, c.Volts, cfg.LaserMin, cfg.LaserMax)
	}
	return nil
}

func (c SetLaserVoltage) apply(r *run) {
	v := c.Volts
	r.settings.LaserVoltage = v
	r.target = &v
}

func (c SetSetPoint) validate(Config) error {
	if !finite(c.SetPoint) {
		return fmt.Errorf("%w: setpoint %v", ErrConfig, c.SetPoint)
	}
	return nil
}

func (c SetSetPoint) apply(r *run) { r.setPoint = c.SetPoint }
