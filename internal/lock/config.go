// Package lock runs the transfer-cavity scan/fit/feedback loop.
//
// A Controller repeatedly sweeps the cavity piezo, fits the reference and
// laser transmission peaks, keeps the reference peak centred in the scan
// window and, when locked, steers the laser control voltage so the peak
// separation stays at the setpoint.
package lock

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrConfig is returned for a configuration the loop cannot start with.
	ErrConfig = errors.New("invalid lock configuration")

	// ErrNotRunning is returned by commands issued while the loop is stopped.
	ErrNotRunning = errors.New("lock loop not running")

	// ErrAlreadyRunning is returned by Start when a loop is active.
	ErrAlreadyRunning = errors.New("lock loop already running")

	// ErrQueueFull is returned when the command queue has no room left.
	ErrQueueFull = errors.New("command queue full")
)

// Settings are the operator-adjustable values a loop starts from.
type Settings struct {
	Steps        int     `json:"steps" mapstructure:"steps"`
	ScanOffset   float64 `json:"scan_offset" mapstructure:"scan_offset"`
	ScanWidth    float64 `json:"scan_width" mapstructure:"scan_width"` // full window width
	Gain         float64 `json:"gain" mapstructure:"gain"`
	LaserVoltage float64 `json:"laser_voltage" mapstructure:"laser_voltage"`
}

// HalfWidth returns the distance from the window centre to either bound.
func (s Settings) HalfWidth() float64 { return s.ScanWidth / 2 }

// Config is the immutable instrument configuration of a Controller.
type Config struct {
	// Laser control output range.
	LaserMin float64 `mapstructure:"laser_min"`
	LaserMax float64 `mapstructure:"laser_max"`

	// Cavity piezo output range and the margin kept from it when clamping.
	CavityMin   float64 `mapstructure:"cavity_min"`
	CavityMax   float64 `mapstructure:"cavity_max"`
	RampEpsilon float64 `mapstructure:"ramp_epsilon"`

	// Fixed Lorentzian widths for the reference and laser peaks.
	CavityFitWidth float64 `mapstructure:"cavity_fit_width"`
	LaserFitWidth  float64 `mapstructure:"laser_fit_width"`
	FitIterations  int     `mapstructure:"fit_iterations"`

	// WindowTolerance is how far outside the scan window a fitted centroid
	// may fall and still be trusted.
	WindowTolerance float64 `mapstructure:"window_tolerance"`

	// TweakGain is the setpoint change per tweak increment.
	TweakGain float64 `mapstructure:"tweak_gain"`

	LoopPeriod  time.Duration `mapstructure:"loop_period"`
	ScanTimeout time.Duration `mapstructure:"scan_timeout"`

	// Laser voltage changes outside the feedback law are walked in
	// StepDownSteps increments, StepDownDelay apart.
	StepDownSteps int           `mapstructure:"step_down_steps"`
	StepDownDelay time.Duration `mapstructure:"step_down_delay"`

	CommandQueue int `mapstructure:"command_queue"`

	Defaults Settings `mapstructure:"defaults"`
}

// DefaultConfig returns the configuration of the reference instrument.
func DefaultConfig() Config {
	return Config{
		LaserMin:        -10,
		LaserMax:        10,
		CavityMin:       0,
		CavityMax:       5,
		RampEpsilon:     0.01,
		CavityFitWidth:  0.01,
		LaserFitWidth:   0.002,
		FitIterations:   1000,
		WindowTolerance: 1.0,
		TweakGain:       0.001,
		LoopPeriod:      100 * time.Millisecond,
		ScanTimeout:     5 * time.Second,
		StepDownSteps:   50,
		StepDownDelay:   20 * time.Millisecond,
		CommandQueue:    64,
		Defaults: Settings{
			Steps:      100,
			ScanOffset: 3.0,
			ScanWidth:  0.3,
		},
	}
}

// Validate reports the first inconsistency in c.
func (c Config) Validate() error {
	switch {
	case !(c.LaserMin < c.LaserMax):
		return fmt.Errorf("%w: laser range [%v, %v]", ErrConfig, c.LaserMin, c.LaserMax)
	case !(c.CavityMin < c.CavityMax):
		return fmt.Errorf("%w: cavity range [%v, %v]", ErrConfig, c.CavityMin, c.CavityMax)
	case c.RampEpsilon < 0 || c.RampEpsilon >= (c.CavityMax-c.CavityMin)/2:
		return fmt.Errorf("%w: ramp epsilon %v", ErrConfig, c.RampEpsilon)
	case !(c.CavityFitWidth > 0) || !(c.LaserFitWidth > 0):
		return fmt.Errorf("%w: fit widths must be positive", ErrConfig)
	case c.FitIterations <= 0:
		return fmt.Errorf("%w: fit iterations %d", ErrConfig, c.FitIterations)
	case c.WindowTolerance < 0:
		return fmt.Errorf("%w: window tolerance %v", ErrConfig, c.WindowTolerance)
	case c.LoopPeriod < 0 || c.ScanTimeout < 0 || c.StepDownDelay < 0:
		return fmt.Errorf("%w: negative duration", ErrConfig)
	case c.StepDownSteps <= 0:
		return fmt.Errorf("%w: step down steps %d", ErrConfig, c.StepDownSteps)
	case c.CommandQueue <= 0:
		return fmt.Errorf("%w: command queue %d", ErrConfig, c.CommandQueue)
	}
	return c.ValidateSettings(c.Defaults)
}

// ValidateSettings checks s against the instrument ranges.
func (c Config) ValidateSettings(s Settings) error {
	switch {
	case s.Steps <= 0:
		return fmt.Errorf("%w: steps %d", ErrConfig, s.Steps)
	case !finite(s.ScanOffset) || !finite(s.ScanWidth) || !finite(s.Gain) || !finite(s.LaserVoltage):
		return fmt.Errorf("%w: non-finite setting", ErrConfig)
	case s.ScanWidth < 0:
		return fmt.Errorf("%w: scan width %v makes low above high", ErrConfig, s.ScanWidth)
	case s.LaserVoltage < c.LaserMin || s.LaserVoltage > c.LaserMax:
		return fmt.Errorf("%w: laser voltage %v outside [%v, %v]", ErrConfig, s.LaserVoltage, c.LaserMin, c.LaserMax)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
