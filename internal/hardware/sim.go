package hardware

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// SimConfig describes the spectrum the simulator produces. Peak positions are
// in cavity piezo volts.
type SimConfig struct {
	CavityPeak      float64 `mapstructure:"cavity_peak"`
	CavityWidth     float64 `mapstructure:"cavity_width"`
	CavityAmplitude float64 `mapstructure:"cavity_amplitude"`

	LaserPeak      float64 `mapstructure:"laser_peak"`
	LaserWidth     float64 `mapstructure:"laser_width"`
	LaserAmplitude float64 `mapstructure:"laser_amplitude"`

	// LaserCoupling shifts the laser peak by this many cavity volts per
	// volt on the laser control output.
	LaserCoupling float64 `mapstructure:"laser_coupling"`

	// Drift moves the cavity peak (and the laser peak with it) by this
	// many volts on every sweep.
	Drift float64 `mapstructure:"drift"`

	Noise        float64       `mapstructure:"noise"`
	Seed         int64         `mapstructure:"seed"`
	SamplePeriod time.Duration `mapstructure:"sample_period"`
}

// DefaultSimConfig returns a spectrum with both peaks inside the default scan
// window.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		CavityPeak:      3.02,
		CavityWidth:     0.01,
		CavityAmplitude: 1.0,
		LaserPeak:       3.10,
		LaserWidth:      0.002,
		LaserAmplitude:  0.8,
		LaserCoupling:   0.05,
		Noise:           0.0,
		Seed:            1,
	}
}

// Simulator is a Device that synthesizes Lorentzian transmission peaks. It
// also records what was asked of it so tests can inspect the trigger line
// and the laser output history.
type Simulator struct {
	mu sync.Mutex

	cfg SimConfig
	rng *rand.Rand

	ramp  []float64
	armed bool
	laser float64

	trigger  bool
	edges    []bool
	laserLog []float64
	sweeps   int
	released int
	failures []error
}

var _ Device = (*Simulator)(nil)

// NewSimulator returns a simulated device.
func NewSimulator(cfg SimConfig) *Simulator {
	return &Simulator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// ArmScan implements Device.
func (s *Simulator) ArmScan(ctx context.Context, ramp []float64) error {
	if len(ramp) == 0 {
		return fmt.Errorf("arm scan: empty ramp")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ramp = append(s.ramp[:0], ramp...)
	s.armed = true
	return nil
}

// ExecuteScan implements Device.
func (s *Simulator) ExecuteScan(ctx context.Context) (Samples, error) {
	s.mu.Lock()
	if !s.armed {
		s.mu.Unlock()
		return Samples{}, ErrNotArmed
	}
	s.armed = false
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		s.mu.Unlock()
		return Samples{}, err
	}
	s.setTrigger(true)
	ramp := append([]float64(nil), s.ramp...)
	period := s.cfg.SamplePeriod
	s.mu.Unlock()

	if period > 0 {
		t := time.NewTimer(time.Duration(len(ramp)) * period)
		defer t.Stop()
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.setTrigger(false)
			s.mu.Unlock()
			return Samples{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		case <-t.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := Samples{P1: make([]float64, len(ramp)), P2: make([]float64, len(ramp))}
	laserPeak := s.cfg.LaserPeak + s.cfg.LaserCoupling*s.laser
	for i, v := range ramp {
		out.P1[i] = lorentzian(v, s.cfg.CavityPeak, s.cfg.CavityWidth, s.cfg.CavityAmplitude) + s.noise()
		out.P2[i] = lorentzian(v, laserPeak, s.cfg.LaserWidth, s.cfg.LaserAmplitude) + s.noise()
	}
	s.cfg.CavityPeak += s.cfg.Drift
	s.cfg.LaserPeak += s.cfg.Drift
	s.sweeps++
	s.setTrigger(false)
	return out, nil
}

// WriteLaserVoltage implements Device.
func (s *Simulator) WriteLaserVoltage(ctx context.Context, volts float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.laser = volts
	s.laserLog = append(s.laserLog, volts)
	return nil
}

// ReleaseControl implements Device.
func (s *Simulator) ReleaseControl() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
	s.armed = false
	return nil
}

// FailNext queues err to be returned by the next ExecuteScan calls, one per
// call.
func (s *Simulator) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// SetPeaks moves both peaks.
func (s *Simulator) SetPeaks(cavity, laser float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.CavityPeak = cavity
	s.cfg.LaserPeak = laser
}

// LaserVoltage returns the last value written to the laser output.
func (s *Simulator) LaserVoltage() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.laser
}

// LaserHistory returns every value written to the laser output, in order.
func (s *Simulator) LaserHistory() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.laserLog...)
}

// TriggerEdges returns the trigger line levels in the order they were set.
func (s *Simulator) TriggerEdges() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.edges...)
}

// LastRamp returns the most recently armed waveform.
func (s *Simulator) LastRamp() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.ramp...)
}

// Sweeps returns the number of completed sweeps.
func (s *Simulator) Sweeps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweeps
}

// Released returns how many times ReleaseControl was called.
func (s *Simulator) Released() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// setTrigger must be called with s.mu held.
func (s *Simulator) setTrigger(level bool) {
	s.trigger = level
	s.edges = append(s.edges, level)
}

func (s *Simulator) noise() float64 {
	if s.cfg.Noise == 0 {
		return 0
	}
	return s.cfg.Noise * s.rng.NormFloat64()
}

func lorentzian(x, centroid, width, amplitude float64) float64 {
	if width == 0 {
		return 0
	}
	d := (x - centroid) / math.Abs(width)
	return amplitude / (1 + d*d)
}
