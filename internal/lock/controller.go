package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"transfer_cavity_lock/internal/fit"
	"transfer_cavity_lock/internal/hardware"
	"transfer_cavity_lock/internal/logger"
	"transfer_cavity_lock/internal/scan"
)

// PeakFitter fits a fixed-width Lorentzian; *fit.Fitter implements it.
type PeakFitter interface {
	Fit(x, y []float64, guess fit.Coefficients) (fit.Result, error)
}

// Status is a point-in-time view of the loop for display.
type Status struct {
	State        State       `json:"state"`
	Running      bool        `json:"running"`
	Settings     Settings    `json:"settings"`
	Window       scan.View   `json:"window"`
	SetPoint     float64     `json:"set_point"`
	LaserVoltage float64     `json:"laser_voltage"`
	Deviation    float64     `json:"deviation"`
	Increments   int         `json:"increments"`
	Decrements   int         `json:"decrements"`
	CavityFit    *fit.Result `json:"cavity_fit,omitempty"`
	LaserFit     *fit.Result `json:"laser_fit,omitempty"`
	Iteration    int64       `json:"iteration"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Controller owns the control state and the background loop. The loop is
// the only user of the device while it runs.
type Controller struct {
	cfg    Config
	dev    hardware.Device
	exec   *scan.Executor
	fitter PeakFitter
	obs    Observer
	log    *logger.Logger
	now    func() time.Time

	mu      sync.Mutex
	state   State
	run     *run
	started bool // a loop has owned the device at least once
	status  Status
	traces  *Traces

	// stopMu guards stopRequested only; the loop takes it at iteration
	// boundaries.
	stopMu        sync.Mutex
	stopRequested bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver registers the presentation observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.obs = o }
}

// WithLogger sets the controller logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithFitter replaces the Levenberg-Marquardt fitter.
func WithFitter(f PeakFitter) Option {
	return func(c *Controller) { c.fitter = f }
}

// WithClock sets the time source for notices and traces.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New returns a stopped controller for dev.
func New(cfg Config, dev hardware.Device, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: no device", ErrConfig)
	}
	c := &Controller{
		cfg:    cfg,
		dev:    dev,
		fitter: fit.NewFitter(cfg.FitIterations),
		obs:    nopObserver{},
		now:    time.Now,
		state:  Stopped,
	}
	for _, o := range opts {
		o(c)
	}
	c.log = logger.OrNop(c.log)
	if c.obs == nil {
		c.obs = nopObserver{}
	}
	c.exec = scan.NewExecutor(dev,
		scan.Limits{Lower: cfg.CavityMin, Upper: cfg.CavityMax, Epsilon: cfg.RampEpsilon},
		scan.WithTimeout(cfg.ScanTimeout),
		scan.WithLogger(c.log),
		scan.WithWarningHandler(func(err error) {
			c.notice(LevelWarning, NoticeRangeViolation, err)
		}),
	)
	c.status = Status{State: Stopped, Settings: cfg.Defaults}
	return c, nil
}

// Config returns the controller configuration.
func (c *Controller) Config() Config { return c.cfg }

// Start validates s and launches the loop in FREERUNNING. The loop runs
// until StopRamp, a fatal hardware error, or cancellation of ctx.
func (c *Controller) Start(ctx context.Context, s Settings) error {
	if err := c.cfg.ValidateSettings(s); err != nil {
		return err
	}
	half := s.HalfWidth()
	params, err := scan.NewParameters(s.ScanOffset-half, s.ScanOffset+half, s.Steps)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	params.SetPoint = s.ScanOffset

	c.mu.Lock()
	if c.run != nil {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	r := newRun(c.cfg, s, params)
	c.run = r
	c.started = true
	c.traces = nil
	c.status = r.status(FreeRunning, c.now())
	c.mu.Unlock()

	c.stopMu.Lock()
	c.stopRequested = false
	c.stopMu.Unlock()

	c.log.Infow("lock_loop_started",
		"low", params.Low(), "high", params.High(), "steps", s.Steps, "gain", s.Gain)
	c.transition(FreeRunning, func(State) bool { return true })

	go c.loop(ctx, r)
	return nil
}

// StopRamp moves to STOPPED and asks the loop to finish after the current
// iteration. The loop then walks the laser to zero and releases the device.
func (c *Controller) StopRamp() error {
	if !c.transition(Stopped, running) {
		return ErrNotRunning
	}
	c.stopMu.Lock()
	c.stopRequested = true
	c.stopMu.Unlock()

	c.mu.Lock()
	if r := c.run; r != nil {
		select {
		case r.wake <- struct{}{}:
		default:
		}
	}
	c.mu.Unlock()
	return nil
}

// EngageLock measures the setpoint on the next iteration and then locks.
func (c *Controller) EngageLock() error { return c.command(LaserLocking) }

// DisengageLock stops laser feedback but keeps the cavity window tracking.
func (c *Controller) DisengageLock() error { return c.command(CavityStabilized) }

// StabilizeCavity starts tracking the reference peak.
func (c *Controller) StabilizeCavity() error { return c.command(CavityStabilized) }

// UnlockCavity returns to plain sweeping.
func (c *Controller) UnlockCavity() error { return c.command(FreeRunning) }

func (c *Controller) command(to State) error {
	if !c.transition(to, running) {
		return ErrNotRunning
	}
	return nil
}

// Submit queues cmd for the next iteration.
func (c *Controller) Submit(cmd Command) error {
	if err := cmd.validate(c.cfg); err != nil {
		return err
	}
	c.mu.Lock()
	r, state := c.run, c.state
	c.mu.Unlock()
	if r == nil || state == Stopped {
		return ErrNotRunning
	}
	select {
	case r.cmds <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// State returns the current control state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Running reports whether a loop is active, including one that is winding
// down after a stop.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run != nil
}

// Started reports whether any loop has been launched. Each loop releases
// the device on its way out, so a caller owns the release only when this
// is false.
func (c *Controller) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Status returns the latest published status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.status
	s.State = c.state
	return s
}

// Wait blocks until the current loop has released the device, or ctx ends.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// transition sets the state to `to` when allowed(current) holds and
// notifies the observer if the state changed.
func (c *Controller) transition(to State, allowed func(State) bool) bool {
	c.mu.Lock()
	from := c.state
	if !allowed(from) {
		c.mu.Unlock()
		return false
	}
	c.state = to
	c.status.State = to
	c.mu.Unlock()

	if from != to {
		c.log.Infow("state_changed", "from", from.String(), "to", to.String())
		c.obs.StateChanged(from, to)
	}
	return true
}

func running(s State) bool { return s != Stopped }

func (c *Controller) stopping() bool {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	return c.stopRequested
}

func (c *Controller) notice(level, kind string, err error) {
	n := Notice{Time: c.now(), Level: level, Kind: kind, Message: err.Error()}
	switch level {
	case LevelError:
		c.log.Errorw(kind, "error", err)
	case LevelWarning:
		c.log.Warnw(kind, "error", err)
	default:
		c.log.Infow(kind, "message", n.Message)
	}
	c.obs.Notice(n)
}
