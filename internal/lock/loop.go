package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"transfer_cavity_lock/internal/fit"
	"transfer_cavity_lock/internal/hardware"
	"transfer_cavity_lock/internal/scan"
)

// run is the state owned by one loop goroutine. Only the loop touches it;
// commands reach it through cmds.
type run struct {
	settings Settings
	params   *scan.Parameters

	// state is the control state read at the top of the iteration.
	state State

	setPoint   float64
	laser      float64
	target     *float64
	deviation  float64
	increments int
	decrements int

	cavityFit *fit.Result
	laserFit  *fit.Result
	iteration int64

	cmds chan Command
	wake chan struct{}
	done chan struct{}
}

func newRun(cfg Config, s Settings, params *scan.Parameters) *run {
	r := &run{
		settings: s,
		params:   params,
		state:    FreeRunning,
		cmds:     make(chan Command, cfg.CommandQueue),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	if s.LaserVoltage != 0 {
		v := s.LaserVoltage
		r.target = &v
	}
	return r
}

// setWindow centres the scan window on center using the configured width.
func (r *run) setWindow(center float64) {
	half := r.settings.HalfWidth()
	_ = r.params.SetBounds(center-half, center+half)
}

func (r *run) drain() {
	for {
		select {
		case cmd := <-r.cmds:
			cmd.apply(r)
		default:
			return
		}
	}
}

func (r *run) status(state State, now time.Time) Status {
	return Status{
		State:        state,
		Running:      true,
		Settings:     r.settings,
		Window:       r.params.View(),
		SetPoint:     r.setPoint,
		LaserVoltage: r.laser,
		Deviation:    r.deviation,
		Increments:   r.increments,
		Decrements:   r.decrements,
		CavityFit:    r.cavityFit,
		LaserFit:     r.laserFit,
		Iteration:    r.iteration,
		UpdatedAt:    now,
	}
}

func (c *Controller) loop(ctx context.Context, r *run) {
	defer c.finalize(ctx, r)
	for {
		if c.stopping() || ctx.Err() != nil {
			return
		}
		r.state = c.State()
		if r.state == Stopped {
			return
		}
		r.drain()

		if err := c.iterate(ctx, r); err != nil {
			if !errors.Is(err, context.Canceled) {
				c.log.Errorw("lock_loop_aborted", "error", err)
			}
			return
		}

		if c.stopping() {
			return
		}
		if !sleep(ctx, c.cfg.LoopPeriod, r.wake) {
			return
		}
	}
}

// iterate runs one sweep and the logic of the state it was started in.
// A returned error ends the loop.
func (c *Controller) iterate(ctx context.Context, r *run) error {
	r.iteration++
	low, high := r.params.Low(), r.params.High()
	// a free-running sweep with nobody watching is neither fitted nor shown
	r.params.Record = r.state != FreeRunning || c.observed()

	data, err := c.exec.Scan(ctx, r.params)
	if err != nil {
		switch {
		case hardware.IsFatal(err):
			c.notice(LevelError, NoticeHardwareFault, err)
			c.transition(Stopped, running)
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		}
		c.notice(LevelWarning, NoticeScanFailed, err)
		return nil
	}

	r.cavityFit, r.laserFit = nil, nil
	switch r.state {
	case CavityStabilized:
		r.cavityFit = c.fitCavity(data, low, high)
		c.recenter(r, r.cavityFit)

	case LaserLocking:
		r.cavityFit = c.fitCavity(data, low, high)
		if r.cavityFit == nil {
			// without a reference there is nothing to measure against; try
			// again on the next sweep
			c.notice(LevelInfo, NoticeLockDeferred,
				fmt.Errorf("no reference peak; setpoint measurement retried on the next sweep"))
			break
		}
		c.recenter(r, r.cavityFit)
		r.laserFit = c.fitLaser(data, low, high)
		r.setPoint = 0
		if r.laserFit != nil {
			r.setPoint = Round(r.laserFit.Centroid-r.cavityFit.Centroid, 4)
		}
		c.log.Infow("setpoint_measured", "set_point", r.setPoint)
		c.transition(LaserLocked, func(s State) bool { return s == LaserLocking })

	case LaserLocked:
		r.cavityFit = c.fitCavity(data, low, high)
		c.recenter(r, r.cavityFit)
		r.laserFit = c.fitLaser(data, low, high)

		r.setPoint += c.cfg.TweakGain * float64(r.increments-r.decrements)
		r.increments, r.decrements = 0, 0

		r.deviation = 0
		if r.cavityFit != nil && r.laserFit != nil {
			r.deviation = Deviation(r.cavityFit.Centroid, r.laserFit.Centroid, r.setPoint)
		}
		next, err := Feedback(r.laser, r.settings.Gain, r.deviation, c.cfg.LaserMin, c.cfg.LaserMax)
		if err != nil {
			c.notice(LevelWarning, NoticeRangeViolation, err)
		}
		if err := c.writeLaser(ctx, r, next); err != nil {
			return err
		}
	}

	if r.target != nil {
		target := *r.target
		r.target = nil
		if r.state == LaserLocking || r.state == LaserLocked {
			c.notice(LevelInfo, NoticeCommandIgnored,
				fmt.Errorf("manual laser voltage %.4f ignored while locked", target))
		} else if err := c.stepTo(ctx, r, target); err != nil {
			return err
		}
	}

	c.publish(r, data)
	return nil
}

func (c *Controller) observed() bool {
	_, nop := c.obs.(nopObserver)
	return !nop
}

func (c *Controller) gate() fit.Gate {
	return fit.Gate{Lower: c.cfg.CavityMin, Upper: c.cfg.CavityMax, Tolerance: c.cfg.WindowTolerance}
}

// fitCavity fits the reference peak in the central half of P1. It returns
// nil for a fit that fails the gate.
func (c *Controller) fitCavity(data *scan.Data, low, high float64) *fit.Result {
	res, err := c.fitPeak(data.Voltages, fit.Window(data.P1), c.cfg.CavityFitWidth, low, high)
	if err != nil {
		c.notice(LevelWarning, NoticeFitImplausible, fmt.Errorf("cavity peak: %w", err))
		return nil
	}
	return res
}

// fitLaser fits the laser peak over the whole of P2.
func (c *Controller) fitLaser(data *scan.Data, low, high float64) *fit.Result {
	res, err := c.fitPeak(data.Voltages, data.P2, c.cfg.LaserFitWidth, low, high)
	if err != nil {
		c.notice(LevelWarning, NoticeFitImplausible, fmt.Errorf("laser peak: %w", err))
		return nil
	}
	return res
}

func (c *Controller) fitPeak(x, y []float64, width, low, high float64) (*fit.Result, error) {
	guess, err := fit.InitialGuess(x, y, width)
	if err != nil {
		return nil, err
	}
	res, err := c.fitter.Fit(x, y, guess)
	if err != nil {
		return nil, err
	}
	if err := c.gate().Check(res.Centroid, low, high); err != nil {
		return nil, err
	}
	return &res, nil
}

// recenter moves the window onto the fitted reference peak, keeping the
// configured width. The window is left alone if there is no fit or the new
// window would leave the piezo range.
func (c *Controller) recenter(r *run, cav *fit.Result) {
	if cav == nil {
		return
	}
	half := r.settings.HalfWidth()
	low, high := cav.Centroid-half, cav.Centroid+half
	if low <= c.cfg.CavityMin || high >= c.cfg.CavityMax {
		c.notice(LevelWarning, NoticeRangeViolation,
			fmt.Errorf("%w: window [%.4f, %.4f] outside cavity range", scan.ErrRangeViolation, low, high))
		return
	}
	if err := r.params.SetBounds(low, high); err != nil {
		c.notice(LevelWarning, NoticeRangeViolation, err)
		return
	}
	r.params.SetPoint = cav.Centroid
}

// writeLaser sets the laser output. Only fatal errors are returned.
func (c *Controller) writeLaser(ctx context.Context, r *run, v float64) error {
	if err := c.dev.WriteLaserVoltage(ctx, v); err != nil {
		if hardware.IsFatal(err) {
			c.notice(LevelError, NoticeHardwareFault, err)
			c.transition(Stopped, running)
			return err
		}
		c.notice(LevelWarning, NoticeScanFailed, fmt.Errorf("write laser voltage: %w", err))
		return nil
	}
	r.laser = v
	return nil
}

// stepTo walks the laser output from its current value to target.
func (c *Controller) stepTo(ctx context.Context, r *run, target float64) error {
	if r.laser == target {
		return nil
	}
	c.log.Infow("laser_step", "from", r.laser, "to", target, "steps", c.cfg.StepDownSteps)
	for i, v := range StepValues(r.laser, target, c.cfg.StepDownSteps) {
		if i > 0 && !sleep(ctx, c.cfg.StepDownDelay, nil) {
			return ctx.Err()
		}
		if err := c.writeLaser(ctx, r, v); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) publish(r *run, data *scan.Data) {
	now := c.now()
	c.mu.Lock()
	state := c.state
	t := Traces{
		Iteration: r.iteration,
		State:     state,
		Voltages:  data.Voltages,
		Cavity:    data.P1,
		Laser:     data.P2,
		CavityFit: r.cavityFit,
		LaserFit:  r.laserFit,
		Time:      now,
	}
	c.traces = &t
	c.status = r.status(state, now)
	c.mu.Unlock()
	c.obs.TracesUpdated(t)
}

// finalize walks the laser to zero, releases the device once and marks the
// controller stopped. It runs on every exit path of the loop.
func (c *Controller) finalize(ctx context.Context, r *run) {
	ctx = context.WithoutCancel(ctx)
	if r.laser != 0 {
		c.log.Infow("laser_step_down", "from", r.laser, "steps", c.cfg.StepDownSteps)
		for i, v := range StepValues(r.laser, 0, c.cfg.StepDownSteps) {
			if i > 0 {
				sleep(ctx, c.cfg.StepDownDelay, nil)
			}
			if err := c.dev.WriteLaserVoltage(ctx, v); err != nil {
				c.log.Errorw("laser_step_down_failed", "voltage", r.laser, "error", err)
				break
			}
			r.laser = v
		}
	}
	if err := c.dev.ReleaseControl(); err != nil {
		c.log.Errorw("release_control_failed", "error", err)
	}
	c.transition(Stopped, func(State) bool { return true })

	c.mu.Lock()
	c.status = r.status(Stopped, c.now())
	c.status.Running = false
	c.run = nil
	c.mu.Unlock()

	c.log.Infow("lock_loop_stopped", "iterations", r.iteration, "laser_voltage", r.laser)
	close(r.done)
}

// sleep waits d, returning false if ctx ends first. A signal on wake cuts
// the wait short.
func sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-wake:
		return true
	case <-t.C:
		return true
	}
}
