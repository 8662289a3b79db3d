package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"transfer_cavity_lock/internal/hardware"
	"transfer_cavity_lock/internal/logger"
)

// Executor runs single synchronized sweeps on a device.
type Executor struct {
	dev     hardware.Device
	limits  Limits
	timeout time.Duration
	warn    func(error)
	log     *logger.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTimeout bounds each sweep. Zero disables the bound.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithWarningHandler receives non-fatal conditions such as clamped samples.
func WithWarningHandler(fn func(error)) ExecutorOption {
	return func(e *Executor) { e.warn = fn }
}

// WithLogger sets the executor logger.
func WithLogger(l *logger.Logger) ExecutorOption {
	return func(e *Executor) { e.log = l }
}

// NewExecutor returns an executor driving dev within limits.
func NewExecutor(dev hardware.Device, limits Limits, opts ...ExecutorOption) *Executor {
	e := &Executor{dev: dev, limits: limits}
	for _, o := range opts {
		o(e)
	}
	e.log = logger.OrNop(e.log)
	return e
}

// Scan performs one sweep described by p and returns its data. p is only
// read during the call.
//
// A sweep that does not complete returns an error wrapping
// hardware.ErrTimeout or hardware.ErrFault; no partial data is returned.
func (e *Executor) Scan(ctx context.Context, p *Parameters) (*Data, error) {
	data := NewData(p)
	steps := p.Steps()

	ramp := Ramp(p)
	if n := e.limits.Clamp(ramp); n > 0 {
		err := fmt.Errorf("%w: %d of %d ramp samples clamped to [%.4f, %.4f]",
			ErrRangeViolation, n, len(ramp), e.limits.Lower+e.limits.Epsilon, e.limits.Upper-e.limits.Epsilon)
		e.log.Debugw("cavity_out_of_range", "clamped", n, "low", p.Low(), "high", p.High())
		if e.warn != nil {
			e.warn(err)
		}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	if err := e.dev.ArmScan(ctx, ramp); err != nil {
		return nil, fmt.Errorf("arm scan: %w", err)
	}
	raw, err := e.dev.ExecuteScan(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, hardware.ErrTimeout) {
			err = fmt.Errorf("%w: %v", hardware.ErrTimeout, err)
		}
		return nil, fmt.Errorf("execute scan: %w", err)
	}
	if raw.Len() < steps {
		return nil, fmt.Errorf("execute scan: %w: got %d samples, want at least %d",
			hardware.ErrTimeout, raw.Len(), steps)
	}

	if p.Record {
		copy(data.P1, raw.P1[:steps])
		copy(data.P2, raw.P2[:steps])
	}
	return data, nil
}
