// Package hardware defines the synchronized I/O capability the lock loop
// drives, and a simulated implementation of it.
//
// A Device owns three things that must stay clock-synchronized: the cavity
// piezo output (a finite waveform), the two photodiode inputs sampled on the
// same clock, and the digital scan trigger that starts both. The laser
// control voltage is a separate static output.
package hardware

import (
	"context"
	"errors"
)

var (
	// ErrTimeout is returned when a sweep does not complete in time. The
	// sweep is lost but the device remains usable.
	ErrTimeout = errors.New("hardware timeout")

	// ErrFault marks a failure the device cannot recover from. The lock
	// loop stops and releases control when it sees one.
	ErrFault = errors.New("hardware fault")

	// ErrNotArmed is returned by ExecuteScan when no ramp has been loaded.
	ErrNotArmed = errors.New("scan not armed")
)

// Samples holds the raw photodiode readings of one sweep, one entry per
// ramp sample.
type Samples struct {
	P1 []float64 `json:"p1"` // cavity reference photodiode
	P2 []float64 `json:"p2"` // laser photodiode
}

// Len returns the number of complete sample pairs.
func (s Samples) Len() int {
	if len(s.P1) < len(s.P2) {
		return len(s.P1)
	}
	return len(s.P2)
}

// Device is the hardware capability consumed by the scan executor and the
// lock controller. Implementations need not be safe for concurrent sweeps;
// the controller never issues more than one at a time.
type Device interface {
	// ArmScan loads the piezo waveform and configures photodiode sampling
	// for len(ramp) points on the shared sample clock.
	ArmScan(ctx context.Context, ramp []float64) error

	// ExecuteScan raises the scan trigger, starts sampling and output,
	// waits for the output to finish, lowers the trigger and returns what
	// was sampled.
	ExecuteScan(ctx context.Context) (Samples, error)

	// WriteLaserVoltage sets the static laser control output.
	WriteLaserVoltage(ctx context.Context, volts float64) error

	// ReleaseControl gives up ownership of the channels.
	ReleaseControl() error
}

// IsFatal reports whether err means the device must not be used again.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFault)
}
