package lock

import (
	"fmt"
	"time"

	"transfer_cavity_lock/internal/fit"
)

// State is the control state of the loop.
type State int

const (
	Stopped State = iota
	FreeRunning
	CavityStabilized
	LaserLocking
	LaserLocked
)

var stateNames = [...]string{
	Stopped:          "STOPPED",
	FreeRunning:      "FREERUNNING",
	CavityStabilized: "CAVITYSTABILIZED",
	LaserLocking:     "LASERLOCKING",
	LaserLocked:      "LASERLOCKED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown lock state %q", b)
}

// Notice kinds.
const (
	NoticeRangeViolation = "range_violation"
	NoticeFitImplausible = "fit_implausible"
	NoticeScanFailed     = "scan_failed"
	NoticeHardwareFault  = "hardware_fault"
	NoticeCommandIgnored = "command_ignored"
	NoticeLockDeferred   = "lock_deferred"
)

// Notice levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notice is a textual report of a recovered or fatal condition.
type Notice struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// Traces is what one iteration shows the operator: both photodiode traces
// against the commanded voltage, and whatever fits were accepted.
type Traces struct {
	Iteration int64       `json:"iteration"`
	State     State       `json:"state"`
	Voltages  []float64   `json:"voltages"`
	Cavity    []float64   `json:"cavity"`
	Laser     []float64   `json:"laser"`
	CavityFit *fit.Result `json:"cavity_fit,omitempty"`
	LaserFit  *fit.Result `json:"laser_fit,omitempty"`
	Time      time.Time   `json:"time"`
}

// Observer receives every state transition, one trace update per
// iteration and every notice. Calls come from the loop goroutine and from
// command callers and must not block.
type Observer interface {
	StateChanged(from, to State)
	TracesUpdated(t Traces)
	Notice(n Notice)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State, State) {}
func (nopObserver) TracesUpdated(Traces)      {}
func (nopObserver) Notice(Notice)             {}
