package lock

import (
	"time"
)

// NamedValue is one entry of the parameter dictionary handed to archiving.
type NamedValue struct {
	Name  string
	Value any
}

// Snapshot is the last published status and traces, detached from the loop.
type Snapshot struct {
	Status Status
	Traces *Traces
	Taken  time.Time
}

// Snapshot returns a copy of the latest status and traces.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{Status: c.status, Taken: c.now()}
	s.Status.State = c.state
	if c.traces != nil {
		t := *c.traces
		s.Traces = &t
	}
	return s
}

// Parameters lists the values worth keeping alongside an archived trace.
func (s Snapshot) Parameters() []NamedValue {
	st := s.Status
	out := []NamedValue{
		{"state", st.State.String()},
		{"running", st.Running},
		{"iteration", st.Iteration},
		{"scan_low", st.Window.Low},
		{"scan_high", st.Window.High},
		{"scan_steps", st.Window.Steps},
		{"scan_step_size", st.Window.StepSize},
		{"scan_set_point", st.Window.SetPoint},
		{"scan_offset", st.Settings.ScanOffset},
		{"scan_width", st.Settings.ScanWidth},
		{"gain", st.Settings.Gain},
		{"set_point", st.SetPoint},
		{"laser_voltage", st.LaserVoltage},
		{"deviation", st.Deviation},
	}
	if f := st.CavityFit; f != nil {
		out = append(out,
			NamedValue{"cavity_fit_width", f.Width},
			NamedValue{"cavity_fit_centroid", f.Centroid},
			NamedValue{"cavity_fit_amplitude", f.Amplitude},
			NamedValue{"cavity_fit_mse", f.MSE},
		)
	}
	if f := st.LaserFit; f != nil {
		out = append(out,
			NamedValue{"laser_fit_width", f.Width},
			NamedValue{"laser_fit_centroid", f.Centroid},
			NamedValue{"laser_fit_amplitude", f.Amplitude},
			NamedValue{"laser_fit_mse", f.MSE},
		)
	}
	return out
}
