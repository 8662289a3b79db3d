package models

import "time"

// LockSettings is the persisted operator configuration of the lock loop.
// There is a single row; scan history is not kept.
type LockSettings struct {
	ID           int       `json:"id"`
	Steps        int       `json:"steps"`
	ScanOffset   float64   `json:"scan_offset"`   // V
	ScanWidth    float64   `json:"scan_width"`    // V, full window
	Gain         float64   `json:"gain"`          //
	LaserVoltage float64   `json:"laser_voltage"` // V, manual target
	SetPoint     float64   `json:"set_point"`     // V, last locked peak separation
	UpdatedAt    time.Time `json:"updated_at"`
}
