package models

import "time"

// Event types stored in the lock event log.
const (
	EventStart   = "START"
	EventStop    = "STOP"
	EventState   = "STATE_CHANGE"
	EventWarning = "WARNING"
	EventError   = "ERROR"
	EventCommand = "COMMAND"
	EventArchive = "ARCHIVE"
)

// LockEvent is a single log entry.
type LockEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Metadata    any       `json:"metadata,omitempty"`
}
