package events

import "encoding/json"

// Event types.
const (
	TypeState  = "state"
	TypeTraces = "traces"
	TypeNotice = "notice"
)

// Event is the envelope sent to live clients.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// StateEvent is the payload of a state event.
type StateEvent struct {
	From string `json:"from"`
	To   string `json:"to"`
	Ts   int64  `json:"ts"`
}
