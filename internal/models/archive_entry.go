package models

import "time"

// ArchiveEntry indexes a stored snapshot bundle.
type ArchiveEntry struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Batch     int       `json:"batch"`
	State     string    `json:"state"`
	SetPoint  float64   `json:"set_point"`
	CreatedAt time.Time `json:"created_at"`
}

// ArchiveDetail is an index entry with the dictionary read back from its bundle.
type ArchiveDetail struct {
	ArchiveEntry
	Parameters map[string]any `json:"parameters"`
	HasTraces  bool           `json:"has_traces"`
	HasImage   bool           `json:"has_image"`
}
