package service

import (
	"context"
	"time"

	"transfer_cavity_lock/internal/lock"
)

type MonitoringService struct {
	ctrl Controller
}

func NewMonitoringService(ctrl Controller) *MonitoringService {
	return &MonitoringService{ctrl: ctrl}
}

// Status returns the latest loop status. Before the first start it carries
// the configured default settings and the STOPPED state.
func (s *MonitoringService) Status(ctx context.Context) (lock.Status, error) {
	if err := ctx.Err(); err != nil {
		return lock.Status{}, err
	}
	st := s.ctrl.Status()
	st.UpdatedAt = toUTC(st.UpdatedAt)
	return st, nil
}

// toUTC normalizes non-zero time to UTC, preserving zero values.
func toUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}
