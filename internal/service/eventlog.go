package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"transfer_cavity_lock/internal/models"
	"transfer_cavity_lock/internal/repository"
)

type EventLogService struct {
	eventRepo repository.EventRepo
}

func NewEventLogService(eventRepo repository.EventRepo) *EventLogService {
	return &EventLogService{eventRepo: eventRepo}
}

var (
	errInvalidTimeRange = fmt.Errorf("%w: From must be <= To", ErrInvalidParams)
	errUnknownEventType = errors.New("unknown event type")
)

var eventTypes = map[string]struct{}{
	models.EventStart:   {},
	models.EventStop:    {},
	models.EventState:   {},
	models.EventWarning: {},
	models.EventError:   {},
	models.EventCommand: {},
	models.EventArchive: {},
}

// normalizeEventType trims spaces and uppercases the event type filter.
func normalizeEventType(s string) string {
	return strings.TrimSpace(strings.ToUpper(s))
}

// normalizeAndValidateFilter prepares query parameters and validates the
// time range and type.
func normalizeAndValidateFilter(f LogFilter) (time.Time, time.Time, string, error) {
	from := toUTC(f.From)
	to := toUTC(f.To)

	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return time.Time{}, time.Time{}, "", errInvalidTimeRange
	}

	typ := normalizeEventType(f.Type)
	if typ != "" {
		if _, ok := eventTypes[typ]; !ok {
			return time.Time{}, time.Time{}, "", fmt.Errorf("%w: %w %q", ErrInvalidParams, errUnknownEventType, f.Type)
		}
	}
	return from, to, typ, nil
}

func (s *EventLogService) List(ctx context.Context, f LogFilter) ([]models.LockEvent, error) {
	from, to, typ, err := normalizeAndValidateFilter(f)
	if err != nil {
		return nil, err
	}
	return s.eventRepo.List(ctx, from, to, typ)
}
