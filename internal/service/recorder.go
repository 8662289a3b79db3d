package service

import (
	"context"
	"time"

	"transfer_cavity_lock/internal/events"
	"transfer_cavity_lock/internal/lock"
	"transfer_cavity_lock/internal/logger"
	"transfer_cavity_lock/internal/models"
	"transfer_cavity_lock/internal/repository"
)

const recorderQueue = 256

// Recorder is the lock.Observer of the running system. It forwards every
// notification to the live hub and queues state changes and notices for the
// event log; Run drains that queue so the loop never waits on the database.
type Recorder struct {
	hub       *events.Hub
	eventRepo repository.EventRepo
	log       *logger.Logger
	now       func() time.Time

	queue chan models.LockEvent
}

var _ lock.Observer = (*Recorder)(nil)

func NewRecorder(hub *events.Hub, eventRepo repository.EventRepo, log *logger.Logger) *Recorder {
	return &Recorder{
		hub:       hub,
		eventRepo: eventRepo,
		log:       logger.OrNop(log),
		now:       time.Now,
		queue:     make(chan models.LockEvent, recorderQueue),
	}
}

// StateChanged implements lock.Observer.
func (r *Recorder) StateChanged(from, to lock.State) {
	now := r.now().UTC()
	r.publish(events.TypeState, events.StateEvent{From: from.String(), To: to.String(), Ts: now.UnixMilli()})
	r.enqueue(models.LockEvent{
		OccurredAt:  now,
		Type:        models.EventState,
		Description: from.String() + " -> " + to.String(),
		Metadata:    map[string]any{"from": from.String(), "to": to.String()},
	})
}

// TracesUpdated implements lock.Observer. Traces go to live clients only.
func (r *Recorder) TracesUpdated(t lock.Traces) {
	r.publish(events.TypeTraces, t)
}

// Notice implements lock.Observer.
func (r *Recorder) Notice(n lock.Notice) {
	r.publish(events.TypeNotice, n)

	typ := models.EventWarning
	if n.Level == lock.LevelError {
		typ = models.EventError
	}
	at := n.Time
	if at.IsZero() {
		at = r.now()
	}
	r.enqueue(models.LockEvent{
		OccurredAt:  at.UTC(),
		Type:        typ,
		Description: n.Message,
		Metadata:    map[string]any{"kind": n.Kind, "level": n.Level},
	})
}

// Run appends queued events until ctx is cancelled, then flushes what is
// left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case ev := <-r.queue:
			r.store(ctx, ev)
		case <-ctx.Done():
			r.flush()
			return
		}
	}
}

func (r *Recorder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-r.queue:
			r.store(ctx, ev)
		default:
			return
		}
	}
}

func (r *Recorder) store(ctx context.Context, ev models.LockEvent) {
	if err := r.eventRepo.Append(ctx, ev); err != nil {
		r.log.Warnw("event_append_failed", "type", ev.Type, "error", err)
	}
}

func (r *Recorder) enqueue(ev models.LockEvent) {
	select {
	case r.queue <- ev:
	default:
		r.log.Warnw("event_dropped", "type", ev.Type, "description", ev.Description)
	}
}

func (r *Recorder) publish(typ string, payload any) {
	if err := r.hub.Publish(typ, payload); err != nil {
		r.log.Warnw("publish_failed", "type", typ, "error", err)
	}
}
