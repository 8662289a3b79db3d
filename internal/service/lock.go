package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"transfer_cavity_lock/internal/lock"
	"transfer_cavity_lock/internal/logger"
	"transfer_cavity_lock/internal/models"
	"transfer_cavity_lock/internal/repository"
)

var (
	// ErrInvalidParams marks a request the loop would reject; handlers map it to 400.
	ErrInvalidParams = errors.New("invalid parameters")

	errLockWithoutFit = fmt.Errorf("%w: lock requires fit", ErrInvalidParams)
	errEmptyScan      = fmt.Errorf("%w: no scan field given", ErrInvalidParams)
)

type LockService struct {
	runCtx    context.Context
	ctrl      Controller
	settings  repository.SettingsRepo
	eventRepo repository.EventRepo
	log       *logger.Logger

	mu      sync.Mutex
	current lock.Settings
}

func NewLockService(runCtx context.Context, ctrl Controller, settings repository.SettingsRepo, eventRepo repository.EventRepo, log *logger.Logger) *LockService {
	if runCtx == nil {
		runCtx = context.Background()
	}
	return &LockService{
		runCtx:    runCtx,
		ctrl:      ctrl,
		settings:  settings,
		eventRepo: eventRepo,
		log:       logger.OrNop(log),
		current:   ctrl.Config().Defaults,
	}
}

// Start restores the persisted settings, or the configured defaults when
// none were saved, and starts the loop.
func (s *LockService) Start(ctx context.Context) error {
	st, ok, err := s.settings.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	s.mu.Lock()
	if ok {
		s.current = fromModel(st)
	}
	cur := s.current
	s.mu.Unlock()

	if err := s.ctrl.Start(s.runCtx, cur); err != nil {
		return translate(err)
	}
	return s.appendEvent(ctx, models.EventStart, "Lock loop started", map[string]any{
		"steps":       cur.Steps,
		"scan_offset": cur.ScanOffset,
		"scan_width":  cur.ScanWidth,
		"gain":        cur.Gain,
	})
}

// Stop asks the loop to step the laser down and release the hardware.
func (s *LockService) Stop(ctx context.Context) error {
	if err := s.ctrl.StopRamp(); err != nil {
		return translate(err)
	}
	if err := s.persist(ctx); err != nil {
		return err
	}
	return s.appendEvent(ctx, models.EventStop, "Lock loop stopped", nil)
}

func (s *LockService) Engage(ctx context.Context) error {
	return s.action(ctx, "engage", s.ctrl.EngageLock)
}

func (s *LockService) Disengage(ctx context.Context) error {
	return s.action(ctx, "disengage", s.ctrl.DisengageLock)
}

func (s *LockService) Stabilize(ctx context.Context) error {
	return s.action(ctx, "stabilize", s.ctrl.StabilizeCavity)
}

func (s *LockService) Unlock(ctx context.Context) error {
	return s.action(ctx, "unlock", s.ctrl.UnlockCavity)
}

// SetFlags maps the fit/lock switches onto state requests:
//   - lock on: engage (only with fit on)
//   - fit on, lock off: disengage when locking, otherwise stabilize
//   - fit off: unlock
func (s *LockService) SetFlags(ctx context.Context, f Flags) error {
	switch {
	case f.Lock && !f.Fit:
		return errLockWithoutFit
	case f.Lock:
		if st := s.ctrl.State(); st == lock.LaserLocking || st == lock.LaserLocked {
			return nil
		}
		return s.Engage(ctx)
	case f.Fit:
		switch s.ctrl.State() {
		case lock.LaserLocking, lock.LaserLocked:
			return s.Disengage(ctx)
		case lock.CavityStabilized:
			return nil
		}
		return s.Stabilize(ctx)
	default:
		return s.Unlock(ctx)
	}
}

func (s *LockService) SetGain(ctx context.Context, gain float64) error {
	return s.submit(ctx, lock.SetGain{Gain: gain}, func(cur *lock.Settings) { cur.Gain = gain })
}

// SetScan applies steps, width and offset in that order.
func (s *LockService) SetScan(ctx context.Context, p ScanParams) error {
	if p.Width == nil && p.Offset == nil && p.Steps == nil {
		return errEmptyScan
	}
	if p.Steps != nil {
		n := *p.Steps
		if err := s.submit(ctx, lock.SetSteps{Steps: n}, func(cur *lock.Settings) { cur.Steps = n }); err != nil {
			return err
		}
	}
	if p.Width != nil {
		w := *p.Width
		if err := s.submit(ctx, lock.SetScanWidth{Width: w}, func(cur *lock.Settings) { cur.ScanWidth = w }); err != nil {
			return err
		}
	}
	if p.Offset != nil {
		o := *p.Offset
		if err := s.submit(ctx, lock.SetScanOffset{Offset: o}, func(cur *lock.Settings) { cur.ScanOffset = o }); err != nil {
			return err
		}
	}
	return nil
}

func (s *LockService) SetLaserVoltage(ctx context.Context, volts float64) error {
	return s.submit(ctx, lock.SetLaserVoltage{Volts: volts}, func(cur *lock.Settings) { cur.LaserVoltage = volts })
}

func (s *LockService) SetSetPoint(ctx context.Context, setPoint float64) error {
	return s.submit(ctx, lock.SetSetPoint{SetPoint: setPoint}, nil)
}

func (s *LockService) Tweak(ctx context.Context, t TweakParams) error {
	if t.Count <= 0 {
		return fmt.Errorf("%w: tweak count must be positive, got %d", ErrInvalidParams, t.Count)
	}
	var cmd lock.Tweak
	switch strings.ToLower(strings.TrimSpace(t.Direction)) {
	case TweakUp:
		cmd.Increments = t.Count
	case TweakDown:
		cmd.Decrements = t.Count
	default:
		return fmt.Errorf("%w: tweak direction must be %q or %q", ErrInvalidParams, TweakUp, TweakDown)
	}
	return s.submit(ctx, cmd, nil)
}

func (s *LockService) action(ctx context.Context, name string, fn func() error) error {
	from := s.ctrl.State()
	if err := fn(); err != nil {
		return translate(err)
	}
	return s.appendEvent(ctx, models.EventCommand, "Operator requested "+name, map[string]any{
		"from": from.String(),
	})
}

// submit queues cmd and, when update is given, persists the settings it
// changes. Settings are only saved once the loop accepted the command.
func (s *LockService) submit(ctx context.Context, cmd lock.Command, update func(*lock.Settings)) error {
	if err := s.ctrl.Submit(cmd); err != nil {
		return translate(err)
	}
	if update == nil {
		return nil
	}
	s.mu.Lock()
	update(&s.current)
	s.mu.Unlock()
	return s.persist(ctx)
}

func (s *LockService) persist(ctx context.Context) error {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()

	st := toModel(cur)
	st.SetPoint = s.ctrl.Status().SetPoint
	if err := s.settings.Save(ctx, st); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func (s *LockService) appendEvent(ctx context.Context, typ, msg string, meta map[string]any) error {
	ev := models.LockEvent{
		OccurredAt:  time.Now().UTC(),
		Type:        typ,
		Description: msg,
	}
	if id, ok := IdentityFrom(ctx); ok {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["operator"] = id.Username
	}
	if meta != nil {
		ev.Metadata = meta
	}
	if err := s.eventRepo.Append(ctx, ev); err != nil {
		s.log.Warnw("event_append_failed", "type", typ, "error", err)
		return fmt.Errorf("append %s event: %w", typ, err)
	}
	return nil
}

// translate turns loop validation failures into ErrInvalidParams and leaves
// state errors for the caller to match.
func translate(err error) error {
	if errors.Is(err, lock.ErrConfig) {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return err
}

func fromModel(m models.LockSettings) lock.Settings {
	return lock.Settings{
		Steps:        m.Steps,
		ScanOffset:   m.ScanOffset,
		ScanWidth:    m.ScanWidth,
		Gain:         m.Gain,
		LaserVoltage: m.LaserVoltage,
	}
}

func toModel(s lock.Settings) models.LockSettings {
	return models.LockSettings{
		ID:           1,
		Steps:        s.Steps,
		ScanOffset:   s.ScanOffset,
		ScanWidth:    s.ScanWidth,
		Gain:         s.Gain,
		LaserVoltage: s.LaserVoltage,
	}
}
