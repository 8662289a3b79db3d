package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"transfer_cavity_lock/internal/hardware"
	"transfer_cavity_lock/internal/lock"
	"transfer_cavity_lock/internal/models"
	"transfer_cavity_lock/internal/repository"
)

type fakeSettingsRepo struct {
	mu      sync.Mutex
	stored  models.LockSettings
	ok      bool
	loadErr error
	saveErr error
	saved   []models.LockSettings
}

func (f *fakeSettingsRepo) Save(ctx context.Context, s models.LockSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, s)
	return f.saveErr
}

func (f *fakeSettingsRepo) Load(ctx context.Context) (models.LockSettings, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stored, f.ok, f.loadErr
}

func (f *fakeSettingsRepo) last(t *testing.T) models.LockSettings {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saved) == 0 {
		t.Fatalf("expected at least one Save call")
	}
	return f.saved[len(f.saved)-1]
}

// fakeEventRepo records appended events; the recorder appends from its own
// goroutine.
type fakeEventRepo struct {
	mu        sync.Mutex
	events    []models.LockEvent
	appendErr error

	listEvents []models.LockEvent
	listErr    error
	gotFrom    time.Time
	gotTo      time.Time
	gotType    string
	listCalls  int
}

func (f *fakeEventRepo) Append(ctx context.Context, e models.LockEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeEventRepo) List(ctx context.Context, from, to time.Time, typ string) ([]models.LockEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	f.gotFrom, f.gotTo, f.gotType = from, to, typ
	return f.listEvents, f.listErr
}

func (f *fakeEventRepo) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeArchiveRepo struct {
	added  []models.ArchiveEntry
	addErr error
}

func (f *fakeArchiveRepo) Add(ctx context.Context, e models.ArchiveEntry) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, e)
	return nil
}

func (f *fakeArchiveRepo) Get(ctx context.Context, id string) (models.ArchiveEntry, error) {
	for _, e := range f.added {
		if e.ID == id {
			return e, nil
		}
	}
	return models.ArchiveEntry{}, repository.ErrArchiveNotFound
}

func (f *fakeArchiveRepo) List(ctx context.Context, limit int) ([]models.ArchiveEntry, error) {
	if limit > 0 && limit < len(f.added) {
		return f.added[:limit], nil
	}
	return f.added, nil
}

func testLockConfig() lock.Config {
	cfg := lock.DefaultConfig()
	cfg.LoopPeriod = time.Millisecond
	cfg.StepDownDelay = 0
	cfg.StepDownSteps = 5
	return cfg
}

func newTestController(t *testing.T, opts ...lock.Option) (*lock.Controller, *hardware.Simulator) {
	t.Helper()
	dev := hardware.NewSimulator(hardware.DefaultSimConfig())
	ctrl, err := lock.New(testLockConfig(), dev, opts...)
	if err != nil {
		t.Fatalf("lock.New: %v", err)
	}
	t.Cleanup(func() {
		_ = ctrl.StopRamp()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ctrl.Wait(ctx); err != nil {
			t.Errorf("loop did not finish: %v", err)
		}
	})
	return ctrl, dev
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}
