package service

import (
	"context"
	"time"

	"transfer_cavity_lock/internal/archive"
	"transfer_cavity_lock/internal/events"
	"transfer_cavity_lock/internal/lock"
	"transfer_cavity_lock/internal/logger"
	"transfer_cavity_lock/internal/models"
	"transfer_cavity_lock/internal/repository"
)

type Authorization interface {
	SignUp(ctx context.Context, username, password string) (models.Operator, error)
	GenerateToken(ctx context.Context, username, password string) (string, error)
	ParseToken(accessToken string) (models.Identity, error)
}

// Lock exposes the operator commands of the lock loop.
type Lock interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Engage(ctx context.Context) error
	Disengage(ctx context.Context) error
	Stabilize(ctx context.Context) error
	Unlock(ctx context.Context) error
	SetFlags(ctx context.Context, f Flags) error

	SetGain(ctx context.Context, gain float64) error
	SetScan(ctx context.Context, p ScanParams) error
	SetLaserVoltage(ctx context.Context, volts float64) error
	SetSetPoint(ctx context.Context, setPoint float64) error
	Tweak(ctx context.Context, t TweakParams) error
}

// Monitoring exposes read-only loop status.
type Monitoring interface {
	Status(ctx context.Context) (lock.Status, error)
}

// EventLog exposes append-only logs with filtering access.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.LockEvent, error)
}

// Archive stores and lists snapshot bundles.
type Archive interface {
	Store(ctx context.Context, batch int) (models.ArchiveEntry, error)
	List(ctx context.Context, limit int) ([]models.ArchiveEntry, error)
	Get(ctx context.Context, id string) (models.ArchiveDetail, error)
}

// Controller is the part of *lock.Controller the services drive.
type Controller interface {
	Start(ctx context.Context, s lock.Settings) error
	StopRamp() error
	EngageLock() error
	DisengageLock() error
	StabilizeCavity() error
	UnlockCavity() error
	Submit(cmd lock.Command) error
	State() lock.State
	Status() lock.Status
	Snapshot() lock.Snapshot
	Config() lock.Config
}

var _ Controller = (*lock.Controller)(nil)

type Service struct {
	Lock
	Monitoring
	EventLog
	Archive
	Authorization

	Recorder *Recorder
	Hub      *events.Hub
}

// Deps are the collaborators built before the service layer.
type Deps struct {
	// RunCtx bounds the lock loop; it outlives any single request.
	RunCtx     context.Context
	Controller Controller
	Hub        *events.Hub
	Recorder   *Recorder
	Archive    *archive.Writer
	Auth       AuthConfig
	Log        *logger.Logger
}

// NewService wires the repository layer and the controller into concrete services.
func NewService(repos *repository.Repository, d Deps) *Service {
	log := logger.OrNop(d.Log)
	return &Service{
		Lock:          NewLockService(d.RunCtx, d.Controller, repos.SettingsRepo, repos.EventRepo, log.Named("lock")),
		Monitoring:    NewMonitoringService(d.Controller),
		EventLog:      NewEventLogService(repos.EventRepo),
		Archive:       NewArchiveService(d.Controller, d.Archive, repos.ArchiveRepo, repos.EventRepo, log.Named("archive")),
		Authorization: NewAuthService(repos.Auth, d.Auth),
		Recorder:      d.Recorder,
		Hub:           d.Hub,
	}
}

// Flags are the two operator switches: fit tracks the cavity peak, lock
// feeds back on the laser. Lock requires fit.
type Flags struct {
	Fit  bool `json:"fit"`
	Lock bool `json:"lock"`
}

// ScanParams changes the scan window. Nil fields are left alone.
type ScanParams struct {
	Width  *float64 `json:"width,omitempty"`
	Offset *float64 `json:"offset,omitempty"`
	Steps  *int     `json:"steps,omitempty"`
}

// Tweak directions.
const (
	TweakUp   = "up"
	TweakDown = "down"
)

// TweakParams nudges the laser by count tweak steps.
type TweakParams struct {
	Direction string `json:"direction"`
	Count     int    `json:"count"`
}

// LogFilter supports history filtering by time range and type.
type LogFilter struct {
	From time.Time // inclusive; zero means no lower bound
	To   time.Time // inclusive; zero means no upper bound
	Type string    // "", or one of the models.Event* types
}
