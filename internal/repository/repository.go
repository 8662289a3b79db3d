package repository

import (
	"context"
	"database/sql"
	"time"

	"transfer_cavity_lock/internal/models"
)

type Authorization interface {
	Create(ctx context.Context, op models.Operator) (int, error)
	GetByUsername(ctx context.Context, username string) (*models.Operator, error)
	CountByRole(ctx context.Context, role string) (int, error)
}

type SettingsRepo interface {
	Save(ctx context.Context, s models.LockSettings) error
	Load(ctx context.Context) (models.LockSettings, bool, error)
}

type EventRepo interface {
	Append(ctx context.Context, e models.LockEvent) error
	List(ctx context.Context, from, to time.Time, typ string) ([]models.LockEvent, error)
}

type ArchiveRepo interface {
	Add(ctx context.Context, e models.ArchiveEntry) error
	List(ctx context.Context, limit int) ([]models.ArchiveEntry, error)
	Get(ctx context.Context, id string) (models.ArchiveEntry, error)
}

type Repository struct {
	SettingsRepo SettingsRepo
	EventRepo    EventRepo
	ArchiveRepo  ArchiveRepo
	Auth         Authorization
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		SettingsRepo: NewSettingsSQLite(db),
		EventRepo:    NewEventSQLite(db),
		ArchiveRepo:  NewArchiveSQLite(db),
		Auth:         NewOperatorRepository(db),
	}
}
