package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"transfer_cavity_lock/internal/models"
)

const (
	insertArchiveSQL     = `INSERT INTO archives (id, path, batch, state, set_point, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	selectArchiveSQL     = `SELECT id, path, batch, state, set_point, created_at FROM archives ORDER BY created_at DESC LIMIT ?`
	selectArchiveByIDSQL = `SELECT id, path, batch, state, set_point, created_at FROM archives WHERE id = ?`

	defaultArchiveLimit = 100
)

// ErrArchiveNotFound is returned by Get for an unknown id.
var ErrArchiveNotFound = errors.New("archive not found")

type ArchiveSQLite struct {
	db *sql.DB
}

func NewArchiveSQLite(db *sql.DB) *ArchiveSQLite { return &ArchiveSQLite{db: db} }

// Add indexes a stored bundle.
func (r *ArchiveSQLite) Add(ctx context.Context, e models.ArchiveEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, insertArchiveSQL,
		e.ID, e.Path, e.Batch, e.State, e.SetPoint, e.CreatedAt.UTC().Format(sqliteTimestamp))
	if err != nil {
		return fmt.Errorf("insert archive %q: %w", e.ID, err)
	}
	return nil
}

// List returns the newest bundles first.
func (r *ArchiveSQLite) List(ctx context.Context, limit int) ([]models.ArchiveEntry, error) {
	if limit <= 0 {
		limit = defaultArchiveLimit
	}
	rows, err := r.db.QueryContext(ctx, selectArchiveSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ArchiveEntry
	for rows.Next() {
		var e models.ArchiveEntry
		if err := rows.Scan(&e.ID, &e.Path, &e.Batch, &e.State, &e.SetPoint, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns the bundle indexed under id.
func (r *ArchiveSQLite) Get(ctx context.Context, id string) (models.ArchiveEntry, error) {
	var e models.ArchiveEntry
	err := r.db.QueryRowContext(ctx, selectArchiveByIDSQL, id).
		Scan(&e.ID, &e.Path, &e.Batch, &e.State, &e.SetPoint, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ArchiveEntry{}, fmt.Errorf("%w: %q", ErrArchiveNotFound, id)
	}
	if err != nil {
		return models.ArchiveEntry{}, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}
