package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"transfer_cavity_lock/internal/models"
)

type SettingsSQLite struct {
	db *sql.DB
}

func NewSettingsSQLite(db *sql.DB) *SettingsSQLite {
	return &SettingsSQLite{db: db}
}

const (
	lockSettingsRowID = 1

	upsertSettingsSQL = `
		INSERT INTO lock_settings (id, steps, scan_offset, scan_width, gain, laser_voltage, set_point, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			steps=excluded.steps,
			scan_offset=excluded.scan_offset,
			scan_width=excluded.scan_width,
			gain=excluded.gain,
			laser_voltage=excluded.laser_voltage,
			set_point=excluded.set_point,
			updated_at=excluded.updated_at
	`

	selectSettingsSQL = `
		SELECT id, steps, scan_offset, scan_width, gain, laser_voltage, set_point, updated_at
		FROM lock_settings WHERE id=?
	`
)

// Save updates or inserts the lock_settings row (id always 1).
func (r *SettingsSQLite) Save(ctx context.Context, s models.LockSettings) error {
	ts := s.UpdatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	} else {
		ts = ts.UTC()
	}

	_, err := r.db.ExecContext(ctx, upsertSettingsSQL,
		lockSettingsRowID,
		s.Steps,
		s.ScanOffset,
		s.ScanWidth,
		s.Gain,
		s.LaserVoltage,
		s.SetPoint,
		ts,
	)
	return err
}

// Load fetches the settings row. ok is false when nothing was saved yet.
func (r *SettingsSQLite) Load(ctx context.Context) (models.LockSettings, bool, error) {
	row := r.db.QueryRowContext(ctx, selectSettingsSQL, lockSettingsRowID)

	var s models.LockSettings
	if err := row.Scan(
		&s.ID,
		&s.Steps,
		&s.ScanOffset,
		&s.ScanWidth,
		&s.Gain,
		&s.LaserVoltage,
		&s.SetPoint,
		&s.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.LockSettings{}, false, nil
		}
		return models.LockSettings{}, false, err
	}
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, true, nil
}
