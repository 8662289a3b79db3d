package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"transfer_cavity_lock/internal/models"
)

type OperatorRepository struct {
	db *sql.DB
}

func NewOperatorRepository(db *sql.DB) *OperatorRepository {
	return &OperatorRepository{db: db}
}

var _ Authorization = (*OperatorRepository)(nil)

const (
	insertOperatorSQL           = `INSERT INTO operators (username, password_hash, role) VALUES (?, ?, ?)`
	selectOperatorByUsernameSQL = `SELECT id, username, password_hash, role FROM operators WHERE username = ?`
	countOperatorsByRoleSQL     = `SELECT COUNT(*) FROM operators WHERE role = ?`
)

// Create inserts a new account and returns its ID.
func (r *OperatorRepository) Create(ctx context.Context, op models.Operator) (int, error) {
	res, err := r.db.ExecContext(ctx, insertOperatorSQL, op.Username, op.PasswordHash, op.Role)
	if err != nil {
		return 0, fmt.Errorf("insert operator %q: %w", op.Username, err)
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id for operator %q: %w", op.Username, err)
	}
	return int(lastID), nil
}

// GetByUsername fetches an account. Returns (nil, nil) if not found.
func (r *OperatorRepository) GetByUsername(ctx context.Context, username string) (*models.Operator, error) {
	var op models.Operator
	err := r.db.QueryRowContext(ctx, selectOperatorByUsernameSQL, username).
		Scan(&op.ID, &op.Username, &op.PasswordHash, &op.Role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select operator %q: %w", username, err)
	}
	return &op, nil
}

// CountByRole returns how many accounts hold role.
func (r *OperatorRepository) CountByRole(ctx context.Context, role string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, countOperatorsByRoleSQL, role).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s accounts: %w", role, err)
	}
	return n, nil
}
