package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/klawrawkz/csla/internal/audit/domain"
)

const (
	selectColumns = `SELECT id, username, action, resource, ip, metadata, created_at FROM audit_logs`

	insertAuditLog = `INSERT INTO audit_logs (id, username, action, resource, ip, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	getAuditLog = selectColumns + ` WHERE id = $1`
	listAll     = selectColumns + ` ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`
	listByUser  = selectColumns + ` WHERE username = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the audit log for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.AuditLog, error) {
	a, err := scanAuditLog(r.db.QueryRowContext(ctx, getAuditLog, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// List returns audit logs newest first, optionally for one username, paginated by limit and offset.
// Returns (nil, error) only on database errors.
func (r *PostgresRepository) List(ctx context.Context, username string, limit, offset int32) ([]*domain.AuditLog, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if username == "" {
		rows, err = r.db.QueryContext(ctx, listAll, limit, offset)
	} else {
		rows, err = r.db.QueryContext(ctx, listByUser, username, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*domain.AuditLog, 0)
	for rows.Next() {
		a, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Create persists the audit log to the database. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx, insertAuditLog,
		a.ID, a.Username, a.Action, a.Resource, a.IP, a.Metadata, a.CreatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuditLog(row rowScanner) (*domain.AuditLog, error) {
	var a domain.AuditLog
	if err := row.Scan(&a.ID, &a.Username, &a.Action, &a.Resource, &a.IP, &a.Metadata, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}
