package repository

import (
	"context"

	"github.com/klawrawkz/csla/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.AuditLog, error)
	// List returns entries newest first. An empty username matches every entry.
	List(ctx context.Context, username string, limit, offset int32) ([]*domain.AuditLog, error)
	Create(ctx context.Context, a *domain.AuditLog) error
}
