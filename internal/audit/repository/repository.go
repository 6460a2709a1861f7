package repository

import (
	"context"

	"authguard/internal/audit/domain"
)

// Repository persists audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	ListByIdentity(ctx context.Context, identityID string, limit int) ([]*domain.AuditLog, error)
}
