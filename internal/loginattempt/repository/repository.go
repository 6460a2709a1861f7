package repository

import (
	"context"

	"authguard/internal/loginattempt/domain"
)

// Repository is the append-only login attempt log.
type Repository interface {
	Append(ctx context.Context, a *domain.Attempt) error
	// ListByIdentifier returns the newest attempts first, at most limit rows.
	ListByIdentifier(ctx context.Context, identifier string, limit int) ([]*domain.Attempt, error)
}
