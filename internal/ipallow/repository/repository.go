package repository

import (
	"context"

	"authguard/internal/ipallow/domain"
)

// Repository persists allow-list entries.
type Repository interface {
	// ListActiveFor returns active entries owned by identityID plus active global entries.
	ListActiveFor(ctx context.Context, identityID string) ([]*domain.Entry, error)
	Create(ctx context.Context, e *domain.Entry) error
	SetActive(ctx context.Context, id string, active bool) error
}
