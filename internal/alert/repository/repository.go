package repository

import (
	"context"
	"time"

	"authguard/internal/alert/domain"
)

// Repository persists security alerts.
type Repository interface {
	Create(ctx context.Context, a *domain.Alert) error
	GetByID(ctx context.Context, id string) (*domain.Alert, error)
	// FindUnresolved returns the newest unresolved alert with the same type, identity, and origin
	// last seen at or after since, or nil.
	FindUnresolved(ctx context.Context, t domain.Type, identityID, origin string, since time.Time) (*domain.Alert, error)
	// Touch increments occurrences and sets last_seen_at; returns the updated alert.
	Touch(ctx context.Context, id string, at time.Time) (*domain.Alert, error)
	Resolve(ctx context.Context, id, resolverID, notes string, at time.Time) error
	// List returns alerts newest first.
	List(ctx context.Context, f domain.Filter) ([]*domain.Alert, error)
}
