package repository

import (
	"context"
	"time"

	"authguard/internal/identity/domain"
)

// Repository is the identity store the engine consumes. Get methods return (nil, nil) when
// the identity does not exist.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	GetByIdentifier(ctx context.Context, identifier string) (*domain.Identity, error)
	Create(ctx context.Context, i *domain.Identity) error
	// RecordLogin updates last-login metadata after a fully successful login.
	RecordLogin(ctx context.Context, id string, at time.Time, origin string) error
}
