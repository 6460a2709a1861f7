package repository

import (
	"context"

	"authguard/internal/mfa/domain"
)

// Repository persists OTP challenges. Get methods return (nil, nil) when nothing matches.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Challenge, error)
	// GetPendingByIdentity returns the identity's pending challenge regardless of expiry.
	GetPendingByIdentity(ctx context.Context, identityID string) (*domain.Challenge, error)
	// Replace marks every pending challenge of next.IdentityID superseded and inserts next, atomically.
	Replace(ctx context.Context, next *domain.Challenge) error
	// Update writes AttemptsUsed and Status of c.
	Update(ctx context.Context, c *domain.Challenge) error
}
