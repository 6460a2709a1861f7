package repository

import (
	"context"
	"time"

	"authguard/internal/session/domain"
)

// Repository persists sessions. Get methods return (nil, nil) when not found.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	ListActiveByIdentity(ctx context.Context, identityID string) ([]*domain.Session, error)
	ListActive(ctx context.Context) ([]*domain.Session, error)
	// Touch sets last_activity_at and clears warned_at on an active session.
	Touch(ctx context.Context, id string, at time.Time) error
	MarkWarned(ctx context.Context, id string, at time.Time) error
	// End moves an active session to a terminal state. ended is false when it was already terminal.
	End(ctx context.Context, id string, state domain.State, reason string, at time.Time) (ended bool, err error)
	// EndAllByIdentity ends every active session of identityID and returns the ended ids.
	EndAllByIdentity(ctx context.Context, identityID string, state domain.State, reason string, at time.Time) ([]string, error)
}
