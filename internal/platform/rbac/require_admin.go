// Package rbac checks that an acting identity may perform administrative operations.
package rbac

import (
	"context"
	"errors"
	"fmt"

	identity "authguard/internal/identity/domain"
)

var (
	// ErrUnauthenticated is returned when no acting identity is given or it does not exist.
	ErrUnauthenticated = errors.New("acting identity required")
	// ErrForbidden is returned when the acting identity is not an owner or admin, or is suspended.
	ErrForbidden = errors.New("owner or admin role required")
)

// IdentityGetter loads identities by id.
type IdentityGetter interface {
	GetByID(ctx context.Context, id string) (*identity.Identity, error)
}

// RequireAdmin ensures actorID names an active identity with role owner or admin.
func RequireAdmin(ctx context.Context, getter IdentityGetter, actorID string) (*identity.Identity, error) {
	if actorID == "" {
		return nil, ErrUnauthenticated
	}
	actor, err := getter.GetByID(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	if actor == nil {
		return nil, ErrUnauthenticated
	}
	if !actor.Active() {
		return nil, ErrForbidden
	}
	if actor.Role != identity.RoleOwner && actor.Role != identity.RoleAdmin {
		return nil, ErrForbidden
	}
	return actor, nil
}
