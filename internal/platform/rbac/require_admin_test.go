package rbac

import (
	"context"
	"errors"
	"testing"

	identity "authguard/internal/identity/domain"
)

// mockIdentityGetter implements IdentityGetter for tests.
type mockIdentityGetter struct {
	identities map[string]*identity.Identity
	err        error
}

func (m *mockIdentityGetter) GetByID(ctx context.Context, id string) (*identity.Identity, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.identities[id], nil
}

func TestRequireAdmin(t *testing.T) {
	getter := &mockIdentityGetter{identities: map[string]*identity.Identity{
		"owner-1":   {ID: "owner-1", Role: identity.RoleOwner, Status: identity.StatusActive},
		"admin-1":   {ID: "admin-1", Role: identity.RoleAdmin, Status: identity.StatusActive},
		"staff-1":   {ID: "staff-1", Role: identity.RoleStaff, Status: identity.StatusActive},
		"suspended": {ID: "suspended", Role: identity.RoleAdmin, Status: identity.StatusSuspended},
	}}
	tests := []struct {
		actor   string
		wantErr error
	}{
		{"owner-1", nil},
		{"admin-1", nil},
		{"staff-1", ErrForbidden},
		{"suspended", ErrForbidden},
		{"ghost", ErrUnauthenticated},
		{"", ErrUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.actor, func(t *testing.T) {
			got, err := RequireAdmin(context.Background(), getter, tt.actor)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err == nil && got.ID != tt.actor {
				t.Errorf("actor = %+v", got)
			}
		})
	}
}

func TestRequireAdmin_LookupError(t *testing.T) {
	getter := &mockIdentityGetter{err: errors.New("db down")}
	_, err := RequireAdmin(context.Background(), getter, "owner-1")
	if err == nil || errors.Is(err, ErrForbidden) || errors.Is(err, ErrUnauthenticated) {
		t.Errorf("err = %v, want wrapped lookup error", err)
	}
}
