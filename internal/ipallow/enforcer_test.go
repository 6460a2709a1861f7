package ipallow

import (
	"context"
	"errors"
	"testing"

	alertdomain "authguard/internal/alert/domain"
	identity "authguard/internal/identity/domain"
	"authguard/internal/ipallow/domain"
	"authguard/internal/ipallow/repository"
)

type captureAlerts struct {
	raised []alertdomain.Input
}

func (c *captureAlerts) Raise(ctx context.Context, in alertdomain.Input) {
	c.raised = append(c.raised, in)
}

type errRepo struct{ repository.Repository }

func (errRepo) ListActiveFor(context.Context, string) ([]*domain.Entry, error) {
	return nil, errors.New("storage timeout")
}

func entry(id, identityID, cidr string, active bool) *domain.Entry {
	p, err := domain.ParsePrefix(cidr)
	if err != nil {
		panic(err)
	}
	return &domain.Entry{ID: id, IdentityID: identityID, Prefix: p, Active: active}
}

func newEnforcer(entries ...*domain.Entry) (*Enforcer, *captureAlerts) {
	repo := repository.NewMemoryRepository()
	for _, e := range entries {
		_ = repo.Create(context.Background(), e)
	}
	alerts := &captureAlerts{}
	return NewEnforcer(repo, alerts, nil), alerts
}

func TestCheck_NonPrivilegedAlwaysPasses(t *testing.T) {
	e, alerts := newEnforcer()
	for _, r := range []identity.Role{identity.RoleAdmin, identity.RoleStaff, identity.RoleCustomer} {
		if err := e.Check(context.Background(), "id", r, "garbage"); err != nil {
			t.Errorf("%s: %v", r, err)
		}
	}
	if len(alerts.raised) != 0 {
		t.Error("no alerts for non-privileged roles")
	}
}

func TestCheck_Owner(t *testing.T) {
	e, alerts := newEnforcer(
		entry("1", "owner-1", "10.0.0.0/24", true),
		entry("2", "", "192.168.50.7", true),
		entry("3", "owner-1", "172.16.0.0/12", false),
		entry("4", "owner-2", "198.51.100.0/24", true),
	)
	ctx := context.Background()
	tests := []struct {
		origin string
		ok     bool
	}{
		{"10.0.0.5", true},
		{"10.0.0.5:40000", true},
		{"192.168.50.7", true},
		{"192.168.50.8", false},
		{"172.16.1.1", false},      // inactive entry
		{"198.51.100.4", false},    // another identity's entry
		{"", false},
		{"not-an-ip", false},
	}
	for _, tt := range tests {
		err := e.Check(ctx, "owner-1", identity.RoleOwner, tt.origin)
		if tt.ok && err != nil {
			t.Errorf("origin %q: %v", tt.origin, err)
		}
		if !tt.ok && !errors.Is(err, ErrUnknownOrigin) {
			t.Errorf("origin %q: err = %v, want ErrUnknownOrigin", tt.origin, err)
		}
	}
	if len(alerts.raised) != 5 {
		t.Fatalf("alerts = %d, want 5", len(alerts.raised))
	}
	a := alerts.raised[0]
	if a.Type != alertdomain.TypeUnknownOrigin || a.Severity != alertdomain.SeverityHigh || a.IdentityID != "owner-1" || a.Origin != "192.168.50.8" {
		t.Errorf("alert = %+v", a)
	}
}

func TestCheck_EmptyListFailsClosed(t *testing.T) {
	e, _ := newEnforcer()
	if err := e.Check(context.Background(), "owner-1", identity.RoleOwner, "127.0.0.1"); !errors.Is(err, ErrUnknownOrigin) {
		t.Errorf("err = %v, want ErrUnknownOrigin", err)
	}
}

func TestCheck_StorageError(t *testing.T) {
	alerts := &captureAlerts{}
	e := NewEnforcer(errRepo{}, alerts, nil)
	err := e.Check(context.Background(), "owner-1", identity.RoleOwner, "10.0.0.1")
	if err == nil || errors.Is(err, ErrUnknownOrigin) {
		t.Errorf("err = %v, want storage error", err)
	}
	if len(alerts.raised) != 0 {
		t.Error("storage errors must not raise unknown_origin")
	}
}
