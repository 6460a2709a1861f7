package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"authguard/internal/alert"
	alertdomain "authguard/internal/alert/domain"
	alertrepo "authguard/internal/alert/repository"
	identity "authguard/internal/identity/domain"
	identityrepo "authguard/internal/identity/repository"
	iprepo "authguard/internal/ipallow/repository"
	"authguard/internal/platform/clock"
	"authguard/internal/platform/rbac"
	"authguard/internal/security"
	"authguard/internal/session"
	sessiondomain "authguard/internal/session/domain"
	sessionrepo "authguard/internal/session/repository"
)

func memStores(t *testing.T) (*stores, openFunc) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	ids := identityrepo.NewMemoryRepository()
	for _, seed := range []*identity.Identity{
		{ID: "admin-1", Role: identity.RoleAdmin, Identifier: "admin1", SecretHash: "h"},
		{ID: "staff-9", Role: identity.RoleStaff, Identifier: "staff9", SecretHash: "h"},
	} {
		if err := ids.Create(context.Background(), seed); err != nil {
			t.Fatalf("Create identity: %v", err)
		}
	}
	s := &stores{
		Identities: ids,
		Alerts:     alert.NewEmitter(alertrepo.NewMemoryRepository(), clk, time.Minute, nil),
		Sessions:   session.NewManager(sessionrepo.NewMemoryRepository(), nil, clk, session.Config{
			Policies: map[identity.Role]sessiondomain.Policy{
				identity.RoleStaff: {TTL: time.Hour, IdleTimeout: 10 * time.Minute, MaxSessions: 3},
			},
		}, nil),
		AllowList:  iprepo.NewMemoryRepository(),
		Clock:      clk,
	}
	return s, func(context.Context) (*stores, func(), error) { return s, func() {}, nil }
}

func execute(t *testing.T, open openFunc, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(open)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestHashSecret(t *testing.T) {
	out, err := execute(t, nil, "s3cret\n", "hash-secret", "--cost", "4")
	if err != nil {
		t.Fatalf("hash-secret: %v", err)
	}
	hash := strings.TrimSpace(out)
	if err := security.NewHasher(4).Compare(hash, []byte("s3cret")); err != nil {
		t.Errorf("printed hash does not verify: %v", err)
	}
	if _, err := execute(t, nil, "", "hash-secret"); err == nil {
		t.Error("empty stdin must fail")
	}
}

func TestGenKeys(t *testing.T) {
	out, err := execute(t, nil, "", "gen-keys")
	if err != nil {
		t.Fatalf("gen-keys: %v", err)
	}
	vals := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			t.Fatalf("unexpected line %q", line)
		}
		vals[k] = strings.Trim(v, `"`)
	}
	if _, _, err := security.LoadKeyPair(vals["JWT_PRIVATE_KEY"], vals["JWT_PUBLIC_KEY"]); err != nil {
		t.Errorf("printed pair does not load: %v", err)
	}
	if _, err := execute(t, nil, "", "gen-keys", "--alg", "HS256"); err == nil {
		t.Error("HS256 must be rejected")
	}
}

func TestAlertsListAndResolve(t *testing.T) {
	s, open := memStores(t)
	ctx := context.Background()
	s.Alerts.Raise(ctx, alertdomain.Input{Type: alertdomain.TypeUnknownOrigin, IdentityID: "owner-1", Origin: "192.168.1.5"})

	out, err := execute(t, open, "", "alerts", "list")
	if err != nil {
		t.Fatalf("alerts list: %v", err)
	}
	if !strings.Contains(out, "unknown_origin") || !strings.Contains(out, "192.168.1.5") {
		t.Fatalf("list output = %q", out)
	}
	alerts, _ := s.Alerts.List(ctx, alertdomain.Filter{})
	id := alerts[0].ID

	if _, err := execute(t, open, "", "alerts", "resolve", id); err == nil {
		t.Error("resolve without --by must fail")
	}
	if _, err := execute(t, open, "", "alerts", "resolve", id, "--by", "admin-1", "--notes", "vpn"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	out, _ = execute(t, open, "", "alerts", "list")
	if strings.Contains(out, id) {
		t.Errorf("resolved alert still listed as open: %q", out)
	}
	out, _ = execute(t, open, "", "alerts", "list", "--all")
	if !strings.Contains(out, id) {
		t.Errorf("--all must include resolved alerts: %q", out)
	}
}

func TestSessionsEvictAndRevokeAll(t *testing.T) {
	s, open := memStores(t)
	ctx := context.Background()
	a, _, _ := s.Sessions.Create(ctx, session.CreateRequest{IdentityID: "staff-1", Role: identity.RoleStaff})
	_, _, _ = s.Sessions.Create(ctx, session.CreateRequest{IdentityID: "staff-1", Role: identity.RoleStaff})

	out, err := execute(t, open, "", "sessions", "list")
	if err != nil || strings.Count(out, "staff-1") != 2 {
		t.Fatalf("sessions list = %q, %v", out, err)
	}
	if _, err := execute(t, open, "", "sessions", "evict", a.ID, "--admin", "staff-9"); !errors.Is(err, rbac.ErrForbidden) {
		t.Errorf("evict by staff err = %v, want ErrForbidden", err)
	}
	if out, err := execute(t, open, "", "sessions", "evict", a.ID, "--admin", "admin-1"); err != nil || !strings.Contains(out, "evicted") {
		t.Fatalf("evict = %q, %v", out, err)
	}
	if out, _ := execute(t, open, "", "sessions", "evict", a.ID, "--admin", "admin-1"); !strings.Contains(out, "not live") {
		t.Errorf("second evict = %q", out)
	}
	out, err = execute(t, open, "", "sessions", "revoke-all", "staff-1")
	if err != nil || !strings.Contains(out, "revoked 1 session(s)") {
		t.Errorf("revoke-all = %q, %v", out, err)
	}
}

func TestAllowAddAndDisable(t *testing.T) {
	s, open := memStores(t)
	ctx := context.Background()
	if _, err := execute(t, open, "", "allow", "add", "not-a-cidr"); err == nil {
		t.Error("invalid cidr must fail")
	}
	if _, err := execute(t, open, "", "allow", "add", "10.0.0.0/24", "--identity", "owner-1", "--note", "office"); err != nil {
		t.Fatalf("allow add: %v", err)
	}
	entries, _ := s.AllowList.ListActiveFor(ctx, "owner-1")
	if len(entries) != 1 || entries[0].Prefix.String() != "10.0.0.0/24" {
		t.Fatalf("entries = %+v", entries)
	}
	if _, err := execute(t, open, "", "allow", "disable", entries[0].ID); err != nil {
		t.Fatalf("allow disable: %v", err)
	}
	if entries, _ := s.AllowList.ListActiveFor(ctx, "owner-1"); len(entries) != 0 {
		t.Errorf("entry still active: %+v", entries)
	}
}
