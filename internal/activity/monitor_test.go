package activity

import (
	"context"
	"sync"
	"testing"
	"time"

	identity "authguard/internal/identity/domain"
	"authguard/internal/platform/clock"
	"authguard/internal/session"
	"authguard/internal/session/domain"
	"authguard/internal/session/repository"
)

var t0 = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) HandleSessionEvent(ctx context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func setup(t *testing.T) (*Monitor, *session.Manager, *clock.Fake, *recorder) {
	t.Helper()
	clk := clock.NewFake(t0)
	sessions := session.NewManager(repository.NewMemoryRepository(), nil, clk, session.Config{
		Policies: map[identity.Role]domain.Policy{
			identity.RoleStaff: {TTL: time.Hour, IdleTimeout: 60 * time.Second},
		},
		WarningWindow: 15 * time.Second,
	}, nil)
	rec := &recorder{}
	return NewMonitor(sessions, rec, clk, nil), sessions, clk, rec
}

func TestMonitor_WarnsOnceThenForcesLogout(t *testing.T) {
	mon, sessions, clk, rec := setup(t)
	ctx := context.Background()
	s, _, err := sessions.Create(ctx, session.CreateRequest{IdentityID: "staff-1", Role: identity.RoleStaff})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	clk.Advance(44 * time.Second)
	if err := mon.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(rec.kinds()) != 0 {
		t.Fatalf("events at 44s = %v, want none", rec.kinds())
	}

	clk.Advance(time.Second)
	_ = mon.Tick(ctx)
	clk.Advance(5 * time.Second)
	_ = mon.Tick(ctx)
	if got := rec.kinds(); len(got) != 1 || got[0] != EventIdleWarning {
		t.Fatalf("events in warning window = %v, want one idle_warning", got)
	}
	if rec.events[0].SecondsRemaining != 15 {
		t.Errorf("SecondsRemaining = %d, want 15", rec.events[0].SecondsRemaining)
	}

	clk.Advance(10 * time.Second)
	_ = mon.Tick(ctx)
	got := rec.kinds()
	if len(got) != 2 || got[1] != EventForcedLogout || rec.events[1].Reason != domain.ReasonIdleTimeout {
		t.Fatalf("events after deadline = %+v", rec.events)
	}
	stored, _ := sessions.Get(ctx, s.ID)
	if stored.State != domain.StateExpired {
		t.Errorf("state = %s, want expired", stored.State)
	}

	_ = mon.Tick(ctx)
	if len(rec.kinds()) != 2 {
		t.Errorf("expired session produced more events: %v", rec.kinds())
	}
}

func TestMonitor_ActivityResetsWarning(t *testing.T) {
	mon, sessions, clk, rec := setup(t)
	ctx := context.Background()
	s, _, err := sessions.Create(ctx, session.CreateRequest{IdentityID: "staff-1", Role: identity.RoleStaff})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	clk.Advance(50 * time.Second)
	_ = mon.Tick(ctx)
	if err := mon.OnActivity(ctx, s.ID); err != nil {
		t.Fatalf("OnActivity: %v", err)
	}
	clk.Advance(30 * time.Second)
	_ = mon.Tick(ctx)
	if got := rec.kinds(); len(got) != 1 {
		t.Fatalf("events after activity = %v, want only the first warning", got)
	}
	clk.Advance(20 * time.Second)
	_ = mon.Tick(ctx)
	if got := rec.kinds(); len(got) != 2 || got[1] != EventIdleWarning {
		t.Errorf("new idle period must warn again, got %v", got)
	}
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	mon, _, _, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mon.Run(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
