package domain

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

func TestEvaluate_HeartbeatThresholds(t *testing.T) {
	s := &Session{IssuedAt: t0, LastActivityAt: t0, ExpiresAt: t0.Add(8 * time.Hour), State: StateActive}
	p := Policy{TTL: 8 * time.Hour, IdleTimeout: 60 * time.Second}
	warn := 15 * time.Second

	tests := []struct {
		elapsed time.Duration
		status  Status
		secs    int
	}{
		{0, StatusActive, 60},
		{44 * time.Second, StatusActive, 16},
		{45 * time.Second, StatusIdleWarning, 15},
		{45*time.Second + 500*time.Millisecond, StatusIdleWarning, 15},
		{59 * time.Second, StatusIdleWarning, 1},
		{60 * time.Second, StatusExpired, 0},
		{2 * time.Hour, StatusExpired, 0},
	}
	for _, tt := range tests {
		ev := s.Evaluate(t0.Add(tt.elapsed), p, warn)
		if ev.Status != tt.status || ev.SecondsRemaining() != tt.secs {
			t.Errorf("at +%v: %v/%d, want %v/%d", tt.elapsed, ev.Status, ev.SecondsRemaining(), tt.status, tt.secs)
		}
	}
	if ev := s.Evaluate(t0.Add(time.Minute), p, warn); ev.Reason != ReasonIdleTimeout {
		t.Errorf("reason = %q, want idle timeout", ev.Reason)
	}
}

func TestEvaluate_TTLBoundsIdle(t *testing.T) {
	s := &Session{IssuedAt: t0, LastActivityAt: t0.Add(59 * time.Minute), ExpiresAt: t0.Add(time.Hour), State: StateActive}
	p := Policy{TTL: time.Hour, IdleTimeout: 30 * time.Minute}
	ev := s.Evaluate(t0.Add(59*time.Minute), p, 2*time.Minute)
	if ev.Status != StatusIdleWarning || !ev.Deadline.Equal(s.ExpiresAt) {
		t.Errorf("evaluation = %+v", ev)
	}
	ev = s.Evaluate(t0.Add(time.Hour), p, 2*time.Minute)
	if ev.Status != StatusExpired || ev.Reason != ReasonTTL {
		t.Errorf("evaluation = %+v", ev)
	}
}

func TestEvaluate_NoIdleTimeout(t *testing.T) {
	s := &Session{LastActivityAt: t0, ExpiresAt: t0.Add(time.Hour), State: StateActive}
	ev := s.Evaluate(t0.Add(50*time.Minute), Policy{TTL: time.Hour}, time.Minute)
	if ev.Status != StatusActive {
		t.Errorf("status = %v, want active", ev.Status)
	}
}

func TestEvaluate_Terminal(t *testing.T) {
	s := &Session{LastActivityAt: t0, ExpiresAt: t0.Add(time.Hour), State: StateRevoked, EndReason: ReasonLogout}
	if ev := s.Evaluate(t0, Policy{}, 0); ev.Status != StatusRevoked || ev.Reason != ReasonLogout {
		t.Errorf("revoked evaluation = %+v", ev)
	}
	s.State = StateExpired
	if ev := s.Evaluate(t0, Policy{}, 0); ev.Status != StatusExpired {
		t.Errorf("expired evaluation = %+v", ev)
	}
}

func TestStatus_String(t *testing.T) {
	if StatusIdleWarning.String() != "idle_warning" || Status(99).String() != "unknown" {
		t.Error("unexpected Status strings")
	}
}
