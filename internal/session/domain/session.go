package domain

import (
	"time"

	identity "authguard/internal/identity/domain"
)

// State is the persisted lifecycle state. Expired and Revoked are terminal.
type State string

const (
	StateActive  State = "active"
	StateExpired State = "expired"
	StateRevoked State = "revoked"
)

// End reasons.
const (
	ReasonLogout      = "logout"
	ReasonIdleTimeout = "idle_timeout"
	ReasonTTL         = "ttl_elapsed"
	ReasonEvicted     = "evicted"
	ReasonRevokeAll   = "revoke_all"
)

// Session is an authenticated session. The bearer token is stored only as TokenHash.
type Session struct {
	ID                string
	IdentityID        string
	Role              identity.Role
	TokenHash         string
	IssuedAt          time.Time
	ExpiresAt         time.Time
	LastActivityAt    time.Time
	WarnedAt          *time.Time // set once per idle period; cleared by activity
	DeviceFingerprint string
	Origin            string
	State             State
	EndedAt           *time.Time
	EndReason         string
}

// Policy is the per-role session configuration.
type Policy struct {
	TTL         time.Duration
	IdleTimeout time.Duration // 0 means the TTL is the only bound
	MaxSessions int           // 0 means unlimited
}

// Status is the evaluated state of a session at a point in time.
type Status int

const (
	StatusActive Status = iota
	StatusIdleWarning
	StatusExpired
	StatusRevoked
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusIdleWarning:
		return "idle_warning"
	case StatusExpired:
		return "expired"
	case StatusRevoked:
		return "revoked"
	}
	return "unknown"
}

// Evaluation is the result of evaluating a session against its policy.
type Evaluation struct {
	Status    Status
	Deadline  time.Time
	Remaining time.Duration // until Deadline; zero once expired
	// Reason is why an expired session expired: ReasonIdleTimeout or ReasonTTL.
	Reason string
}

// SecondsRemaining rounds Remaining up so a warning never reports 0 while still valid.
func (e Evaluation) SecondsRemaining() int {
	if e.Remaining <= 0 {
		return 0
	}
	return int((e.Remaining + time.Second - 1) / time.Second)
}

// Deadline is min(last activity + idle timeout, expires at).
func (s *Session) Deadline(p Policy) (time.Time, string) {
	if p.IdleTimeout > 0 {
		idle := s.LastActivityAt.Add(p.IdleTimeout)
		if idle.Before(s.ExpiresAt) {
			return idle, ReasonIdleTimeout
		}
	}
	return s.ExpiresAt, ReasonTTL
}

// Evaluate computes the session status at now with the given warning window.
func (s *Session) Evaluate(now time.Time, p Policy, warning time.Duration) Evaluation {
	switch s.State {
	case StateRevoked:
		return Evaluation{Status: StatusRevoked, Reason: s.EndReason}
	case StateExpired:
		return Evaluation{Status: StatusExpired, Reason: s.EndReason}
	}
	deadline, reason := s.Deadline(p)
	if !now.Before(deadline) {
		return Evaluation{Status: StatusExpired, Deadline: deadline, Reason: reason}
	}
	remaining := deadline.Sub(now)
	if remaining <= warning {
		return Evaluation{Status: StatusIdleWarning, Deadline: deadline, Remaining: remaining}
	}
	return Evaluation{Status: StatusActive, Deadline: deadline, Remaining: remaining}
}
