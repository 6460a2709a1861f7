package engine

import (
	"time"

	identity "authguard/internal/identity/domain"
)

// Status is the outcome of an engine call.
type Status int

const (
	StatusSuccess Status = iota
	StatusRequireOTP
	StatusLocked
	StatusInvalidCredentials
	StatusUnknownOrigin
	StatusTooManySessions
	StatusStorageTimeout
	StatusExpired
	StatusExhausted
	StatusMismatch
	StatusRateLimited
	StatusActive
	StatusIdleWarning
)

var statusNames = [...]string{
	StatusSuccess:            "success",
	StatusRequireOTP:         "require_otp",
	StatusLocked:             "locked",
	StatusInvalidCredentials: "invalid_credentials",
	StatusUnknownOrigin:      "unknown_origin",
	StatusTooManySessions:    "too_many_sessions",
	StatusStorageTimeout:     "storage_timeout",
	StatusExpired:            "expired",
	StatusExhausted:          "exhausted",
	StatusMismatch:           "mismatch",
	StatusRateLimited:        "rate_limited",
	StatusActive:             "active",
	StatusIdleWarning:        "idle_warning",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// LoginRequest is one first-factor login.
type LoginRequest struct {
	Role              identity.Role // optional; when set the identity must hold this role
	Identifier        string
	Secret            []byte
	Origin            string
	DeviceFingerprint string
}

// LoginResult carries the session token on Success and the challenge id on RequireOTP.
type LoginResult struct {
	Status       Status
	SessionToken string
	SessionID    string
	ChallengeID  string
	ExpiresAt    time.Time // session expiry on Success, challenge expiry on RequireOTP
	LockedUntil  time.Time
	// Remaining is the number of failures left before the lock engages.
	Remaining int
}

// OTPResult is returned by VerifyOTP and ResendOTP.
type OTPResult struct {
	Status       Status
	SessionToken string
	SessionID    string
	ChallengeID  string
	ExpiresAt    time.Time
	LockedUntil  time.Time
	// AttemptsLeft is set on Mismatch.
	AttemptsLeft int
}

// HeartbeatResult reports a session's status without renewing it.
type HeartbeatResult struct {
	Status           Status
	SecondsRemaining int
	ExpiresAt        time.Time
}

// WhoAmIResult describes the caller behind a session token.
type WhoAmIResult struct {
	Identity         *identity.Identity
	Role             identity.Role
	SessionID        string
	SessionExpiresAt time.Time
}
