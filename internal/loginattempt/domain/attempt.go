package domain

import "time"

// Failure reasons recorded on unsuccessful attempts.
const (
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonLocked             = "locked"
	ReasonUnknownOrigin      = "unknown_origin"
	ReasonOTPMismatch        = "otp_mismatch"
	ReasonOTPExhausted       = "otp_exhausted"
	ReasonOTPExpired         = "otp_expired"
	ReasonOTPPending         = "otp_pending"
	ReasonTooManySessions    = "too_many_sessions"
)

// Attempt is one append-only row of the login attempt log.
type Attempt struct {
	ID         string
	Identifier string
	IdentityID string // empty when the identifier did not resolve
	OriginIP   string
	Client     string // device fingerprint or user agent
	Success    bool
	Reason     string
	CreatedAt  time.Time
}
