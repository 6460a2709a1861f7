package domain

import "time"

// Actions recorded by the engine.
const (
	ActionSessionCreated  = "session_created"
	ActionSessionRevoked  = "session_revoked"
	ActionSessionExpired  = "session_expired"
	ActionSessionEvicted  = "session_evicted"
	ActionSessionsRevoked = "sessions_revoked_all"
	ActionAlertResolved   = "alert_resolved"
	ActionLoginSucceeded  = "login_succeeded"
	ResourceSession       = "session"
	ResourceSecurityAlert = "security_alert"
	ResourceIdentity      = "identity"
)

// AuditLog is one audit trail entry. IdentityID is the actor, or the subject when there is no separate actor.
type AuditLog struct {
	ID         string
	IdentityID string
	Action     string
	Resource   string
	IP         string
	Metadata   string
	CreatedAt  time.Time
}
