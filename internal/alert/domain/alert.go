package domain

import "time"

// Type classifies a security alert.
type Type string

const (
	TypeSuspiciousLogin  Type = "suspicious_login"
	TypeUnknownOrigin    Type = "unknown_origin"
	TypeRepeatedFailures Type = "repeated_failures"
	TypeSessionAnomaly   Type = "session_anomaly"
)

// Severity orders alerts for triage.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Input is what a caller supplies when raising an alert.
type Input struct {
	Type       Type
	Severity   Severity
	IdentityID string
	Origin     string
	Details    string
}

// Alert is a persisted security alert. Repeats within the dedup window bump Occurrences and LastSeenAt.
type Alert struct {
	ID              string
	Type            Type
	Severity        Severity
	IdentityID      string
	Origin          string
	Details         string
	Occurrences     int
	FirstSeenAt     time.Time
	LastSeenAt      time.Time
	Resolved        bool
	ResolvedBy      string
	ResolvedAt      *time.Time
	ResolutionNotes string
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Type           Type
	IdentityID     string
	UnresolvedOnly bool
	Limit          int
}

// Matches reports whether a satisfies f, ignoring Limit.
func (f Filter) Matches(a *Alert) bool {
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.IdentityID != "" && a.IdentityID != f.IdentityID {
		return false
	}
	if f.UnresolvedOnly && a.Resolved {
		return false
	}
	return true
}
