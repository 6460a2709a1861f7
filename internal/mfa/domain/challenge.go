package domain

import "time"

// Channel is the delivery channel for a code.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Status is the lifecycle state of a challenge. Only StatusPending is verifiable.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConsumed   Status = "consumed"
	StatusExhausted  Status = "exhausted"
	StatusSuperseded Status = "superseded"
)

// Challenge is a one-time passcode challenge. The code itself is never stored, only CodeHash.
type Challenge struct {
	ID                string
	IdentityID        string
	CodeHash          string
	Channel           Channel
	IssuedAt          time.Time
	ExpiresAt         time.Time
	AttemptsUsed      int
	MaxAttempts       int
	Status            Status
	ResendCount       int // resends since the lineage's fresh issue
	LastSentAt        time.Time
	Origin            string
	DeviceFingerprint string
}

// Live reports whether the challenge is pending and unexpired at now.
func (c *Challenge) Live(now time.Time) bool {
	return c != nil && c.Status == StatusPending && now.Before(c.ExpiresAt)
}
