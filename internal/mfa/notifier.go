package mfa

import (
	"context"
	"fmt"
	"time"

	identity "authguard/internal/identity/domain"
	"authguard/internal/mfa/domain"
)

// Delivery is one code to hand to a channel. Code is plaintext and must never be logged.
type Delivery struct {
	ChallengeID string
	Identity    *identity.Identity
	Channel     domain.Channel
	Code        string
	ExpiresAt   time.Time
}

// Notifier delivers codes out of band.
type Notifier interface {
	SendOTP(ctx context.Context, d Delivery) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, d Delivery) error

func (f NotifierFunc) SendOTP(ctx context.Context, d Delivery) error { return f(ctx, d) }

// ChannelNotifier routes a delivery to the notifier registered for its channel.
type ChannelNotifier map[domain.Channel]Notifier

func (c ChannelNotifier) SendOTP(ctx context.Context, d Delivery) error {
	n, ok := c[d.Channel]
	if !ok || n == nil {
		return fmt.Errorf("mfa: no notifier for channel %q", d.Channel)
	}
	return n.SendOTP(ctx, d)
}

// Fanout sends to every notifier and returns the first error.
type Fanout []Notifier

func (f Fanout) SendOTP(ctx context.Context, d Delivery) error {
	var first error
	for _, n := range f {
		if err := n.SendOTP(ctx, d); err != nil && first == nil {
			first = err
		}
	}
	return first
}
