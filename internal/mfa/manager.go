// Package mfa issues, delivers, and verifies one-time passcode challenges.
package mfa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	identity "authguard/internal/identity/domain"
	"authguard/internal/logging"
	"authguard/internal/mfa/domain"
	"authguard/internal/mfa/repository"
	"authguard/internal/platform/clock"
	"authguard/internal/platform/keylock"
)

var (
	// ErrExpired covers a challenge that is missing, timed out, consumed, or superseded.
	ErrExpired = errors.New("otp challenge expired")
	// ErrExhausted means the challenge used all its attempts; a new one must be issued.
	ErrExhausted = errors.New("otp attempts exhausted")
	// ErrMismatch is a wrong code with attempts remaining.
	ErrMismatch = errors.New("otp mismatch")
	// ErrRateLimited is a resend inside the cooldown or past the resend cap.
	ErrRateLimited = errors.New("otp resend rate limited")
	// ErrUnknownIdentity is returned when the challenge's identity cannot be loaded.
	ErrUnknownIdentity = errors.New("otp identity not found")
)

// Config holds code and resend parameters.
type Config struct {
	Length         int
	Expiry         time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
	MaxResend      int
}

// DefaultConfig: 6 digits, 5 minutes, 3 attempts, 60s cooldown, 3 resends.
var DefaultConfig = Config{Length: 6, Expiry: 5 * time.Minute, MaxAttempts: 3, ResendCooldown: time.Minute, MaxResend: 3}

// IdentityLookup loads the identity a code is delivered to.
type IdentityLookup interface {
	GetByID(ctx context.Context, id string) (*identity.Identity, error)
}

// IssueRequest starts (or continues) the identity's challenge lineage.
type IssueRequest struct {
	IdentityID        string
	Channel           domain.Channel
	Origin            string
	DeviceFingerprint string
}

// Manager owns challenge lifecycle. Operations on one identity are serialized.
type Manager struct {
	repo       repository.Repository
	identities IdentityLookup
	notifier   Notifier
	locks      *keylock.Striped
	clock      clock.Clock
	cfg        Config
	logger     *slog.Logger
}

// NewManager returns a Manager. Zero fields in cfg take DefaultConfig values.
func NewManager(repo repository.Repository, identities IdentityLookup, notifier Notifier, clk clock.Clock, cfg Config, logger *slog.Logger) *Manager {
	if cfg.Length <= 0 {
		cfg.Length = DefaultConfig.Length
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultConfig.Expiry
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if cfg.ResendCooldown < 0 {
		cfg.ResendCooldown = 0
	}
	if cfg.MaxResend < 0 {
		cfg.MaxResend = 0
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{repo: repo, identities: identities, notifier: notifier, locks: keylock.New(0), clock: clk, cfg: cfg, logger: logger}
}

// Issue creates a challenge for req.IdentityID and delivers its code. When a live challenge
// already exists the call is a resend of that lineage: inside the cooldown or past the cap it
// returns the live challenge together with ErrRateLimited.
func (m *Manager) Issue(ctx context.Context, req IssueRequest) (*domain.Challenge, error) {
	unlock := m.locks.Lock(req.IdentityID)
	defer unlock()

	now := m.clock.Now()
	cur, err := m.repo.GetPendingByIdentity(ctx, req.IdentityID)
	if err != nil {
		return nil, err
	}
	resendCount := 0
	if cur.Live(now) {
		if err := m.checkResend(cur, now); err != nil {
			return cur, err
		}
		resendCount = cur.ResendCount + 1
	}
	if req.Channel == "" {
		req.Channel = domain.ChannelSMS
	}
	return m.issueLocked(ctx, req, resendCount, now)
}

// Resend replaces the live challenge challengeID with a fresh code in the same lineage.
func (m *Manager) Resend(ctx context.Context, challengeID string) (*domain.Challenge, error) {
	c, err := m.repo.GetByID(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrExpired
	}
	unlock := m.locks.Lock(c.IdentityID)
	defer unlock()

	now := m.clock.Now()
	if c, err = m.repo.GetByID(ctx, challengeID); err != nil {
		return nil, err
	}
	if !c.Live(now) {
		return nil, ErrExpired
	}
	if err := m.checkResend(c, now); err != nil {
		return c, err
	}
	return m.issueLocked(ctx, IssueRequest{
		IdentityID:        c.IdentityID,
		Channel:           c.Channel,
		Origin:            c.Origin,
		DeviceFingerprint: c.DeviceFingerprint,
	}, c.ResendCount+1, now)
}

// Verify checks code against challengeID. On success the challenge is consumed and returned;
// it can never succeed again.
func (m *Manager) Verify(ctx context.Context, challengeID, code string) (*domain.Challenge, error) {
	c, err := m.repo.GetByID(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrExpired
	}
	unlock := m.locks.Lock(c.IdentityID)
	defer unlock()

	if c, err = m.repo.GetByID(ctx, challengeID); err != nil {
		return nil, err
	}
	now := m.clock.Now()
	switch {
	case c.Status == domain.StatusExhausted:
		return c, ErrExhausted
	case c.Status != domain.StatusPending, !now.Before(c.ExpiresAt):
		return c, ErrExpired
	}

	if !OTPEqual(code, c.CodeHash) {
		c.AttemptsUsed++
		verr := ErrMismatch
		if c.AttemptsUsed >= c.MaxAttempts {
			c.AttemptsUsed = c.MaxAttempts
			c.Status = domain.StatusExhausted
			verr = ErrExhausted
		}
		if err := m.repo.Update(ctx, c); err != nil {
			return nil, err
		}
		return c, verr
	}

	c.Status = domain.StatusConsumed
	if err := m.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Live returns the identity's live challenge, or nil.
func (m *Manager) Live(ctx context.Context, identityID string) (*domain.Challenge, error) {
	c, err := m.repo.GetPendingByIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if !c.Live(m.clock.Now()) {
		return nil, nil
	}
	return c, nil
}

// Get returns the challenge for id in any state, or nil.
func (m *Manager) Get(ctx context.Context, challengeID string) (*domain.Challenge, error) {
	return m.repo.GetByID(ctx, challengeID)
}

func (m *Manager) checkResend(c *domain.Challenge, now time.Time) error {
	if c.ResendCount >= m.cfg.MaxResend {
		return ErrRateLimited
	}
	if now.Before(c.LastSentAt.Add(m.cfg.ResendCooldown)) {
		return ErrRateLimited
	}
	return nil
}

// issueLocked persists a new challenge superseding any pending one and sends its code.
// Caller holds the identity lock.
func (m *Manager) issueLocked(ctx context.Context, req IssueRequest, resendCount int, now time.Time) (*domain.Challenge, error) {
	ident, err := m.identities.GetByID(ctx, req.IdentityID)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, ErrUnknownIdentity
	}
	code, err := GenerateOTP(m.cfg.Length)
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}
	c := &domain.Challenge{
		ID:                uuid.NewString(),
		IdentityID:        req.IdentityID,
		CodeHash:          HashOTP(code),
		Channel:           req.Channel,
		IssuedAt:          now,
		ExpiresAt:         now.Add(m.cfg.Expiry),
		MaxAttempts:       m.cfg.MaxAttempts,
		Status:            domain.StatusPending,
		ResendCount:       resendCount,
		LastSentAt:        now,
		Origin:            req.Origin,
		DeviceFingerprint: req.DeviceFingerprint,
	}
	if err := m.repo.Replace(ctx, c); err != nil {
		return nil, err
	}
	if m.notifier != nil {
		err := m.notifier.SendOTP(ctx, Delivery{ChallengeID: c.ID, Identity: ident, Channel: c.Channel, Code: code, ExpiresAt: c.ExpiresAt})
		if err != nil {
			m.logger.ErrorContext(ctx, "otp delivery failed",
				"challenge_id", c.ID,
				"identity_id", c.IdentityID,
				"channel", string(c.Channel),
				"error", logging.Sanitize(err.Error()),
			)
		}
	}
	return c, nil
}
