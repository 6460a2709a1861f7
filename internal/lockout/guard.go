// Package lockout temporarily blocks an identifier after repeated failed authentication attempts.
package lockout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"authguard/internal/loginattempt/domain"
	attemptrepo "authguard/internal/loginattempt/repository"
	"authguard/internal/logging"
	"authguard/internal/platform/clock"
	"authguard/internal/platform/keylock"
)

// ErrLocked is returned when an attempt is rejected because the identifier is locked.
var ErrLocked = errors.New("identifier locked")

// Config holds the lockout thresholds.
type Config struct {
	MaxFailedAttempts int
	Window            time.Duration
	Duration          time.Duration
}

// Defaults: 5 failures in 15 minutes lock for 15 minutes.
var DefaultConfig = Config{MaxFailedAttempts: 5, Window: 15 * time.Minute, Duration: 15 * time.Minute}

// Outcome is what a guarded verification reports back to the guard.
type Outcome struct {
	Success bool
	// Pending marks a correct first factor that still awaits an OTP; it is logged but neither
	// counts as a failure nor clears prior failures.
	Pending    bool
	Reason     string
	IdentityID string
}

// Result describes the guard's decision for one attempt.
type Result struct {
	LockEngaged bool // this failure engaged the lock
	LockedUntil time.Time
	Remaining   int
}

// Guard records attempts and decides lock state. Per-identifier work is serialized with a
// per-key mutex, so a slow verifier only delays attempts on the same identifier.
type Guard struct {
	store    Store
	attempts attemptrepo.Repository
	locks    *keylock.Keyed
	clock    clock.Clock
	cfg      Config
	logger   *slog.Logger
}

// NewGuard returns a Guard. attempts may be nil to skip the attempt log.
func NewGuard(store Store, attempts attemptrepo.Repository, clk clock.Clock, cfg Config, logger *slog.Logger) *Guard {
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = DefaultConfig.MaxFailedAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig.Window
	}
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultConfig.Duration
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{store: store, attempts: attempts, locks: keylock.NewKeyed(), clock: clk, cfg: cfg, logger: logger}
}

// IsLocked reports whether identifier is locked now and until when.
func (g *Guard) IsLocked(ctx context.Context, identifier string) (bool, time.Time, error) {
	now := g.clock.Now()
	st, err := g.store.Get(ctx, identifier, now, g.cfg.Window)
	if err != nil {
		return false, time.Time{}, err
	}
	if st.Locked(now) {
		return true, st.LockedUntil, nil
	}
	return false, time.Time{}, nil
}

// RemainingAttempts returns how many failures are left before the lock engages (0 while locked).
func (g *Guard) RemainingAttempts(ctx context.Context, identifier string) (int, error) {
	now := g.clock.Now()
	st, err := g.store.Get(ctx, identifier, now, g.cfg.Window)
	if err != nil {
		return 0, err
	}
	if st.Locked(now) {
		return 0, nil
	}
	return g.remaining(st), nil
}

// RecordAttempt logs a completed attempt and updates lock state.
func (g *Guard) RecordAttempt(ctx context.Context, identifier, origin, client string, o Outcome) (Result, error) {
	unlock := g.locks.Lock(identifier)
	defer unlock()
	return g.record(ctx, identifier, origin, client, o)
}

// Attempt runs fn under the identifier's lock: it rejects with ErrLocked without calling fn when
// the identifier is locked, otherwise records fn's outcome. An error from fn is returned as-is and
// nothing is counted, so transient storage failures never lock anyone out.
func (g *Guard) Attempt(ctx context.Context, identifier, origin, client string, fn func(ctx context.Context) (Outcome, error)) (Outcome, Result, error) {
	unlock := g.locks.Lock(identifier)
	defer unlock()

	now := g.clock.Now()
	st, err := g.store.Get(ctx, identifier, now, g.cfg.Window)
	if err != nil {
		return Outcome{}, Result{}, err
	}
	if st.Locked(now) {
		g.appendLog(ctx, identifier, "", origin, client, false, domain.ReasonLocked, now)
		return Outcome{}, Result{LockedUntil: st.LockedUntil}, ErrLocked
	}

	o, err := fn(ctx)
	if err != nil {
		return o, Result{}, err
	}
	res, err := g.record(ctx, identifier, origin, client, o)
	return o, res, err
}

// record applies o. Caller holds the identifier's lock.
func (g *Guard) record(ctx context.Context, identifier, origin, client string, o Outcome) (Result, error) {
	now := g.clock.Now()
	reason := o.Reason
	if o.Pending && reason == "" {
		reason = domain.ReasonOTPPending
	}
	g.appendLog(ctx, identifier, o.IdentityID, origin, client, o.Success, reason, now)

	switch {
	case o.Pending:
		st, err := g.store.Get(ctx, identifier, now, g.cfg.Window)
		if err != nil {
			return Result{}, err
		}
		return Result{Remaining: g.remaining(st)}, nil
	case o.Success:
		if err := g.store.Clear(ctx, identifier); err != nil {
			return Result{}, err
		}
		return Result{Remaining: g.cfg.MaxFailedAttempts}, nil
	}

	st, err := g.store.RecordFailure(ctx, identifier, now, g.cfg.Window, g.cfg.MaxFailedAttempts, g.cfg.Duration)
	if err != nil {
		return Result{}, err
	}
	if st.Locked(now) && !st.Engaged {
		// Another instance locked the identifier after this attempt was admitted.
		return Result{LockedUntil: st.LockedUntil}, ErrLocked
	}
	if st.Engaged {
		g.logger.WarnContext(ctx, "identifier locked",
			"identifier", logging.Sanitize(identifier),
			"origin", logging.Sanitize(origin),
			"locked_until", st.LockedUntil,
		)
		return Result{LockEngaged: true, LockedUntil: st.LockedUntil}, nil
	}
	return Result{Remaining: g.remaining(st)}, nil
}

func (g *Guard) remaining(st State) int {
	r := g.cfg.MaxFailedAttempts - st.Failures
	if r < 0 {
		return 0
	}
	return r
}

// appendLog writes to the attempt log best-effort; a log failure never changes the decision.
func (g *Guard) appendLog(ctx context.Context, identifier, identityID, origin, client string, success bool, reason string, at time.Time) {
	if g.attempts == nil {
		return
	}
	a := &domain.Attempt{
		ID:         uuid.NewString(),
		Identifier: identifier,
		IdentityID: identityID,
		OriginIP:   origin,
		Client:     client,
		Success:    success,
		Reason:     reason,
		CreatedAt:  at,
	}
	if err := g.attempts.Append(ctx, a); err != nil {
		g.logger.ErrorContext(ctx, "append login attempt", "identifier", logging.Sanitize(identifier), "error", err)
	}
}
