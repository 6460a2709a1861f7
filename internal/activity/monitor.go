// Package activity watches live sessions for inactivity, warning before the deadline and
// forcing logout once it passes.
package activity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"authguard/internal/platform/clock"
	"authguard/internal/session"
	"authguard/internal/session/domain"
)

// EventKind is the type of a monitor event.
type EventKind string

const (
	EventIdleWarning  EventKind = "idle_warning"
	EventForcedLogout EventKind = "forced_logout"
)

// Event is emitted by Tick. SecondsRemaining is set for idle warnings; Reason for forced logouts.
type Event struct {
	Kind             EventKind
	SessionID        string
	IdentityID       string
	SecondsRemaining int
	Reason           string
	At               time.Time
}

// Handler receives monitor events. It is called synchronously from Tick.
type Handler interface {
	HandleSessionEvent(ctx context.Context, e Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e Event)

func (f HandlerFunc) HandleSessionEvent(ctx context.Context, e Event) { f(ctx, e) }

// Sessions is the part of the session manager the monitor drives.
type Sessions interface {
	ListLive(ctx context.Context) ([]*domain.Session, error)
	Evaluate(s *domain.Session) domain.Evaluation
	Touch(ctx context.Context, sessionID string) (*domain.Session, error)
	MarkWarned(ctx context.Context, sessionID string) error
	Expire(ctx context.Context, sessionID, reason string) (bool, error)
}

// DefaultInterval is the tick period when none is configured.
const DefaultInterval = 5 * time.Second

// Monitor evaluates live sessions on each tick.
type Monitor struct {
	sessions Sessions
	handler  Handler
	clock    clock.Clock
	logger   *slog.Logger
}

// NewMonitor returns a Monitor. handler may be nil.
func NewMonitor(sessions Sessions, handler Handler, clk clock.Clock, logger *slog.Logger) *Monitor {
	if handler == nil {
		handler = HandlerFunc(func(context.Context, Event) {})
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{sessions: sessions, handler: handler, clock: clk, logger: logger}
}

// OnActivity records user activity on the session, resetting its idle period.
func (m *Monitor) OnActivity(ctx context.Context, sessionID string) error {
	_, err := m.sessions.Touch(ctx, sessionID)
	return err
}

// Tick evaluates every live session once. A session in its warning window gets one
// IdleWarning per idle period; a session past its deadline is expired and a ForcedLogout emitted.
// Errors on individual sessions are logged and do not stop the pass.
func (m *Monitor) Tick(ctx context.Context) error {
	live, err := m.sessions.ListLive(ctx)
	if err != nil {
		return err
	}
	now := m.clock.Now()
	for _, s := range live {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ev := m.sessions.Evaluate(s)
		switch ev.Status {
		case domain.StatusIdleWarning:
			if s.WarnedAt != nil {
				continue
			}
			if err := m.sessions.MarkWarned(ctx, s.ID); err != nil {
				m.logger.WarnContext(ctx, "activity: mark warned failed", "session_id", s.ID, "error", err)
				continue
			}
			m.handler.HandleSessionEvent(ctx, Event{
				Kind: EventIdleWarning, SessionID: s.ID, IdentityID: s.IdentityID,
				SecondsRemaining: ev.SecondsRemaining(), At: now,
			})
		case domain.StatusExpired:
			ended, err := m.sessions.Expire(ctx, s.ID, ev.Reason)
			if err != nil {
				m.logger.WarnContext(ctx, "activity: expire failed", "session_id", s.ID, "error", err)
				continue
			}
			if !ended {
				continue
			}
			m.logger.InfoContext(ctx, "session forced logout", "session_id", s.ID, "identity_id", s.IdentityID, "reason", ev.Reason)
			m.handler.HandleSessionEvent(ctx, Event{
				Kind: EventForcedLogout, SessionID: s.ID, IdentityID: s.IdentityID, Reason: ev.Reason, At: now,
			})
		}
	}
	return nil
}

// Run calls Tick every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.ErrorContext(ctx, "activity: tick failed", "error", err)
			}
		}
	}
}

var _ Sessions = (*session.Manager)(nil)
