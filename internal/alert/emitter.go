// Package alert records security alerts, merges repeats, and fans them out to external sinks.
package alert

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"authguard/internal/alert/domain"
	"authguard/internal/alert/repository"
	"authguard/internal/logging"
	"authguard/internal/platform/clock"
	"authguard/internal/platform/keylock"
	"authguard/internal/telemetry"
)

// ErrNotFound is returned by Resolve for an unknown alert id.
var ErrNotFound = errors.New("alert not found")

// DefaultDedupWindow merges identical unresolved alerts raised within five minutes.
const DefaultDedupWindow = 5 * time.Minute

// Sink receives every raised or merged alert.
type Sink interface {
	Publish(ctx context.Context, a *domain.Alert) error
}

// NamedSink labels a sink for failure logs.
type NamedSink struct {
	Name string
	Sink Sink
}

// Emitter is the single entry point for raising alerts.
type Emitter struct {
	repo        repository.Repository
	clock       clock.Clock
	dedupWindow time.Duration
	sinks       []NamedSink
	dispatcher  *telemetry.Dispatcher
	metrics     *telemetry.Metrics
	locks       *keylock.Striped
	logger      *slog.Logger
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithSinks adds fan-out sinks; nil sinks are skipped.
func WithSinks(sinks ...NamedSink) Option {
	return func(e *Emitter) {
		for _, s := range sinks {
			if s.Sink != nil {
				e.sinks = append(e.sinks, s)
			}
		}
	}
}

// WithDispatcher runs sink publishes on d instead of a private dispatcher.
func WithDispatcher(d *telemetry.Dispatcher) Option {
	return func(e *Emitter) { e.dispatcher = d }
}

// WithMetrics counts raised alerts.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Emitter) { e.metrics = m }
}

// NewEmitter returns an Emitter. dedupWindow 0 disables merging.
func NewEmitter(repo repository.Repository, clk clock.Clock, dedupWindow time.Duration, logger *slog.Logger, opts ...Option) *Emitter {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Emitter{repo: repo, clock: clk, dedupWindow: dedupWindow, locks: keylock.New(64), logger: logger}
	for _, o := range opts {
		o(e)
	}
	if e.dispatcher == nil {
		e.dispatcher = telemetry.NewDispatcher(logger)
	}
	return e
}

// Raise records in. It never fails the caller: storage errors are logged and the alert is still
// written to the application log.
func (e *Emitter) Raise(ctx context.Context, in domain.Input) {
	if in.Severity == "" {
		in.Severity = domain.SeverityMedium
	}
	e.logger.WarnContext(ctx, "security alert",
		"type", string(in.Type),
		"severity", string(in.Severity),
		"identity_id", in.IdentityID,
		"origin", logging.Sanitize(in.Origin),
		"details", logging.Sanitize(in.Details),
	)
	e.metrics.Alert(ctx, string(in.Type), string(in.Severity))

	a, err := e.store(ctx, in)
	if err != nil {
		e.logger.ErrorContext(ctx, "persist security alert", "type", string(in.Type), "error", err)
		return
	}
	e.publish(a)
}

func (e *Emitter) store(ctx context.Context, in domain.Input) (*domain.Alert, error) {
	unlock := e.locks.Lock(string(in.Type) + "|" + in.IdentityID + "|" + in.Origin)
	defer unlock()

	now := e.clock.Now()
	if e.dedupWindow > 0 {
		open, err := e.repo.FindUnresolved(ctx, in.Type, in.IdentityID, in.Origin, now.Add(-e.dedupWindow))
		if err != nil {
			return nil, err
		}
		if open != nil {
			touched, err := e.repo.Touch(ctx, open.ID, now)
			if err != nil {
				return nil, err
			}
			if touched != nil {
				return touched, nil
			}
		}
	}
	a := &domain.Alert{
		ID:          uuid.NewString(),
		Type:        in.Type,
		Severity:    in.Severity,
		IdentityID:  in.IdentityID,
		Origin:      in.Origin,
		Details:     in.Details,
		Occurrences: 1,
		FirstSeenAt: now,
		LastSeenAt:  now,
	}
	if err := e.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (e *Emitter) publish(a *domain.Alert) {
	for _, s := range e.sinks {
		sink := s.Sink
		snapshot := *a
		e.dispatcher.Go(s.Name, func(ctx context.Context) error {
			return sink.Publish(ctx, &snapshot)
		})
	}
}

// Resolve closes an alert. Later identical events open a new alert.
func (e *Emitter) Resolve(ctx context.Context, alertID, resolverID, notes string) error {
	a, err := e.repo.GetByID(ctx, alertID)
	if err != nil {
		return err
	}
	if a == nil {
		return ErrNotFound
	}
	return e.repo.Resolve(ctx, alertID, resolverID, notes, e.clock.Now())
}

// List returns alerts matching f, newest first.
func (e *Emitter) List(ctx context.Context, f domain.Filter) ([]*domain.Alert, error) {
	return e.repo.List(ctx, f)
}

// Flush waits for in-flight sink publishes.
func (e *Emitter) Flush(ctx context.Context) error {
	return e.dispatcher.Drain(ctx)
}
