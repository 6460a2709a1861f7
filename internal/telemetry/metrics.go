package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics are the engine's counters. A nil *Metrics records nothing.
type Metrics struct {
	logins   metric.Int64Counter
	otp      metric.Int64Counter
	sessions metric.Int64Counter
	alerts   metric.Int64Counter
	live     metric.Int64UpDownCounter
}

// NewMetrics creates the instruments on meter (no-op meter when nil).
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("authguard")
	}
	var (
		m   Metrics
		err error
	)
	if m.logins, err = meter.Int64Counter("authguard.login.attempts",
		metric.WithDescription("Login calls by outcome status")); err != nil {
		return nil, err
	}
	if m.otp, err = meter.Int64Counter("authguard.otp.verifications",
		metric.WithDescription("OTP verifications by outcome status")); err != nil {
		return nil, err
	}
	if m.sessions, err = meter.Int64Counter("authguard.session.events",
		metric.WithDescription("Session lifecycle events")); err != nil {
		return nil, err
	}
	if m.alerts, err = meter.Int64Counter("authguard.alerts.raised",
		metric.WithDescription("Security alerts raised, including deduplicated repeats")); err != nil {
		return nil, err
	}
	if m.live, err = meter.Int64UpDownCounter("authguard.session.live",
		metric.WithDescription("Sessions created minus sessions ended in this process")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) Login(ctx context.Context, status, role string) {
	if m == nil {
		return
	}
	m.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status), attribute.String("role", role)))
}

func (m *Metrics) OTP(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.otp.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// SessionStarted counts a created session.
func (m *Metrics) SessionStarted(ctx context.Context, role string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("event", "created"), attribute.String("role", role))
	m.sessions.Add(ctx, 1, attrs)
	m.live.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// SessionEnded counts a session leaving the live set; reason is logout, idle_timeout, evicted, ...
func (m *Metrics) SessionEnded(ctx context.Context, role, reason string) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("event", reason), attribute.String("role", role)))
	m.live.Add(ctx, -1, metric.WithAttributes(attribute.String("role", role)))
}

func (m *Metrics) Alert(ctx context.Context, typ, severity string) {
	if m == nil {
		return
	}
	m.alerts.Add(ctx, 1, metric.WithAttributes(attribute.String("type", typ), attribute.String("severity", severity)))
}
