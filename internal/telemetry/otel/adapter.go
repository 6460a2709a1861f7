package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"authguard/internal/alert/domain"
)

const alertScope = "authguard.alerts"

// recordEmitter is the part of otellog.Logger the sink needs.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// AlertSink publishes security alerts as OTel log records.
type AlertSink struct {
	logger recordEmitter
}

// NewAlertSink returns a sink on provider's logger. A nil provider yields a sink that drops records.
func NewAlertSink(provider *sdklog.LoggerProvider) *AlertSink {
	if provider == nil {
		return &AlertSink{}
	}
	return &AlertSink{logger: provider.Logger(alertScope)}
}

// NewAlertSinkWithLogger is for tests that capture records.
func NewAlertSinkWithLogger(l recordEmitter) *AlertSink {
	return &AlertSink{logger: l}
}

// Publish emits a. Severity maps onto the OTel severity scale.
func (s *AlertSink) Publish(ctx context.Context, a *domain.Alert) error {
	if s == nil || s.logger == nil || a == nil {
		return nil
	}
	rec := otellog.Record{}
	ts := a.LastSeenAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetSeverity(severity(a.Severity))
	rec.SetSeverityText(string(a.Severity))
	rec.SetBody(otellog.StringValue(a.Details))
	rec.AddAttributes(
		otellog.String("alert.id", a.ID),
		otellog.String("alert.type", string(a.Type)),
		otellog.Int("alert.occurrences", a.Occurrences),
	)
	if a.IdentityID != "" {
		rec.AddAttributes(otellog.String("identity_id", a.IdentityID))
	}
	if a.Origin != "" {
		rec.AddAttributes(otellog.String("origin", a.Origin))
	}
	s.logger.Emit(ctx, rec)
	return nil
}

func severity(s domain.Severity) otellog.Severity {
	switch s {
	case domain.SeverityLow:
		return otellog.SeverityInfo
	case domain.SeverityMedium:
		return otellog.SeverityWarn
	case domain.SeverityHigh:
		return otellog.SeverityError
	case domain.SeverityCritical:
		return otellog.SeverityFatal
	}
	return otellog.SeverityUndefined
}
