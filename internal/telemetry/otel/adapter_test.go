package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"authguard/internal/alert/domain"
)

type recordCapture struct {
	recs []otellog.Record
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.recs = append(r.recs, rec)
}

func TestAlertSink_NilProviderDrops(t *testing.T) {
	s := NewAlertSink(nil)
	if err := s.Publish(context.Background(), &domain.Alert{ID: "a"}); err != nil {
		t.Errorf("Publish: %v", err)
	}
}

func TestAlertSink_RealProvider(t *testing.T) {
	p := sdklog.NewLoggerProvider()
	defer func() { _ = p.Shutdown(context.Background()) }()
	if err := NewAlertSink(p).Publish(context.Background(), &domain.Alert{ID: "a", Type: domain.TypeUnknownOrigin}); err != nil {
		t.Errorf("Publish: %v", err)
	}
}

func TestAlertSink_RecordMapping(t *testing.T) {
	cap := &recordCapture{}
	s := NewAlertSinkWithLogger(cap)
	seen := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	a := &domain.Alert{
		ID:          "alert-1",
		Type:        domain.TypeUnknownOrigin,
		Severity:    domain.SeverityHigh,
		IdentityID:  "owner-1",
		Origin:      "203.0.113.9",
		Details:     "owner login from unlisted origin",
		Occurrences: 2,
		LastSeenAt:  seen,
	}
	if err := s.Publish(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if len(cap.recs) != 1 {
		t.Fatalf("emitted %d records", len(cap.recs))
	}
	rec := cap.recs[0]
	if !rec.Timestamp().Equal(seen) {
		t.Errorf("timestamp = %v", rec.Timestamp())
	}
	if rec.Severity() != otellog.SeverityError || rec.SeverityText() != "high" {
		t.Errorf("severity = %v %q", rec.Severity(), rec.SeverityText())
	}
	if rec.Body().AsString() != a.Details {
		t.Errorf("body = %q", rec.Body().AsString())
	}
	attrs := make(map[string]otellog.Value)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value
		return true
	})
	if attrs["alert.type"].AsString() != "unknown_origin" || attrs["identity_id"].AsString() != "owner-1" ||
		attrs["origin"].AsString() != "203.0.113.9" || attrs["alert.occurrences"].AsInt64() != 2 {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestSeverityMapping(t *testing.T) {
	if severity(domain.SeverityLow) >= severity(domain.SeverityMedium) ||
		severity(domain.SeverityMedium) >= severity(domain.SeverityHigh) ||
		severity(domain.SeverityHigh) >= severity(domain.SeverityCritical) {
		t.Error("severity mapping must be monotonic")
	}
}
