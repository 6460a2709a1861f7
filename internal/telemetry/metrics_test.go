package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					out[m.Name] += dp.Value
				}
			}
		}
	}
	return out
}

func TestMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	m.Login(ctx, "success", "owner")
	m.Login(ctx, "invalid_credentials", "staff")
	m.OTP(ctx, "mismatch")
	m.SessionStarted(ctx, "owner")
	m.SessionStarted(ctx, "staff")
	m.SessionEnded(ctx, "staff", "logout")
	m.Alert(ctx, "unknown_origin", "high")

	got := collect(t, reader)
	want := map[string]int64{
		"authguard.login.attempts":    2,
		"authguard.otp.verifications": 1,
		"authguard.session.events":    3,
		"authguard.session.live":      1,
		"authguard.alerts.raised":     1,
	}
	for name, v := range want {
		if got[name] != v {
			t.Errorf("%s = %d, want %d", name, got[name], v)
		}
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Login(context.Background(), "success", "owner")
	m.SessionEnded(context.Background(), "owner", "logout")
	if _, err := NewMetrics(nil); err != nil {
		t.Errorf("NewMetrics(nil): %v", err)
	}
}
