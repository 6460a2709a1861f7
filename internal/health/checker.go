// Package health reports readiness from the database and the login policy evaluator.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger checks database connectivity (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks that the login policy evaluator is usable (e.g. *policy.OPAEvaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Checker aggregates readiness probes. Nil probes are skipped.
type Checker struct {
	DB     Pinger
	Policy PolicyChecker
	// Timeout bounds each probe. Zero means 2s.
	Timeout time.Duration
}

// Check returns the first failing probe.
func (c Checker) Check(ctx context.Context) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if c.DB != nil {
		pctx, cancel := context.WithTimeout(ctx, timeout)
		err := c.DB.PingContext(pctx)
		cancel()
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if c.Policy != nil {
		pctx, cancel := context.WithTimeout(ctx, timeout)
		err := c.Policy.HealthCheck(pctx)
		cancel()
		if err != nil {
			return fmt.Errorf("policy: %w", err)
		}
	}
	return nil
}

// Status maps Check to a gRPC serving status.
func (c Checker) Status(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	if c.Check(ctx) != nil {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// Watch re-evaluates readiness every interval and publishes it on srv for the overall service ("")
// and for service. It returns when ctx is done.
func (c Checker) Watch(ctx context.Context, srv *health.Server, service string, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	last := healthpb.HealthCheckResponse_UNKNOWN
	update := func() {
		st := c.Status(ctx)
		if st != last {
			logger.InfoContext(ctx, "readiness changed", "status", st.String())
			last = st
		}
		srv.SetServingStatus("", st)
		if service != "" {
			srv.SetServingStatus(service, st)
		}
	}
	update()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			srv.Shutdown()
			return
		case <-ticker.C:
			update()
		}
	}
}
