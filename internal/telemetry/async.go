// Package telemetry holds the process-wide observability plumbing: background dispatch of
// best-effort sends and the engine's OpenTelemetry instruments.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// emitTimeout bounds a single background send.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long shutdown waits for in-flight sends before closing
// exporters. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// Dispatcher runs fire-and-forget sends off the request path. Each send gets its own
// context with emitTimeout so request cancellation does not abort it.
type Dispatcher struct {
	wg      sync.WaitGroup
	logger  *slog.Logger
	timeout time.Duration
}

// NewDispatcher returns a Dispatcher that logs failed sends to logger.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger, timeout: emitTimeout}
}

// Go runs fn in a goroutine. A nil Dispatcher runs nothing.
func (d *Dispatcher) Go(name string, fn func(ctx context.Context) error) {
	if d == nil || fn == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			d.logger.Warn("telemetry: async send failed", "sink", name, "error", err)
		}
	}()
}

// Drain blocks until every started send finished or ctx is done.
func (d *Dispatcher) Drain(ctx context.Context) error {
	if d == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
