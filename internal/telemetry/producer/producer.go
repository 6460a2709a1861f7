// Package producer publishes security alerts to a message broker for downstream consumers (SIEM, paging).
package producer

import (
	"context"

	"authguard/internal/alert/domain"
)

// Producer publishes alerts. Callers use it best-effort.
type Producer interface {
	Publish(ctx context.Context, a *domain.Alert) error
	Close() error
}
