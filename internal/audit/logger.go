// Package audit records who did what to which session or alert.
package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"authguard/internal/audit/domain"
	auditrepo "authguard/internal/audit/repository"
	"authguard/internal/platform/clock"
)

type clientIPKey struct{}

// WithClientIP attaches the caller's address to ctx for audit records.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the address set by WithClientIP, or "unknown".
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return "unknown"
}

// AuditLogger writes one event. LogEvent is best-effort: failures are logged and never reach the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, identityID, action, resource, metadata string)
}

// Logger implements AuditLogger over a repository.
type Logger struct {
	repo   auditrepo.Repository
	clock  clock.Clock
	logger *slog.Logger
}

// NewLogger returns a Logger persisting to repo.
func NewLogger(repo auditrepo.Repository, clk clock.Clock, logger *slog.Logger) *Logger {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{repo: repo, clock: clk, logger: logger}
}

// LogEvent writes one audit entry.
func (l *Logger) LogEvent(ctx context.Context, identityID, action, resource, metadata string) {
	if l == nil || l.repo == nil {
		return
	}
	entry := &domain.AuditLog{
		ID:         uuid.NewString(),
		IdentityID: identityID,
		Action:     action,
		Resource:   resource,
		IP:         ClientIP(ctx),
		Metadata:   metadata,
		CreatedAt:  l.clock.Now(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.logger.ErrorContext(ctx, "audit: failed to log event", "action", action, "resource", resource, "error", err)
	}
}
