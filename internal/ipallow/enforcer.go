// Package ipallow restricts privileged logins to allow-listed origins.
package ipallow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	alertdomain "authguard/internal/alert/domain"
	identity "authguard/internal/identity/domain"
	"authguard/internal/ipallow/domain"
	"authguard/internal/ipallow/repository"
	"authguard/internal/logging"
)

// ErrUnknownOrigin rejects a privileged login from an origin outside the allow-list. It is
// distinct from a credential failure.
var ErrUnknownOrigin = errors.New("origin not allow-listed")

// AlertRaiser receives unknown_origin alerts.
type AlertRaiser interface {
	Raise(ctx context.Context, in alertdomain.Input)
}

// Enforcer checks origins for privileged roles. Non-privileged roles always pass. For a
// privileged role an empty allow-list admits nobody.
type Enforcer struct {
	repo   repository.Repository
	alerts AlertRaiser
	logger *slog.Logger
}

// NewEnforcer returns an Enforcer. alerts may be nil.
func NewEnforcer(repo repository.Repository, alerts AlertRaiser, logger *slog.Logger) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enforcer{repo: repo, alerts: alerts, logger: logger}
}

// Check returns nil when origin may log in as identityID with role, ErrUnknownOrigin when it
// may not, or a storage error.
func (e *Enforcer) Check(ctx context.Context, identityID string, role identity.Role, origin string) error {
	if !role.Privileged() {
		return nil
	}
	entries, err := e.repo.ListActiveFor(ctx, identityID)
	if err != nil {
		return err
	}
	addr, perr := domain.ParseOrigin(origin)
	if perr == nil {
		for _, en := range entries {
			if en.Prefix.Contains(addr) {
				return nil
			}
		}
	}

	details := fmt.Sprintf("%s login from origin outside allow-list (%d active entries)", role, len(entries))
	if perr != nil {
		details = fmt.Sprintf("%s login with unparseable origin", role)
	}
	e.logger.WarnContext(ctx, "privileged login from unknown origin",
		"identity_id", identityID,
		"origin", logging.Sanitize(origin),
	)
	if e.alerts != nil {
		e.alerts.Raise(ctx, alertdomain.Input{
			Type:       alertdomain.TypeUnknownOrigin,
			Severity:   alertdomain.SeverityHigh,
			IdentityID: identityID,
			Origin:     origin,
			Details:    details,
		})
	}
	return ErrUnknownOrigin
}
