// Package session creates, validates, renews, and ends authenticated sessions under per-role policy.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"authguard/internal/audit"
	auditdomain "authguard/internal/audit/domain"
	identity "authguard/internal/identity/domain"
	"authguard/internal/platform/clock"
	"authguard/internal/platform/keylock"
	"authguard/internal/security"
	"authguard/internal/session/domain"
	"authguard/internal/session/repository"
	"authguard/internal/telemetry"
)

var (
	// ErrTooManySessions means the identity already holds its role's maximum of live sessions.
	ErrTooManySessions = errors.New("too many sessions")
	// ErrExpired is returned for a session that has expired or been revoked.
	ErrExpired = errors.New("session expired")
	// ErrInvalidToken is returned for an empty, malformed, or unknown token.
	ErrInvalidToken = errors.New("invalid session token")
)

// TokenIssuer mints bearer tokens for sessions. Verify returns the embedded session id,
// or "" when the token carries none and must be resolved by hash.
type TokenIssuer interface {
	Issue(sessionID, identityID, role string, issuedAt, expiresAt time.Time) (string, error)
	Verify(token string) (string, error)
}

// Config holds the per-role policy table and the idle warning window.
type Config struct {
	Policies      map[identity.Role]domain.Policy
	WarningWindow time.Duration
}

// DefaultPolicies: the owner gets a short session and a single concurrent login.
var DefaultPolicies = map[identity.Role]domain.Policy{
	identity.RoleOwner:    {TTL: 30 * time.Minute, IdleTimeout: 10 * time.Minute, MaxSessions: 1},
	identity.RoleAdmin:    {TTL: 8 * time.Hour, IdleTimeout: 30 * time.Minute, MaxSessions: 3},
	identity.RoleStaff:    {TTL: 8 * time.Hour, IdleTimeout: 30 * time.Minute, MaxSessions: 3},
	identity.RoleCustomer: {TTL: 24 * time.Hour, IdleTimeout: time.Hour, MaxSessions: 5},
}

// DefaultWarningWindow is how long before the deadline a session reports IdleWarning.
const DefaultWarningWindow = time.Minute

// CreateRequest describes the session to open after a successful login.
type CreateRequest struct {
	IdentityID        string
	Role              identity.Role
	Origin            string
	DeviceFingerprint string
}

// Option configures optional collaborators.
type Option func(*Manager)

// WithAuditor records session lifecycle events.
func WithAuditor(a audit.AuditLogger) Option {
	return func(m *Manager) { m.audit = a }
}

// WithMetrics counts session starts and ends.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// Manager owns session state. Create, Revoke, and Expire on one identity are serialized
// so the cap check and the insert are atomic.
type Manager struct {
	repo    repository.Repository
	tokens  TokenIssuer
	locks   *keylock.Striped
	clock   clock.Clock
	cfg     Config
	audit   audit.AuditLogger
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// NewManager returns a Manager. A nil tokens issuer falls back to opaque random tokens.
func NewManager(repo repository.Repository, tokens TokenIssuer, clk clock.Clock, cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if tokens == nil {
		tokens = security.OpaqueTokens{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	if cfg.Policies == nil {
		cfg.Policies = DefaultPolicies
	}
	if cfg.WarningWindow < 0 {
		cfg.WarningWindow = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{repo: repo, tokens: tokens, locks: keylock.New(0), clock: clk, cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the configured policy for role, or the customer policy for an unknown role.
func (m *Manager) Policy(role identity.Role) domain.Policy {
	if p, ok := m.cfg.Policies[role]; ok {
		return p
	}
	return m.cfg.Policies[identity.RoleCustomer]
}

// WarningWindow returns the configured idle warning window.
func (m *Manager) WarningWindow() time.Duration { return m.cfg.WarningWindow }

// Evaluate computes s's status at the current time.
func (m *Manager) Evaluate(s *domain.Session) domain.Evaluation {
	return s.Evaluate(m.clock.Now(), m.Policy(s.Role), m.cfg.WarningWindow)
}

// Create opens a session and returns it with its bearer token. Sessions whose deadline has
// passed are expired first so they do not count against the cap.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*domain.Session, string, error) {
	unlock := m.locks.Lock(req.IdentityID)
	defer unlock()

	now := m.clock.Now()
	policy := m.Policy(req.Role)
	live, err := m.repo.ListActiveByIdentity(ctx, req.IdentityID)
	if err != nil {
		return nil, "", err
	}
	count := 0
	for _, s := range live {
		ev := s.Evaluate(now, m.Policy(s.Role), m.cfg.WarningWindow)
		if ev.Status == domain.StatusExpired {
			if _, err := m.endLocked(ctx, s, domain.StateExpired, ev.Reason, now); err != nil {
				return nil, "", err
			}
			continue
		}
		count++
	}
	if policy.MaxSessions > 0 && count >= policy.MaxSessions {
		return nil, "", ErrTooManySessions
	}

	s := &domain.Session{
		ID:                uuid.NewString(),
		IdentityID:        req.IdentityID,
		Role:              req.Role,
		IssuedAt:          now,
		ExpiresAt:         now.Add(policy.TTL),
		LastActivityAt:    now,
		DeviceFingerprint: req.DeviceFingerprint,
		Origin:            req.Origin,
		State:             domain.StateActive,
	}
	token, err := m.tokens.Issue(s.ID, s.IdentityID, string(s.Role), s.IssuedAt, s.ExpiresAt)
	if err != nil {
		return nil, "", fmt.Errorf("issue session token: %w", err)
	}
	s.TokenHash = security.HashToken(token)
	if err := m.repo.Create(ctx, s); err != nil {
		return nil, "", err
	}
	m.metrics.SessionStarted(ctx, string(s.Role))
	if m.audit != nil {
		m.audit.LogEvent(ctx, s.IdentityID, auditdomain.ActionSessionCreated, auditdomain.ResourceSession, s.ID)
	}
	return s, token, nil
}

// Validate resolves token to its session and evaluates it. A session found past its deadline
// is expired on the spot. Terminal sessions are returned with ErrExpired.
func (m *Manager) Validate(ctx context.Context, token string) (*domain.Session, domain.Evaluation, error) {
	if token == "" {
		return nil, domain.Evaluation{}, ErrInvalidToken
	}
	sid, err := m.tokens.Verify(token)
	if err != nil {
		return nil, domain.Evaluation{}, ErrInvalidToken
	}
	var s *domain.Session
	if sid != "" {
		s, err = m.repo.GetByID(ctx, sid)
		if err != nil {
			return nil, domain.Evaluation{}, err
		}
		if s != nil && !security.TokenHashEqual(token, s.TokenHash) {
			s = nil
		}
	} else {
		s, err = m.repo.GetByTokenHash(ctx, security.HashToken(token))
		if err != nil {
			return nil, domain.Evaluation{}, err
		}
	}
	if s == nil {
		return nil, domain.Evaluation{}, ErrInvalidToken
	}
	ev := m.Evaluate(s)
	switch ev.Status {
	case domain.StatusRevoked:
		return s, ev, ErrExpired
	case domain.StatusExpired:
		if s.State == domain.StateActive {
			if _, err := m.Expire(ctx, s.ID, ev.Reason); err != nil {
				return nil, domain.Evaluation{}, err
			}
		}
		return s, ev, ErrExpired
	}
	return s, ev, nil
}

// Continue renews last activity in response to the user acknowledging an idle warning.
// The absolute expiry is unchanged.
func (m *Manager) Continue(ctx context.Context, sessionID string) (*domain.Session, error) {
	s, err := m.Touch(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	m.logger.DebugContext(ctx, "session continued", "session_id", sessionID)
	return s, nil
}

// Touch renews last activity and clears the idle warning. A session already past its
// deadline is expired and ErrExpired returned.
func (m *Manager) Touch(ctx context.Context, sessionID string) (*domain.Session, error) {
	s, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrExpired
	}
	ev := m.Evaluate(s)
	switch ev.Status {
	case domain.StatusRevoked:
		return nil, ErrExpired
	case domain.StatusExpired:
		if s.State == domain.StateActive {
			if _, err := m.Expire(ctx, s.ID, ev.Reason); err != nil {
				return nil, err
			}
		}
		return nil, ErrExpired
	}
	now := m.clock.Now()
	if err := m.repo.Touch(ctx, sessionID, now); err != nil {
		return nil, err
	}
	s.LastActivityAt = now
	s.WarnedAt = nil
	return s, nil
}

// MarkWarned records that the idle warning for the current idle period was emitted.
func (m *Manager) MarkWarned(ctx context.Context, sessionID string) error {
	return m.repo.MarkWarned(ctx, sessionID, m.clock.Now())
}

// Revoke ends the session with reason (logout, ...). Revoking an ended session is a no-op.
func (m *Manager) Revoke(ctx context.Context, sessionID, reason string) (bool, error) {
	return m.end(ctx, sessionID, domain.StateRevoked, reason)
}

// Expire ends the session as expired. Used by the activity monitor and lazy evaluation.
func (m *Manager) Expire(ctx context.Context, sessionID, reason string) (bool, error) {
	return m.end(ctx, sessionID, domain.StateExpired, reason)
}

// Evict revokes a session on behalf of adminID and records it in the audit trail.
func (m *Manager) Evict(ctx context.Context, sessionID, adminID string) (bool, error) {
	ended, err := m.end(ctx, sessionID, domain.StateRevoked, domain.ReasonEvicted)
	if err != nil || !ended {
		return ended, err
	}
	if m.audit != nil {
		m.audit.LogEvent(ctx, adminID, auditdomain.ActionSessionEvicted, auditdomain.ResourceSession, sessionID)
	}
	m.logger.InfoContext(ctx, "session evicted", "session_id", sessionID, "admin_id", adminID)
	return true, nil
}

// RevokeAll revokes every live session of identityID and returns the revoked ids.
func (m *Manager) RevokeAll(ctx context.Context, identityID, reason string) ([]string, error) {
	unlock := m.locks.Lock(identityID)
	defer unlock()

	live, err := m.repo.ListActiveByIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	ids, err := m.repo.EndAllByIdentity(ctx, identityID, domain.StateRevoked, reason, m.clock.Now())
	if err != nil {
		return nil, err
	}
	roles := make(map[string]identity.Role, len(live))
	for _, s := range live {
		roles[s.ID] = s.Role
	}
	for _, id := range ids {
		m.metrics.SessionEnded(ctx, string(roles[id]), reason)
	}
	if m.audit != nil && len(ids) > 0 {
		m.audit.LogEvent(ctx, identityID, auditdomain.ActionSessionsRevoked, auditdomain.ResourceSession, reason)
	}
	return ids, nil
}

// ListLive returns every session still in the active state.
func (m *Manager) ListLive(ctx context.Context) ([]*domain.Session, error) {
	return m.repo.ListActive(ctx)
}

// Get returns the session by id, or nil.
func (m *Manager) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	return m.repo.GetByID(ctx, sessionID)
}

func (m *Manager) end(ctx context.Context, sessionID string, state domain.State, reason string) (bool, error) {
	s, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if s == nil {
		return false, nil
	}
	unlock := m.locks.Lock(s.IdentityID)
	defer unlock()
	return m.endLocked(ctx, s, state, reason, m.clock.Now())
}

func (m *Manager) endLocked(ctx context.Context, s *domain.Session, state domain.State, reason string, now time.Time) (bool, error) {
	ended, err := m.repo.End(ctx, s.ID, state, reason, now)
	if err != nil || !ended {
		return false, err
	}
	m.metrics.SessionEnded(ctx, string(s.Role), reason)
	if m.audit != nil {
		action := auditdomain.ActionSessionRevoked
		if state == domain.StateExpired {
			action = auditdomain.ActionSessionExpired
		}
		m.audit.LogEvent(ctx, s.IdentityID, action, auditdomain.ResourceSession, s.ID+" "+reason)
	}
	return true, nil
}
