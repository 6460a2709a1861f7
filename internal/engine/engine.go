// Package engine is the authentication and session API: it runs the login flow across the
// lockout guard, credential verifier, allow-list, OTP manager, and session manager, and turns
// their errors into statuses.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"authguard/internal/activity"
	"authguard/internal/alert"
	alertdomain "authguard/internal/alert/domain"
	"authguard/internal/audit"
	auditdomain "authguard/internal/audit/domain"
	"authguard/internal/credential"
	"authguard/internal/db"
	identity "authguard/internal/identity/domain"
	"authguard/internal/ipallow"
	"authguard/internal/lockout"
	attemptdomain "authguard/internal/loginattempt/domain"
	"authguard/internal/logging"
	"authguard/internal/mfa"
	mfadomain "authguard/internal/mfa/domain"
	"authguard/internal/platform/clock"
	"authguard/internal/policy"
	"authguard/internal/session"
	sessiondomain "authguard/internal/session/domain"
	"authguard/internal/telemetry"
)

// ErrUnauthenticated is returned for a missing, unknown, expired, or revoked session token.
var ErrUnauthenticated = errors.New("unauthenticated")

// IdentityStore is the identity store as the engine consumes it.
type IdentityStore interface {
	GetByID(ctx context.Context, id string) (*identity.Identity, error)
	GetByIdentifier(ctx context.Context, identifier string) (*identity.Identity, error)
	RecordLogin(ctx context.Context, id string, at time.Time, origin string) error
}

// Deps are the engine's collaborators. Alerts, Audit, Metrics, Tracer, Clock, and Logger are optional.
type Deps struct {
	Identities IdentityStore
	Verifier   *credential.Verifier
	Guard      *lockout.Guard
	OTP        *mfa.Manager
	AllowList  *ipallow.Enforcer
	Sessions   *session.Manager
	Monitor    *activity.Monitor
	// Policy decides whether a role must complete OTP. RequireOTP supplies the configured
	// per-role default passed to it.
	Policy     policy.Evaluator
	RequireOTP func(identity.Role) bool
	Alerts     *alert.Emitter
	Audit      audit.AuditLogger
	Metrics    *telemetry.Metrics
	Tracer     trace.Tracer
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Engine implements Login, VerifyOTP, ResendOTP, Heartbeat, ContinueSession, Activity, Logout, and WhoAmI.
type Engine struct {
	Deps
}

// New returns an Engine over d.
func New(d Deps) *Engine {
	if d.Policy == nil {
		d.Policy = policy.Static{}
	}
	if d.RequireOTP == nil {
		d.RequireOTP = func(r identity.Role) bool { return r.Privileged() }
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer("authguard/engine")
	}
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	e := &Engine{Deps: d}
	if e.Monitor == nil {
		e.Monitor = activity.NewMonitor(d.Sessions, e, d.Clock, d.Logger)
	}
	return e
}

// Login verifies the first factor. The whole pipeline runs under the identifier's lockout lock,
// so the lock check, verification, and failure count are linearizable per identifier.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	ctx, span := e.Tracer.Start(ctx, "engine.Login", trace.WithAttributes(attribute.String("role", string(req.Role))))
	defer span.End()
	ctx = audit.WithClientIP(ctx, req.Origin)
	identifier := identity.NormalizeIdentifier(req.Identifier)

	var res LoginResult
	var ident *identity.Identity
	outcome, guardRes, err := e.Guard.Attempt(ctx, identifier, req.Origin, req.DeviceFingerprint,
		func(ctx context.Context) (lockout.Outcome, error) {
			match, err := e.Verifier.Verify(ctx, identifier, req.Secret, req.Role)
			if err != nil {
				return lockout.Outcome{}, err
			}
			if !match.Matched {
				res.Status = StatusInvalidCredentials
				return lockout.Outcome{Reason: attemptdomain.ReasonInvalidCredentials}, nil
			}
			ident = match.Identity
			return e.afterFirstFactor(ctx, ident, req, &res)
		})
	switch {
	case errors.Is(err, lockout.ErrLocked):
		res = LoginResult{Status: StatusLocked, LockedUntil: guardRes.LockedUntil}
		e.raiseForIdentifier(ctx, identifier, alertdomain.Input{
			Type: alertdomain.TypeSuspiciousLogin, Severity: alertdomain.SeverityHigh, Origin: req.Origin,
			Details: "login attempted while locked",
		})
	case err != nil:
		return e.loginFailed(ctx, span, req, err)
	default:
		res.Remaining = guardRes.Remaining
		if guardRes.LockEngaged {
			res.LockedUntil = guardRes.LockedUntil
			e.raiseForIdentifier(ctx, identifier, alertdomain.Input{
				Type: alertdomain.TypeRepeatedFailures, Severity: alertdomain.SeverityMedium, IdentityID: outcome.IdentityID,
				Origin: req.Origin, Details: fmt.Sprintf("lock engaged until %s", guardRes.LockedUntil.Format(time.RFC3339)),
			})
		}
	}
	if res.Status == StatusSuccess && ident != nil {
		e.loginSucceeded(ctx, ident, req.Origin, res.SessionID)
	}

	span.SetAttributes(attribute.String("status", res.Status.String()))
	e.Metrics.Login(ctx, res.Status.String(), string(req.Role))
	e.Logger.InfoContext(ctx, "login",
		"identifier", logging.Sanitize(identifier),
		"origin", logging.Sanitize(req.Origin),
		"status", res.Status.String(),
	)
	return res, nil
}

// afterFirstFactor runs the allow-list, the OTP decision, and session creation for a matched
// identity. Runs under the lockout lock.
func (e *Engine) afterFirstFactor(ctx context.Context, ident *identity.Identity, req LoginRequest, res *LoginResult) (lockout.Outcome, error) {
	if err := e.AllowList.Check(ctx, ident.ID, ident.Role, req.Origin); err != nil {
		if errors.Is(err, ipallow.ErrUnknownOrigin) {
			res.Status = StatusUnknownOrigin
			return lockout.Outcome{Reason: attemptdomain.ReasonUnknownOrigin, IdentityID: ident.ID}, nil
		}
		return lockout.Outcome{}, err
	}

	requireOTP, perr := e.Policy.RequireOTP(ctx, policy.Input{
		IdentityID:        ident.ID,
		Role:              string(ident.Role),
		RoleRequiresOTP:   e.RequireOTP(ident.Role),
		HasPhone:          ident.Phone != "",
		HasEmail:          ident.Email != "",
		Origin:            req.Origin,
		DeviceFingerprint: req.DeviceFingerprint,
	})
	if perr != nil {
		e.Logger.WarnContext(ctx, "otp policy evaluation failed", "identity_id", ident.ID, "error", perr)
	}
	if requireOTP {
		ch, err := e.OTP.Issue(ctx, mfa.IssueRequest{
			IdentityID:        ident.ID,
			Channel:           channelFor(ident),
			Origin:            req.Origin,
			DeviceFingerprint: req.DeviceFingerprint,
		})
		// A live challenge inside its resend cooldown is handed back as is.
		if err != nil && !(errors.Is(err, mfa.ErrRateLimited) && ch != nil) {
			return lockout.Outcome{}, err
		}
		*res = LoginResult{Status: StatusRequireOTP, ChallengeID: ch.ID, ExpiresAt: ch.ExpiresAt}
		return lockout.Outcome{Pending: true, IdentityID: ident.ID}, nil
	}

	return e.openSession(ctx, ident, req.Origin, req.DeviceFingerprint, func(s *sessiondomain.Session, token string) {
		*res = LoginResult{Status: StatusSuccess, SessionToken: token, SessionID: s.ID, ExpiresAt: s.ExpiresAt}
	}, func() {
		res.Status = StatusTooManySessions
	})
}

// openSession creates the session for a fully authenticated identity.
func (e *Engine) openSession(ctx context.Context, ident *identity.Identity, origin, fingerprint string,
	onCreated func(*sessiondomain.Session, string), onCap func()) (lockout.Outcome, error) {
	s, token, err := e.Sessions.Create(ctx, session.CreateRequest{
		IdentityID:        ident.ID,
		Role:              ident.Role,
		Origin:            origin,
		DeviceFingerprint: fingerprint,
	})
	if errors.Is(err, session.ErrTooManySessions) {
		onCap()
		e.raise(ctx, alertdomain.Input{
			Type: alertdomain.TypeSessionAnomaly, Severity: alertdomain.SeverityLow, IdentityID: ident.ID,
			Origin: origin, Details: "session cap reached",
		})
		// Correct credentials: logged, not counted toward the lock.
		return lockout.Outcome{Pending: true, Reason: attemptdomain.ReasonTooManySessions, IdentityID: ident.ID}, nil
	}
	if err != nil {
		return lockout.Outcome{}, err
	}
	onCreated(s, token)
	return lockout.Outcome{Success: true, IdentityID: ident.ID}, nil
}

// VerifyOTP checks the second factor and opens the session on success. Attempts count toward
// the identity's lockout like first-factor failures.
func (e *Engine) VerifyOTP(ctx context.Context, challengeID, code string) (OTPResult, error) {
	ctx, span := e.Tracer.Start(ctx, "engine.VerifyOTP")
	defer span.End()

	res, err := e.verifyOTP(ctx, challengeID, code)
	if err != nil {
		if IsStorageTimeout(err) {
			res = OTPResult{Status: StatusStorageTimeout}
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return OTPResult{}, err
		}
	}
	span.SetAttributes(attribute.String("status", res.Status.String()))
	e.Metrics.OTP(ctx, res.Status.String())
	e.Logger.InfoContext(ctx, "otp verify", "challenge_id", logging.Sanitize(challengeID), "status", res.Status.String())
	return res, nil
}

func (e *Engine) verifyOTP(ctx context.Context, challengeID, code string) (OTPResult, error) {
	ch, err := e.OTP.Get(ctx, challengeID)
	if err != nil {
		return OTPResult{}, err
	}
	if ch == nil {
		return OTPResult{Status: StatusExpired}, nil
	}
	ident, err := e.Identities.GetByID(ctx, ch.IdentityID)
	if err != nil {
		return OTPResult{}, err
	}
	if ident == nil || !ident.Active() {
		return OTPResult{Status: StatusExpired}, nil
	}
	ctx = audit.WithClientIP(ctx, ch.Origin)

	var res OTPResult
	_, guardRes, err := e.Guard.Attempt(ctx, ident.Identifier, ch.Origin, ch.DeviceFingerprint,
		func(ctx context.Context) (lockout.Outcome, error) {
			c, err := e.OTP.Verify(ctx, challengeID, code)
			switch {
			case errors.Is(err, mfa.ErrMismatch):
				res = OTPResult{Status: StatusMismatch, ChallengeID: challengeID, AttemptsLeft: c.MaxAttempts - c.AttemptsUsed}
				return lockout.Outcome{Reason: attemptdomain.ReasonOTPMismatch, IdentityID: ident.ID}, nil
			case errors.Is(err, mfa.ErrExhausted):
				res = OTPResult{Status: StatusExhausted, ChallengeID: challengeID}
				e.raise(ctx, alertdomain.Input{
					Type: alertdomain.TypeRepeatedFailures, Severity: alertdomain.SeverityMedium, IdentityID: ident.ID,
					Origin: ch.Origin, Details: "otp attempts exhausted",
				})
				return lockout.Outcome{Reason: attemptdomain.ReasonOTPExhausted, IdentityID: ident.ID}, nil
			case errors.Is(err, mfa.ErrExpired):
				res = OTPResult{Status: StatusExpired, ChallengeID: challengeID}
				return lockout.Outcome{Pending: true, Reason: attemptdomain.ReasonOTPExpired, IdentityID: ident.ID}, nil
			case err != nil:
				return lockout.Outcome{}, err
			}
			return e.openSession(ctx, ident, ch.Origin, ch.DeviceFingerprint, func(s *sessiondomain.Session, token string) {
				res = OTPResult{Status: StatusSuccess, SessionToken: token, SessionID: s.ID, ExpiresAt: s.ExpiresAt}
			}, func() {
				res = OTPResult{Status: StatusTooManySessions}
			})
		})
	switch {
	case errors.Is(err, lockout.ErrLocked):
		e.raise(ctx, alertdomain.Input{
			Type: alertdomain.TypeSuspiciousLogin, Severity: alertdomain.SeverityHigh, IdentityID: ident.ID,
			Origin: ch.Origin, Details: "otp verification attempted while locked",
		})
		return OTPResult{Status: StatusLocked, LockedUntil: guardRes.LockedUntil}, nil
	case err != nil:
		return OTPResult{}, err
	}
	if guardRes.LockEngaged {
		res.LockedUntil = guardRes.LockedUntil
		e.raise(ctx, alertdomain.Input{
			Type: alertdomain.TypeRepeatedFailures, Severity: alertdomain.SeverityMedium, IdentityID: ident.ID,
			Origin: ch.Origin, Details: "lock engaged by otp failures",
		})
	}
	if res.Status == StatusSuccess {
		e.loginSucceeded(ctx, ident, ch.Origin, res.SessionID)
	}
	return res, nil
}

// ResendOTP replaces the challenge with a fresh code in the same lineage.
func (e *Engine) ResendOTP(ctx context.Context, challengeID string) (OTPResult, error) {
	c, err := e.OTP.Resend(ctx, challengeID)
	switch {
	case errors.Is(err, mfa.ErrRateLimited):
		if c == nil {
			return OTPResult{Status: StatusRateLimited, ChallengeID: challengeID}, nil
		}
		return OTPResult{Status: StatusRateLimited, ChallengeID: c.ID, ExpiresAt: c.ExpiresAt}, nil
	case errors.Is(err, mfa.ErrExpired), errors.Is(err, mfa.ErrUnknownIdentity):
		return OTPResult{Status: StatusExpired}, nil
	case IsStorageTimeout(err):
		return OTPResult{Status: StatusStorageTimeout}, nil
	case err != nil:
		return OTPResult{}, err
	}
	return OTPResult{Status: StatusSuccess, ChallengeID: c.ID, ExpiresAt: c.ExpiresAt}, nil
}

// Heartbeat reports the session's status. It is not activity: polling never keeps a session alive.
func (e *Engine) Heartbeat(ctx context.Context, token string) (HeartbeatResult, error) {
	s, ev, err := e.Sessions.Validate(ctx, token)
	switch {
	case errors.Is(err, session.ErrInvalidToken), errors.Is(err, session.ErrExpired):
		return HeartbeatResult{Status: StatusExpired}, nil
	case IsStorageTimeout(err):
		return HeartbeatResult{Status: StatusStorageTimeout}, nil
	case err != nil:
		return HeartbeatResult{}, err
	}
	res := HeartbeatResult{Status: StatusActive, ExpiresAt: s.ExpiresAt, SecondsRemaining: ev.SecondsRemaining()}
	if ev.Status == sessiondomain.StatusIdleWarning {
		res.Status = StatusIdleWarning
	}
	return res, nil
}

// ContinueSession acknowledges an idle warning and renews last activity.
func (e *Engine) ContinueSession(ctx context.Context, token string) (Status, error) {
	s, _, err := e.Sessions.Validate(ctx, token)
	if err == nil {
		_, err = e.Sessions.Continue(ctx, s.ID)
	}
	switch {
	case err == nil:
		return StatusSuccess, nil
	case errors.Is(err, session.ErrInvalidToken), errors.Is(err, session.ErrExpired):
		return StatusExpired, nil
	case IsStorageTimeout(err):
		return StatusStorageTimeout, nil
	}
	return StatusExpired, err
}

// Activity records collaborator activity (any authenticated request) on the session.
func (e *Engine) Activity(ctx context.Context, token string) error {
	s, _, err := e.Sessions.Validate(ctx, token)
	if err != nil {
		return e.authError(err)
	}
	return e.authError(e.Monitor.OnActivity(ctx, s.ID))
}

// Logout revokes the session. An unknown or already ended session is not an error.
func (e *Engine) Logout(ctx context.Context, token string) (Status, error) {
	s, _, err := e.Sessions.Validate(ctx, token)
	switch {
	case errors.Is(err, session.ErrInvalidToken), errors.Is(err, session.ErrExpired):
		return StatusSuccess, nil
	case IsStorageTimeout(err):
		return StatusStorageTimeout, nil
	case err != nil:
		return StatusSuccess, err
	}
	if _, err := e.Sessions.Revoke(ctx, s.ID, sessiondomain.ReasonLogout); err != nil {
		if IsStorageTimeout(err) {
			return StatusStorageTimeout, nil
		}
		return StatusSuccess, err
	}
	e.Logger.InfoContext(ctx, "logout", "session_id", s.ID, "identity_id", s.IdentityID)
	return StatusSuccess, nil
}

// WhoAmI resolves token to its identity. Expired and revoked sessions are unauthenticated.
func (e *Engine) WhoAmI(ctx context.Context, token string) (WhoAmIResult, error) {
	s, _, err := e.Sessions.Validate(ctx, token)
	if err != nil {
		return WhoAmIResult{}, e.authError(err)
	}
	ident, err := e.Identities.GetByID(ctx, s.IdentityID)
	if err != nil {
		return WhoAmIResult{}, err
	}
	if ident == nil {
		return WhoAmIResult{}, ErrUnauthenticated
	}
	return WhoAmIResult{Identity: ident, Role: s.Role, SessionID: s.ID, SessionExpiresAt: s.ExpiresAt}, nil
}

// Authenticate returns the live session behind token, for transports that need the caller.
func (e *Engine) Authenticate(ctx context.Context, token string) (*sessiondomain.Session, error) {
	s, _, err := e.Sessions.Validate(ctx, token)
	if err != nil {
		return nil, e.authError(err)
	}
	return s, nil
}

func (e *Engine) loginFailed(ctx context.Context, span trace.Span, req LoginRequest, err error) (LoginResult, error) {
	if IsStorageTimeout(err) {
		e.Logger.WarnContext(ctx, "login storage timeout", "origin", logging.Sanitize(req.Origin), "error", err)
		e.Metrics.Login(ctx, StatusStorageTimeout.String(), string(req.Role))
		span.SetAttributes(attribute.String("status", StatusStorageTimeout.String()))
		return LoginResult{Status: StatusStorageTimeout}, nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return LoginResult{}, err
}

func (e *Engine) loginSucceeded(ctx context.Context, ident *identity.Identity, origin, sessionID string) {
	if err := e.Identities.RecordLogin(ctx, ident.ID, e.Clock.Now(), origin); err != nil {
		e.Logger.WarnContext(ctx, "record login metadata failed", "identity_id", ident.ID, "error", err)
	}
	if e.Audit != nil {
		e.Audit.LogEvent(ctx, ident.ID, auditdomain.ActionLoginSucceeded, auditdomain.ResourceIdentity, sessionID)
	}
}

func (e *Engine) raise(ctx context.Context, in alertdomain.Input) {
	if e.Alerts == nil {
		return
	}
	e.Alerts.Raise(ctx, in)
}

// raiseForIdentifier resolves the identifier to an identity id when possible so alerts for the
// same account are grouped.
func (e *Engine) raiseForIdentifier(ctx context.Context, identifier string, in alertdomain.Input) {
	if in.IdentityID == "" {
		if ident, err := e.Identities.GetByIdentifier(ctx, identifier); err == nil && ident != nil {
			in.IdentityID = ident.ID
		}
	}
	if in.IdentityID == "" {
		in.Details = fmt.Sprintf("%s (identifier %q)", in.Details, logging.Sanitize(identifier))
	}
	e.raise(ctx, in)
}

func (e *Engine) authError(err error) error {
	if errors.Is(err, session.ErrInvalidToken) || errors.Is(err, session.ErrExpired) {
		return ErrUnauthenticated
	}
	return err
}

func channelFor(ident *identity.Identity) mfadomain.Channel {
	if ident.Phone == "" && ident.Email != "" {
		return mfadomain.ChannelEmail
	}
	return mfadomain.ChannelSMS
}

// IsStorageTimeout reports whether err means the backing store did not answer in time.
func IsStorageTimeout(err error) bool {
	return errors.Is(err, db.ErrStorageTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// HandleSessionEvent logs activity monitor events. The session manager audits the expiry itself.
func (e *Engine) HandleSessionEvent(ctx context.Context, ev activity.Event) {
	switch ev.Kind {
	case activity.EventIdleWarning:
		e.Logger.InfoContext(ctx, "session idle warning", "session_id", ev.SessionID, "seconds_remaining", ev.SecondsRemaining)
	case activity.EventForcedLogout:
		e.Logger.InfoContext(ctx, "session forced logout", "session_id", ev.SessionID, "reason", ev.Reason)
	}
}
