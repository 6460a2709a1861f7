// Package httpapi exposes the authentication engine over JSON/HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"authguard/internal/engine"
)

// Engine is the subset of *engine.Engine the HTTP adapter drives.
type Engine interface {
	Login(ctx context.Context, req engine.LoginRequest) (engine.LoginResult, error)
	VerifyOTP(ctx context.Context, challengeID, code string) (engine.OTPResult, error)
	ResendOTP(ctx context.Context, challengeID string) (engine.OTPResult, error)
	Heartbeat(ctx context.Context, token string) (engine.HeartbeatResult, error)
	ContinueSession(ctx context.Context, token string) (engine.Status, error)
	Activity(ctx context.Context, token string) error
	Logout(ctx context.Context, token string) (engine.Status, error)
	WhoAmI(ctx context.Context, token string) (engine.WhoAmIResult, error)
}

// DevOTPSource returns the last code sent for a challenge. Wired only outside production.
type DevOTPSource interface {
	Get(ctx context.Context, challengeID string) (string, bool)
}

// ReadinessChecker reports whether dependencies are reachable (see health.Checker).
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// Options configures the router.
type Options struct {
	// TrustForwardedFor takes the client origin from X-Forwarded-For. Enable only behind a trusted proxy.
	TrustForwardedFor bool
	// Limiter throttles login and OTP endpoints per client IP. Nil disables throttling.
	Limiter *IPRateLimiter
	// DevOTP, when set, serves GET /dev/otp/{challengeID}.
	DevOTP DevOTPSource
	// Ready backs GET /readyz. Nil reports ready.
	Ready  ReadinessChecker
	Logger *slog.Logger
}

// Handler is the HTTP adapter entrypoint for engine operations.
type Handler struct {
	engine Engine
	devOTP DevOTPSource
	ready  ReadinessChecker
	logger *slog.Logger
}

// NewHandler constructs an HTTP handler bound to eng.
func NewHandler(eng Engine, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: eng, devOTP: opts.DevOTP, ready: opts.Ready, logger: logger}
}

// NewRouter registers routes and the middleware stack.
func NewRouter(h *Handler, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(h.logger))
	r.Use(clientIPMiddleware(opts.TrustForwardedFor))
	r.Use(loggingMiddleware(h.logger))

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	if h.devOTP != nil {
		r.Get("/dev/otp/{challengeID}", h.devOTPCode)
	}

	r.Route("/auth/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(rateLimitMiddleware(opts.Limiter))
			r.Post("/login", h.login)
			r.Post("/otp/verify", h.verifyOTP)
			r.Post("/otp/resend", h.resendOTP)
		})

		r.Group(func(r chi.Router) {
			r.Use(bearerMiddleware)
			r.Get("/session/heartbeat", h.heartbeat)
			r.Post("/session/continue", h.continueSession)
			r.Post("/session/activity", h.activity)
			r.Post("/logout", h.logout)
			r.Get("/whoami", h.whoami)
		})
	})

	return r
}
