package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"authguard/internal/alert"
	alertrepo "authguard/internal/alert/repository"
	"authguard/internal/audit"
	auditrepo "authguard/internal/audit/repository"
	"authguard/internal/config"
	"authguard/internal/credential"
	"authguard/internal/db"
	"authguard/internal/devotp"
	"authguard/internal/engine"
	identityrepo "authguard/internal/identity/repository"
	"authguard/internal/ipallow"
	iprepo "authguard/internal/ipallow/repository"
	"authguard/internal/lockout"
	attemptrepo "authguard/internal/loginattempt/repository"
	"authguard/internal/mfa"
	mfarepo "authguard/internal/mfa/repository"
	"authguard/internal/mfa/sms"
	"authguard/internal/platform/clock"
	"authguard/internal/policy"
	"authguard/internal/security"
	"authguard/internal/session"
	sessionrepo "authguard/internal/session/repository"
	"authguard/internal/telemetry"
	telemetryotel "authguard/internal/telemetry/otel"
	"authguard/internal/telemetry/producer"
)

const serviceName = "authguard"

// repos groups the storage backends; either all Postgres or all in-memory.
type repos struct {
	identities identityrepo.Repository
	attempts   attemptrepo.Repository
	otp        mfarepo.Repository
	sessions   sessionrepo.Repository
	allow      iprepo.Repository
	alerts     alertrepo.Repository
	audit      auditrepo.Repository
}

func newRepos(conn *sql.DB, timeout time.Duration) repos {
	if conn == nil {
		return repos{
			identities: identityrepo.NewMemoryRepository(),
			attempts:   attemptrepo.NewMemoryRepository(),
			otp:        mfarepo.NewMemoryRepository(),
			sessions:   sessionrepo.NewMemoryRepository(),
			allow:      iprepo.NewMemoryRepository(),
			alerts:     alertrepo.NewMemoryRepository(),
			audit:      auditrepo.NewMemoryRepository(),
		}
	}
	return repos{
		identities: identityrepo.NewPostgresRepository(conn, timeout),
		attempts:   attemptrepo.NewPostgresRepository(conn, timeout),
		otp:        mfarepo.NewPostgresRepository(conn, timeout),
		sessions:   sessionrepo.NewPostgresRepository(conn, timeout),
		allow:      iprepo.NewPostgresRepository(conn, timeout),
		alerts:     alertrepo.NewPostgresRepository(conn, timeout),
		audit:      auditrepo.NewPostgresRepository(conn, timeout),
	}
}

// app is the assembled process. closers run in reverse order on shutdown.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	conn       *sql.DB
	engine     *engine.Engine
	evaluator  *policy.OPAEvaluator
	devOTP     *devotp.MemoryStore
	dispatcher *telemetry.Dispatcher
	providers  *telemetryotel.Providers
	closers    []func(context.Context) error
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown step failed", "error", err)
		}
	}
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	clk := clock.System{}

	if cfg.DatabaseURL != "" {
		conn, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		a.conn = conn
		a.closers = append(a.closers, func(context.Context) error { return conn.Close() })
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory stores")
	}
	r := newRepos(a.conn, cfg.StorageTimeout)

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure == "true", logger)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	a.providers = providers
	a.closers = append(a.closers, providers.Shutdown)
	metrics, err := telemetry.NewMetrics(providers.MeterProvider.Meter(serviceName))
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("metrics: %w", err)
	}

	a.dispatcher = telemetry.NewDispatcher(logger)
	sinks := []alert.NamedSink{{Name: "otel", Sink: telemetryotel.NewAlertSink(providers.LoggerProvider)}}
	if brokers := cfg.AlertKafkaBrokersList(); len(brokers) > 0 {
		kp := producer.NewKafkaProducer(brokers, cfg.AlertKafkaTopic)
		sinks = append(sinks, alert.NamedSink{Name: "kafka", Sink: kp})
		a.closers = append(a.closers, func(context.Context) error { return kp.Close() })
	}
	// Drain runs before the producer and providers close.
	a.closers = append(a.closers, a.dispatcher.Drain)
	alerts := alert.NewEmitter(r.alerts, clk, cfg.AlertDedupWindow, logger,
		alert.WithSinks(sinks...), alert.WithDispatcher(a.dispatcher), alert.WithMetrics(metrics))
	auditor := audit.NewLogger(r.audit, clk, logger)

	store, err := lockoutStore(ctx, cfg, a)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	guard := lockout.NewGuard(store, r.attempts, clk, lockout.Config{
		MaxFailedAttempts: cfg.MaxFailedAttempts,
		Window:            cfg.LockoutWindow,
		Duration:          cfg.LockoutDuration,
	}, logger)

	otp := mfa.NewManager(r.otp, r.identities, a.notifier(clk), clk, mfa.Config{
		Length:         cfg.OTPLength,
		Expiry:         cfg.OTPExpiry,
		MaxAttempts:    cfg.OTPMaxAttempts,
		ResendCooldown: cfg.OTPResendCooldown,
		MaxResend:      cfg.OTPMaxResend,
	}, logger)

	tokens, err := tokenIssuer(cfg)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	sessions := session.NewManager(r.sessions, tokens, clk,
		session.Config{Policies: cfg.RolePolicies(), WarningWindow: cfg.SessionWarningWindow}, logger,
		session.WithAuditor(auditor), session.WithMetrics(metrics))

	evaluator, err := loadPolicy(cfg, logger)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.evaluator = evaluator

	a.engine = engine.New(engine.Deps{
		Identities: r.identities,
		Verifier:   credential.NewVerifier(r.identities, security.NewHasher(cfg.BcryptCost)),
		Guard:      guard,
		OTP:        otp,
		AllowList:  ipallow.NewEnforcer(r.allow, alerts, logger),
		Sessions:   sessions,
		Policy:     evaluator,
		RequireOTP: cfg.RequireOTP,
		Alerts:     alerts,
		Audit:      auditor,
		Metrics:    metrics,
		Tracer:     providers.TracerProvider.Tracer(serviceName),
		Clock:      clk,
		Logger:     logger,
	})
	return a, nil
}

func (a *app) notifier(clk clock.Clock) mfa.Notifier {
	if a.cfg.OTPReturnToClient {
		a.logger.Warn("dev OTP mode: codes are not sent and are readable at /dev/otp/{challengeID}")
		a.devOTP = devotp.NewMemoryStore(clk)
		return devotp.Notifier{Store: a.devOTP}
	}
	client := sms.NewClient(a.cfg.SMSLocalAPIKey, a.cfg.SMSLocalBaseURL, a.cfg.SMSLocalSender)
	return sms.Notifier{Client: client}
}

func lockoutStore(ctx context.Context, cfg *config.Config, a *app) (lockout.Store, error) {
	if cfg.RedisURL == "" {
		return lockout.NewMemoryStore(), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	client := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, cfg.StorageTimeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	return lockout.NewRedisStore(client), nil
}

func tokenIssuer(cfg *config.Config) (session.TokenIssuer, error) {
	if cfg.JWTPrivateKey == "" {
		return nil, nil
	}
	priv, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		return nil, fmt.Errorf("jwt keys: %w", err)
	}
	return security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, time.Now), nil
}

func loadPolicy(cfg *config.Config, logger *slog.Logger) (*policy.OPAEvaluator, error) {
	module := policy.DefaultRegoPolicy
	if cfg.OTPPolicyFile != "" {
		b, err := os.ReadFile(cfg.OTPPolicyFile)
		if err != nil {
			return nil, fmt.Errorf("read OTP_POLICY_FILE: %w", err)
		}
		module = string(b)
	}
	ev, err := policy.NewOPAEvaluator([]string{module}, logger)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	return ev, nil
}
