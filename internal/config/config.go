// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	identity "authguard/internal/identity/domain"
	session "authguard/internal/session/domain"
)

// RoleConfig is the per-role session and second-factor configuration.
type RoleConfig struct {
	SessionTTL  time.Duration
	IdleTimeout time.Duration
	MaxSessions int
	RequireOTP  bool
}

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the JSON API listens on (e.g. :8081).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the gRPC health server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty runs on in-memory stores.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL enables the shared lockout store (e.g. redis://localhost:6379/0).
	RedisURL string `mapstructure:"REDIS_URL"`
	// StorageTimeout bounds every repository call.
	StorageTimeout time.Duration `mapstructure:"STORAGE_TIMEOUT"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file. Empty issues opaque tokens.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`

	MaxFailedAttempts int           `mapstructure:"MAX_FAILED_ATTEMPTS"`
	LockoutWindow     time.Duration `mapstructure:"LOCKOUT_WINDOW"`
	LockoutDuration   time.Duration `mapstructure:"LOCKOUT_DURATION"`

	OTPLength         int           `mapstructure:"OTP_LENGTH"`
	OTPExpiry         time.Duration `mapstructure:"OTP_EXPIRY"`
	OTPMaxAttempts    int           `mapstructure:"OTP_MAX_ATTEMPTS"`
	OTPResendCooldown time.Duration `mapstructure:"OTP_RESEND_COOLDOWN"`
	OTPMaxResend      int           `mapstructure:"OTP_MAX_RESEND"`
	// OTPPolicyFile is an optional Rego module replacing the default second-factor policy.
	OTPPolicyFile string `mapstructure:"OTP_POLICY_FILE"`

	SessionWarningWindow time.Duration `mapstructure:"SESSION_WARNING_WINDOW"`
	MonitorInterval      time.Duration `mapstructure:"MONITOR_INTERVAL"`
	// AlertDedupWindow merges identical unresolved alerts raised within it; 0 disables merging.
	AlertDedupWindow time.Duration `mapstructure:"ALERT_DEDUP_WINDOW"`

	// SMSLocalAPIKey is the API key for SMS Local. Required unless OTP_RETURN_TO_CLIENT is set.
	SMSLocalAPIKey  string `mapstructure:"SMS_LOCAL_API_KEY"`
	SMSLocalSender  string `mapstructure:"SMS_LOCAL_SENDER"`
	SMSLocalBaseURL string `mapstructure:"SMS_LOCAL_BASE_URL"`
	// OTPReturnToClient when true enables dev OTP mode: no SMS, codes readable at GET /dev/otp/{id}.
	// Must not be true when Env is production.
	OTPReturnToClient bool   `mapstructure:"OTP_RETURN_TO_CLIENT"`
	Env               string `mapstructure:"APP_ENV"`

	// OTLPEndpoint enables trace, metric, and log export (e.g. localhost:4317 or http://collector:4317).
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure overrides the scheme-derived transport security when set to "true" or "false".
	OTLPInsecure string `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// AlertKafkaBrokers is a comma-separated broker list; empty disables the alert topic.
	AlertKafkaBrokers string `mapstructure:"ALERT_KAFKA_BROKERS"`
	AlertKafkaTopic   string `mapstructure:"ALERT_KAFKA_TOPIC"`

	// LoginRateLimit is the sustained login requests per second allowed per client IP.
	LoginRateLimit float64 `mapstructure:"LOGIN_RATE_LIMIT"`
	LoginRateBurst int     `mapstructure:"LOGIN_RATE_BURST"`
	// TrustForwardedFor takes the login origin from X-Forwarded-For. Set only behind a trusted proxy.
	TrustForwardedFor bool `mapstructure:"TRUST_FORWARDED_FOR"`

	LogLevel string `mapstructure:"LOG_LEVEL"`

	// Roles is built from <ROLE>_SESSION_TTL, <ROLE>_IDLE_TIMEOUT, <ROLE>_MAX_SESSIONS, <ROLE>_REQUIRE_OTP.
	Roles map[identity.Role]RoleConfig `mapstructure:"-"`
}

var roleDefaults = map[identity.Role]RoleConfig{
	identity.RoleOwner:    {SessionTTL: 30 * time.Minute, IdleTimeout: 10 * time.Minute, MaxSessions: 1, RequireOTP: true},
	identity.RoleAdmin:    {SessionTTL: 8 * time.Hour, IdleTimeout: 30 * time.Minute, MaxSessions: 3, RequireOTP: true},
	identity.RoleStaff:    {SessionTTL: 8 * time.Hour, IdleTimeout: 30 * time.Minute, MaxSessions: 3},
	identity.RoleCustomer: {SessionTTL: 24 * time.Hour, IdleTimeout: time.Hour, MaxSessions: 5},
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8081")
	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("STORAGE_TIMEOUT", "3s")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "authguard")
	v.SetDefault("JWT_AUDIENCE", "authguard-api")
	v.SetDefault("MAX_FAILED_ATTEMPTS", 5)
	v.SetDefault("LOCKOUT_WINDOW", "15m")
	v.SetDefault("LOCKOUT_DURATION", "15m")
	v.SetDefault("OTP_LENGTH", 6)
	v.SetDefault("OTP_EXPIRY", "5m")
	v.SetDefault("OTP_MAX_ATTEMPTS", 3)
	v.SetDefault("OTP_RESEND_COOLDOWN", "60s")
	v.SetDefault("OTP_MAX_RESEND", 3)
	v.SetDefault("OTP_POLICY_FILE", "")
	v.SetDefault("SESSION_WARNING_WINDOW", "60s")
	v.SetDefault("MONITOR_INTERVAL", "5s")
	v.SetDefault("ALERT_DEDUP_WINDOW", "5m")
	v.SetDefault("SMS_LOCAL_API_KEY", "")
	v.SetDefault("SMS_LOCAL_SENDER", "")
	v.SetDefault("SMS_LOCAL_BASE_URL", "https://app.smslocal.in/api/smsapi")
	v.SetDefault("OTP_RETURN_TO_CLIENT", false)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", "")
	v.SetDefault("ALERT_KAFKA_BROKERS", "")
	v.SetDefault("ALERT_KAFKA_TOPIC", "authguard-alerts")
	v.SetDefault("LOGIN_RATE_LIMIT", 5.0)
	v.SetDefault("LOGIN_RATE_BURST", 10)
	v.SetDefault("TRUST_FORWARDED_FOR", false)
	v.SetDefault("LOG_LEVEL", "info")
	for role, d := range roleDefaults {
		p := rolePrefix(role)
		v.SetDefault(p+"_SESSION_TTL", d.SessionTTL.String())
		v.SetDefault(p+"_IDLE_TIMEOUT", d.IdleTimeout.String())
		v.SetDefault(p+"_MAX_SESSIONS", d.MaxSessions)
		v.SetDefault(p+"_REQUIRE_OTP", d.RequireOTP)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.Roles = make(map[identity.Role]RoleConfig, len(roleDefaults))
	for _, role := range identity.Roles {
		p := rolePrefix(role)
		cfg.Roles[role] = RoleConfig{
			SessionTTL:  v.GetDuration(p + "_SESSION_TTL"),
			IdleTimeout: v.GetDuration(p + "_IDLE_TIMEOUT"),
			MaxSessions: v.GetInt(p + "_MAX_SESSIONS"),
			RequireOTP:  v.GetBool(p + "_REQUIRE_OTP"),
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	if c.OTPReturnToClient && c.Production() {
		return errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if (c.JWTPrivateKey == "") != (c.JWTPublicKey == "") {
		return errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set together")
	}
	if c.StorageTimeout <= 0 {
		return errors.New("config: STORAGE_TIMEOUT must be positive")
	}
	if c.MaxFailedAttempts < 1 {
		return errors.New("config: MAX_FAILED_ATTEMPTS must be at least 1")
	}
	if c.LockoutWindow <= 0 || c.LockoutDuration <= 0 {
		return errors.New("config: LOCKOUT_WINDOW and LOCKOUT_DURATION must be positive")
	}
	if c.OTPLength < 4 || c.OTPLength > 12 {
		return errors.New("config: OTP_LENGTH must be between 4 and 12")
	}
	if c.OTPExpiry <= 0 || c.OTPMaxAttempts < 1 {
		return errors.New("config: OTP_EXPIRY must be positive and OTP_MAX_ATTEMPTS at least 1")
	}
	if c.OTPResendCooldown < 0 || c.OTPMaxResend < 0 {
		return errors.New("config: OTP_RESEND_COOLDOWN and OTP_MAX_RESEND must not be negative")
	}
	if c.SessionWarningWindow < 0 || c.AlertDedupWindow < 0 {
		return errors.New("config: SESSION_WARNING_WINDOW and ALERT_DEDUP_WINDOW must not be negative")
	}
	if c.MonitorInterval <= 0 {
		return errors.New("config: MONITOR_INTERVAL must be positive")
	}
	if c.LoginRateLimit < 0 || c.LoginRateBurst < 0 {
		return errors.New("config: LOGIN_RATE_LIMIT and LOGIN_RATE_BURST must not be negative")
	}
	for role, rc := range c.Roles {
		p := rolePrefix(role)
		if rc.SessionTTL <= 0 {
			return fmt.Errorf("config: %s_SESSION_TTL must be positive", p)
		}
		if rc.IdleTimeout < 0 || rc.MaxSessions < 0 {
			return fmt.Errorf("config: %s_IDLE_TIMEOUT and %s_MAX_SESSIONS must not be negative", p, p)
		}
		if rc.IdleTimeout > 0 && rc.IdleTimeout <= c.SessionWarningWindow {
			return fmt.Errorf("config: %s_IDLE_TIMEOUT must exceed SESSION_WARNING_WINDOW", p)
		}
	}
	return nil
}

// RolePolicies returns the session policy table keyed by role.
func (c *Config) RolePolicies() map[identity.Role]session.Policy {
	out := make(map[identity.Role]session.Policy, len(c.Roles))
	for role, rc := range c.Roles {
		out[role] = session.Policy{TTL: rc.SessionTTL, IdleTimeout: rc.IdleTimeout, MaxSessions: rc.MaxSessions}
	}
	return out
}

// RequireOTP reports whether role is configured to require a second factor.
// Unknown roles require it.
func (c *Config) RequireOTP(role identity.Role) bool {
	rc, ok := c.Roles[role]
	return !ok || rc.RequireOTP
}

// AlertKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if alert fan-out is enabled (non-empty list) and to create the producer.
func (c *Config) AlertKafkaBrokersList() []string {
	if c == nil || c.AlertKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.AlertKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Production reports whether APP_ENV is production.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

func rolePrefix(role identity.Role) string {
	return strings.ToUpper(string(role))
}
