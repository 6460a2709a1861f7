package config

import (
	"os"
	"testing"
	"time"

	identity "authguard/internal/identity/domain"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8081" || cfg.GRPCAddr != ":8080" {
		t.Errorf("addrs = %q %q", cfg.HTTPAddr, cfg.GRPCAddr)
	}
	if cfg.MaxFailedAttempts != 5 || cfg.LockoutWindow != 15*time.Minute || cfg.LockoutDuration != 15*time.Minute {
		t.Errorf("lockout = %d/%v/%v", cfg.MaxFailedAttempts, cfg.LockoutWindow, cfg.LockoutDuration)
	}
	if cfg.OTPLength != 6 || cfg.OTPExpiry != 5*time.Minute || cfg.OTPMaxAttempts != 3 {
		t.Errorf("otp = %d/%v/%d", cfg.OTPLength, cfg.OTPExpiry, cfg.OTPMaxAttempts)
	}
	if cfg.OTPResendCooldown != time.Minute || cfg.OTPMaxResend != 3 {
		t.Errorf("resend = %v/%d", cfg.OTPResendCooldown, cfg.OTPMaxResend)
	}
	if cfg.AlertDedupWindow != 5*time.Minute {
		t.Errorf("AlertDedupWindow = %v", cfg.AlertDedupWindow)
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.OTPReturnToClient {
		t.Error("OTPReturnToClient should default to false")
	}
	owner := cfg.Roles[identity.RoleOwner]
	if owner.MaxSessions != 1 || !owner.RequireOTP || owner.SessionTTL != 30*time.Minute {
		t.Errorf("owner = %+v", owner)
	}
	if cfg.RequireOTP(identity.RoleCustomer) {
		t.Error("customer should not require OTP by default")
	}
	if !cfg.RequireOTP(identity.Role("ghost")) {
		t.Error("unknown role should require OTP")
	}
	if p := cfg.RolePolicies()[identity.RoleStaff]; p.TTL != 8*time.Hour || p.MaxSessions != 3 {
		t.Errorf("staff policy = %+v", p)
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("GRPC_ADDR", ":9090")
	os.Setenv("BCRYPT_COST", "10")
	os.Setenv("MAX_FAILED_ATTEMPTS", "3")
	os.Setenv("LOCKOUT_WINDOW", "10m")
	os.Setenv("OWNER_MAX_SESSIONS", "2")
	os.Setenv("CUSTOMER_REQUIRE_OTP", "true")
	os.Setenv("ALERT_DEDUP_WINDOW", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCAddr != ":9090" || cfg.BcryptCost != 10 {
		t.Errorf("GRPCAddr=%q BcryptCost=%d", cfg.GRPCAddr, cfg.BcryptCost)
	}
	if cfg.MaxFailedAttempts != 3 || cfg.LockoutWindow != 10*time.Minute {
		t.Errorf("lockout = %d/%v", cfg.MaxFailedAttempts, cfg.LockoutWindow)
	}
	if cfg.Roles[identity.RoleOwner].MaxSessions != 2 {
		t.Errorf("owner cap = %d, want 2", cfg.Roles[identity.RoleOwner].MaxSessions)
	}
	if !cfg.RequireOTP(identity.RoleCustomer) {
		t.Error("CUSTOMER_REQUIRE_OTP override ignored")
	}
	if cfg.AlertDedupWindow != 0 {
		t.Errorf("AlertDedupWindow = %v, want 0", cfg.AlertDedupWindow)
	}
}

func TestLoad_Invalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		env  map[string]string
	}{
		{"dev otp in production", map[string]string{"OTP_RETURN_TO_CLIENT": "true", "APP_ENV": "production"}},
		{"bcrypt cost too low", map[string]string{"BCRYPT_COST": "3"}},
		{"bcrypt cost too high", map[string]string{"BCRYPT_COST": "32"}},
		{"half a key pair", map[string]string{"JWT_PRIVATE_KEY": "x"}},
		{"zero attempts", map[string]string{"MAX_FAILED_ATTEMPTS": "0"}},
		{"otp too long", map[string]string{"OTP_LENGTH": "13"}},
		{"zero ttl", map[string]string{"ADMIN_SESSION_TTL": "0s"}},
		{"idle inside warning", map[string]string{"STAFF_IDLE_TIMEOUT": "30s", "SESSION_WARNING_WINDOW": "60s"}},
	} {
		os.Clearenv()
		for k, v := range tc.env {
			os.Setenv(k, v)
		}
		if _, err := Load(); err == nil {
			t.Errorf("%s: Load should fail", tc.name)
		}
	}
}

func TestLoad_DevOTPOutsideProduction(t *testing.T) {
	os.Clearenv()
	os.Setenv("OTP_RETURN_TO_CLIENT", "true")
	os.Setenv("APP_ENV", "development")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.OTPReturnToClient || cfg.Production() {
		t.Errorf("OTPReturnToClient=%v Production=%v", cfg.OTPReturnToClient, cfg.Production())
	}
}

func TestAlertKafkaBrokersList(t *testing.T) {
	cfg := &Config{AlertKafkaBrokers: " a:9092, ,b:9092 "}
	got := cfg.AlertKafkaBrokersList()
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Errorf("AlertKafkaBrokersList = %v", got)
	}
	if (*Config)(nil).AlertKafkaBrokersList() != nil {
		t.Error("nil config should have no brokers")
	}
}
