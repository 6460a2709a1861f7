package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"authguard/internal/alert"
	alertdomain "authguard/internal/alert/domain"
	alertrepo "authguard/internal/alert/repository"
	"authguard/internal/credential"
	"authguard/internal/db"
	"authguard/internal/devotp"
	identity "authguard/internal/identity/domain"
	identityrepo "authguard/internal/identity/repository"
	"authguard/internal/ipallow"
	ipdomain "authguard/internal/ipallow/domain"
	iprepo "authguard/internal/ipallow/repository"
	"authguard/internal/lockout"
	attemptrepo "authguard/internal/loginattempt/repository"
	"authguard/internal/mfa"
	mfarepo "authguard/internal/mfa/repository"
	"authguard/internal/platform/clock"
	"authguard/internal/security"
	"authguard/internal/session"
	sessiondomain "authguard/internal/session/domain"
	sessionrepo "authguard/internal/session/repository"
)

var t0 = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

const (
	ownerPhone  = "07501234567"
	ownerSecret = "owner-secret"
	staffUser   = "staff1"
	staffSecret = "staff-secret"
	officeIP    = "10.0.0.5"
)

// flakyIdentities fails identifier lookups with a storage timeout when fail is set.
type flakyIdentities struct {
	*identityrepo.MemoryRepository
	fail bool
}

func (f *flakyIdentities) GetByIdentifier(ctx context.Context, identifier string) (*identity.Identity, error) {
	if f.fail {
		return nil, fmt.Errorf("load identity: %w", db.ErrStorageTimeout)
	}
	return f.MemoryRepository.GetByIdentifier(ctx, identifier)
}

type harness struct {
	eng        *Engine
	clk        *clock.Fake
	codes      *devotp.MemoryStore
	alerts     *alertrepo.MemoryRepository
	attempts   *attemptrepo.MemoryRepository
	identities *flakyIdentities
	guard      *lockout.Guard
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	clk := clock.NewFake(t0)
	hasher := security.NewHasher(4)

	ids := &flakyIdentities{MemoryRepository: identityrepo.NewMemoryRepository()}
	for _, seed := range []struct {
		id, identifier, secret, phone string
		role                          identity.Role
	}{
		{"owner-1", ownerPhone, ownerSecret, "9647501234567", identity.RoleOwner},
		{"staff-1", staffUser, staffSecret, "", identity.RoleStaff},
	} {
		h, err := hasher.Hash([]byte(seed.secret))
		if err != nil {
			t.Fatalf("Hash: %v", err)
		}
		if err := ids.Create(ctx, &identity.Identity{
			ID: seed.id, Role: seed.role, Identifier: seed.identifier, SecretHash: h, Phone: seed.phone, CreatedAt: t0,
		}); err != nil {
			t.Fatalf("Create identity: %v", err)
		}
	}

	allow := iprepo.NewMemoryRepository()
	prefix, _ := ipdomain.ParsePrefix("10.0.0.0/24")
	_ = allow.Create(ctx, &ipdomain.Entry{ID: "allow-1", IdentityID: "owner-1", Prefix: prefix, Active: true})

	alerts := alertrepo.NewMemoryRepository()
	emitter := alert.NewEmitter(alerts, clk, 5*time.Minute, nil)
	attempts := attemptrepo.NewMemoryRepository()
	guard := lockout.NewGuard(lockout.NewMemoryStore(), attempts, clk, lockout.DefaultConfig, nil)
	codes := devotp.NewMemoryStore(clk)
	otp := mfa.NewManager(mfarepo.NewMemoryRepository(), ids, devotp.Notifier{Store: codes}, clk, mfa.DefaultConfig, nil)
	sessions := session.NewManager(sessionrepo.NewMemoryRepository(), nil, clk, session.Config{
		Policies: map[identity.Role]sessiondomain.Policy{
			identity.RoleOwner: {TTL: 30 * time.Minute, IdleTimeout: 10 * time.Minute, MaxSessions: 1},
			identity.RoleStaff: {TTL: 8 * time.Hour, IdleTimeout: 30 * time.Minute, MaxSessions: 3},
		},
		WarningWindow: time.Minute,
	}, nil)

	eng := New(Deps{
		Identities: ids,
		Verifier:   credential.NewVerifier(ids, hasher),
		Guard:      guard,
		OTP:        otp,
		AllowList:  ipallow.NewEnforcer(allow, emitter, nil),
		Sessions:   sessions,
		Alerts:     emitter,
		Clock:      clk,
	})
	return &harness{eng: eng, clk: clk, codes: codes, alerts: alerts, attempts: attempts, identities: ids, guard: guard}
}

func (h *harness) login(t *testing.T, identifier, secret, origin string) LoginResult {
	t.Helper()
	res, err := h.eng.Login(context.Background(), LoginRequest{
		Identifier: identifier, Secret: []byte(secret), Origin: origin, DeviceFingerprint: "fp-1",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return res
}

func (h *harness) code(t *testing.T, challengeID string) string {
	t.Helper()
	c, ok := h.codes.Get(context.Background(), challengeID)
	if !ok {
		t.Fatalf("no code delivered for challenge %s", challengeID)
	}
	return c
}

// ownerSession logs the owner in through both factors.
func (h *harness) ownerSession(t *testing.T) OTPResult {
	t.Helper()
	res := h.login(t, ownerPhone, ownerSecret, officeIP)
	if res.Status != StatusRequireOTP {
		t.Fatalf("owner login = %s, want require_otp", res.Status)
	}
	out, err := h.eng.VerifyOTP(context.Background(), res.ChallengeID, h.code(t, res.ChallengeID))
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	return out
}

func (h *harness) alertsOf(t *testing.T, typ alertdomain.Type) []*alertdomain.Alert {
	t.Helper()
	list, err := h.alerts.List(context.Background(), alertdomain.Filter{Type: typ})
	if err != nil {
		t.Fatalf("List alerts: %v", err)
	}
	return list
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestLogin_LocksAfterFiveFailures(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 5; i++ {
		res := h.login(t, ownerPhone, "wrong", officeIP)
		if res.Status != StatusInvalidCredentials {
			t.Fatalf("failure %d = %s, want invalid_credentials", i, res.Status)
		}
		if i == 5 && res.LockedUntil.IsZero() {
			t.Fatalf("5th failure should engage the lock")
		}
		h.clk.Advance(2 * time.Minute)
	}

	res := h.login(t, ownerPhone, ownerSecret, officeIP)
	if res.Status != StatusLocked {
		t.Fatalf("6th attempt with correct secret = %s, want locked", res.Status)
	}
	if got := h.alertsOf(t, alertdomain.TypeRepeatedFailures); len(got) != 1 || got[0].IdentityID != "owner-1" {
		t.Errorf("repeated_failures alerts = %+v", got)
	}
	locked := h.alertsOf(t, alertdomain.TypeSuspiciousLogin)
	if len(locked) != 1 || locked[0].Severity != alertdomain.SeverityHigh {
		t.Errorf("suspicious_login alerts = %+v", locked)
	}

	// Lock runs 15 minutes from the 5th failure, which was 2 minutes ago.
	h.clk.Advance(13 * time.Minute)
	if res := h.login(t, ownerPhone, ownerSecret, officeIP); res.Status != StatusRequireOTP {
		t.Errorf("after lock elapsed = %s, want require_otp", res.Status)
	}
}

func TestLogin_UnknownIdentifier(t *testing.T) {
	h := newHarness(t)
	res := h.login(t, "nobody", "whatever", officeIP)
	if res.Status != StatusInvalidCredentials || res.Remaining != 4 {
		t.Errorf("unknown identifier = %s (remaining %d)", res.Status, res.Remaining)
	}
}

func TestVerifyOTP_ExhaustedThenNewChallengeSucceeds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.login(t, ownerPhone, ownerSecret, officeIP)
	if first.Status != StatusRequireOTP {
		t.Fatalf("login = %s", first.Status)
	}
	bad := wrongCode(h.code(t, first.ChallengeID))
	want := []Status{StatusMismatch, StatusMismatch, StatusExhausted}
	for i, w := range want {
		res, err := h.eng.VerifyOTP(ctx, first.ChallengeID, bad)
		if err != nil {
			t.Fatalf("VerifyOTP #%d: %v", i+1, err)
		}
		if res.Status != w {
			t.Fatalf("VerifyOTP #%d = %s, want %s", i+1, res.Status, w)
		}
	}
	if res, _ := h.eng.VerifyOTP(ctx, first.ChallengeID, h.code(t, first.ChallengeID)); res.Status != StatusExhausted {
		t.Errorf("correct code on exhausted challenge = %s, want exhausted", res.Status)
	}
	if got := h.alertsOf(t, alertdomain.TypeRepeatedFailures); len(got) != 1 || got[0].Occurrences != 2 {
		t.Errorf("exhaustion alerts = %+v", got)
	}

	second := h.login(t, ownerPhone, ownerSecret, officeIP)
	if second.Status != StatusRequireOTP || second.ChallengeID == first.ChallengeID {
		t.Fatalf("second login = %+v", second)
	}
	res, err := h.eng.VerifyOTP(ctx, second.ChallengeID, h.code(t, second.ChallengeID))
	if err != nil || res.Status != StatusSuccess || res.SessionToken == "" {
		t.Fatalf("VerifyOTP on new challenge = %+v, %v", res, err)
	}
	if res, _ := h.eng.VerifyOTP(ctx, second.ChallengeID, h.code(t, second.ChallengeID)); res.Status != StatusExpired {
		t.Errorf("replay = %s, want expired", res.Status)
	}
	ident, _ := h.identities.GetByID(ctx, "owner-1")
	if ident.LastLoginAt == nil || ident.LastLoginOrigin != officeIP {
		t.Errorf("login metadata not recorded: %+v", ident)
	}
}

func TestOwnerSessionCap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.ownerSession(t)
	if a.Status != StatusSuccess {
		t.Fatalf("session A = %s", a.Status)
	}
	b := h.ownerSession(t)
	if b.Status != StatusTooManySessions {
		t.Fatalf("session B = %s, want too_many_sessions", b.Status)
	}
	if got := h.alertsOf(t, alertdomain.TypeSessionAnomaly); len(got) != 1 || got[0].Severity != alertdomain.SeverityLow {
		t.Errorf("session_anomaly alerts = %+v", got)
	}
	if st, err := h.eng.Logout(ctx, a.SessionToken); err != nil || st != StatusSuccess {
		t.Fatalf("Logout(A) = %s, %v", st, err)
	}
	if b := h.ownerSession(t); b.Status != StatusSuccess {
		t.Errorf("session B after logout = %s, want success", b.Status)
	}
}

func TestLogin_UnknownOrigin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.login(t, ownerPhone, ownerSecret, "192.168.1.5")
	if res.Status != StatusUnknownOrigin || res.ChallengeID != "" {
		t.Fatalf("login from 192.168.1.5 = %+v, want unknown_origin without challenge", res)
	}
	list, _ := h.alerts.List(ctx, alertdomain.Filter{IdentityID: "owner-1", Type: alertdomain.TypeUnknownOrigin})
	if len(list) != 1 || list[0].Severity != alertdomain.SeverityHigh || list[0].Origin != "192.168.1.5" {
		t.Errorf("unknown_origin alerts = %+v", list)
	}
	if live, _ := h.eng.OTP.Live(ctx, "owner-1"); live != nil {
		t.Error("no OTP may be issued for a refused origin")
	}
}

func TestSessionHeartbeatAndContinue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.login(t, staffUser, staffSecret, "203.0.113.9")
	if res.Status != StatusSuccess {
		t.Fatalf("staff login = %s", res.Status)
	}
	tok := res.SessionToken

	h.clk.Advance(28*time.Minute + 59*time.Second)
	if hb, _ := h.eng.Heartbeat(ctx, tok); hb.Status != StatusActive {
		t.Fatalf("heartbeat before warning = %s", hb.Status)
	}
	h.clk.Advance(time.Second)
	hb, _ := h.eng.Heartbeat(ctx, tok)
	if hb.Status != StatusIdleWarning || hb.SecondsRemaining != 60 {
		t.Fatalf("heartbeat in warning = %+v", hb)
	}
	if st, err := h.eng.ContinueSession(ctx, tok); err != nil || st != StatusSuccess {
		t.Fatalf("ContinueSession = %s, %v", st, err)
	}
	if hb, _ := h.eng.Heartbeat(ctx, tok); hb.Status != StatusActive {
		t.Errorf("heartbeat after continue = %s", hb.Status)
	}
	h.clk.Advance(30 * time.Minute)
	if hb, _ := h.eng.Heartbeat(ctx, tok); hb.Status != StatusExpired {
		t.Errorf("heartbeat after idle timeout = %s", hb.Status)
	}
	if st, _ := h.eng.ContinueSession(ctx, tok); st != StatusExpired {
		t.Errorf("ContinueSession after expiry = %s", st)
	}
}

func TestWhoAmIActivityLogout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.login(t, staffUser, staffSecret, "203.0.113.9")
	who, err := h.eng.WhoAmI(ctx, res.SessionToken)
	if err != nil || who.Identity.ID != "staff-1" || who.Role != identity.RoleStaff || !who.SessionExpiresAt.Equal(t0.Add(8*time.Hour)) {
		t.Fatalf("WhoAmI = %+v, %v", who, err)
	}
	h.clk.Advance(20 * time.Minute)
	if err := h.eng.Activity(ctx, res.SessionToken); err != nil {
		t.Fatalf("Activity: %v", err)
	}
	h.clk.Advance(20 * time.Minute)
	if _, err := h.eng.WhoAmI(ctx, res.SessionToken); err != nil {
		t.Fatalf("WhoAmI after activity: %v", err)
	}
	if st, err := h.eng.Logout(ctx, res.SessionToken); err != nil || st != StatusSuccess {
		t.Fatalf("Logout = %s, %v", st, err)
	}
	for _, tok := range []string{res.SessionToken, "", "demo"} {
		if _, err := h.eng.WhoAmI(ctx, tok); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("WhoAmI(%q) err = %v, want ErrUnauthenticated", tok, err)
		}
	}
	if st, err := h.eng.Logout(ctx, res.SessionToken); err != nil || st != StatusSuccess {
		t.Errorf("second Logout = %s, %v", st, err)
	}
}

func TestResendOTP(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.login(t, ownerPhone, ownerSecret, officeIP)
	if res, _ := h.eng.ResendOTP(ctx, first.ChallengeID); res.Status != StatusRateLimited || res.ChallengeID != first.ChallengeID {
		t.Fatalf("resend in cooldown = %+v", res)
	}
	h.clk.Advance(61 * time.Second)
	res, err := h.eng.ResendOTP(ctx, first.ChallengeID)
	if err != nil || res.Status != StatusSuccess || res.ChallengeID == first.ChallengeID {
		t.Fatalf("resend = %+v, %v", res, err)
	}
	if v, _ := h.eng.VerifyOTP(ctx, first.ChallengeID, h.code(t, first.ChallengeID)); v.Status != StatusExpired {
		t.Errorf("superseded challenge = %s, want expired", v.Status)
	}
	if v, _ := h.eng.VerifyOTP(ctx, res.ChallengeID, h.code(t, res.ChallengeID)); v.Status != StatusSuccess {
		t.Errorf("resent challenge = %s, want success", v.Status)
	}
	if r, _ := h.eng.ResendOTP(ctx, "missing"); r.Status != StatusExpired {
		t.Errorf("resend unknown = %s", r.Status)
	}
}

func TestLogin_StorageTimeoutIsNotAFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.identities.fail = true
	for i := 0; i < 6; i++ {
		if res := h.login(t, ownerPhone, "wrong", officeIP); res.Status != StatusStorageTimeout {
			t.Fatalf("login #%d = %s, want storage_timeout", i, res.Status)
		}
	}
	left, err := h.guard.RemainingAttempts(ctx, ownerPhone)
	if err != nil || left != 5 {
		t.Errorf("RemainingAttempts = %d, %v; want 5", left, err)
	}
	h.identities.fail = false
	if res := h.login(t, ownerPhone, ownerSecret, officeIP); res.Status != StatusRequireOTP {
		t.Errorf("after recovery = %s", res.Status)
	}
}

func TestLogin_AttemptLog(t *testing.T) {
	h := newHarness(t)
	h.login(t, staffUser, "wrong", "203.0.113.9")
	h.login(t, staffUser, staffSecret, "203.0.113.9")
	rows, err := h.attempts.ListByIdentifier(context.Background(), staffUser, 0)
	if err != nil {
		t.Fatalf("ListByIdentifier: %v", err)
	}
	if len(rows) != 2 || !rows[0].Success || rows[1].Success || rows[1].Reason != "invalid_credentials" {
		t.Errorf("attempt log = %+v", rows)
	}
}

func TestStatusString(t *testing.T) {
	if StatusIdleWarning.String() != "idle_warning" || Status(99).String() != "unknown" {
		t.Error("Status.String")
	}
}
