package policy

import (
	"context"
	"testing"
)

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	e, err := NewOPAEvaluator(nil, nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_DefaultPolicyFollowsRole(t *testing.T) {
	e, err := NewOPAEvaluator(nil, nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	ctx := context.Background()
	for _, tc := range []struct {
		name string
		in   Input
		want bool
	}{
		{"owner requires", Input{Role: "owner", RoleRequiresOTP: true}, true},
		{"customer does not", Input{Role: "customer"}, false},
	} {
		got, err := e.RequireOTP(ctx, tc.in)
		if err != nil {
			t.Fatalf("%s: RequireOTP: %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("%s: RequireOTP = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestOPAEvaluator_CustomPolicy(t *testing.T) {
	custom := `package authguard.login

default require_otp = false

require_otp if {
	input.role_requires_otp
}

require_otp if {
	input.role == "admin"
	input.identity.has_phone
}
`
	e, err := NewOPAEvaluator([]string{custom}, nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	ctx := context.Background()
	if got, _ := e.RequireOTP(ctx, Input{Role: "admin", HasPhone: true}); !got {
		t.Error("admin with phone should require OTP")
	}
	if got, _ := e.RequireOTP(ctx, Input{Role: "admin"}); got {
		t.Error("admin without phone should not require OTP")
	}
}

func TestOPAEvaluator_InvalidPolicy(t *testing.T) {
	if _, err := NewOPAEvaluator([]string{"package authguard.login\n\ninvalid syntax here\n"}, nil); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestOPAEvaluator_NonBoolFallsBackToRoleDefault(t *testing.T) {
	e, err := NewOPAEvaluator([]string{"package authguard.login\n\nrequire_otp = \"yes\"\n"}, nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	got, err := e.RequireOTP(context.Background(), Input{Role: "owner", RoleRequiresOTP: true})
	if err == nil || !got {
		t.Errorf("RequireOTP = %v, %v; want role default true with error", got, err)
	}
}

func TestStatic(t *testing.T) {
	if got, _ := (Static{}).RequireOTP(context.Background(), Input{RoleRequiresOTP: true}); !got {
		t.Error("Static should follow the role default")
	}
}
