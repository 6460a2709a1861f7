package policy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const requireOTPQuery = "data.authguard.login.require_otp"

// DefaultRegoPolicy follows the per-role configuration.
const DefaultRegoPolicy = `package authguard.login

default require_otp = false

require_otp if {
	input.role_requires_otp
}
`

// OPAEvaluator evaluates the second-factor rule with OPA Rego. Operators can replace the
// default module to add conditions (for example requiring OTP for every privileged role).
type OPAEvaluator struct {
	compiler *ast.Compiler
	logger   *slog.Logger
}

// NewOPAEvaluator compiles modules (DefaultRegoPolicy when empty).
func NewOPAEvaluator(modules []string, logger *slog.Logger) (*OPAEvaluator, error) {
	if len(modules) == 0 {
		modules = []string{DefaultRegoPolicy}
	}
	if logger == nil {
		logger = slog.Default()
	}
	files := make(map[string]string, len(modules))
	for i, m := range modules {
		files[fmt.Sprintf("policy_%d.rego", i)] = m
	}
	compiler, err := ast.CompileModules(files)
	if err != nil {
		return nil, fmt.Errorf("compile policies: %w", err)
	}
	return &OPAEvaluator{compiler: compiler, logger: logger}, nil
}

// HealthCheck verifies the in-process engine compiles and evaluates the default policy.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	compiler, err := ast.CompileModules(map[string]string{"policy_0.rego": DefaultRegoPolicy})
	if err != nil {
		return fmt.Errorf("compile default policy: %w", err)
	}
	_, err = eval(ctx, compiler, buildInput(Input{Role: "owner", RoleRequiresOTP: true}))
	return err
}

// RequireOTP evaluates require_otp. On an evaluation error the configured role default is
// returned together with the error so callers never silently skip a required factor.
func (e *OPAEvaluator) RequireOTP(ctx context.Context, in Input) (bool, error) {
	v, err := eval(ctx, e.compiler, buildInput(in))
	if err != nil {
		e.logger.WarnContext(ctx, "policy: evaluation failed, using role default", "role", in.Role, "error", err)
		return in.RoleRequiresOTP, err
	}
	return v, nil
}

func buildInput(in Input) map[string]interface{} {
	return map[string]interface{}{
		"role":               in.Role,
		"role_requires_otp":  in.RoleRequiresOTP,
		"origin":             in.Origin,
		"device_fingerprint": in.DeviceFingerprint,
		"identity": map[string]interface{}{
			"id":        in.IdentityID,
			"has_phone": in.HasPhone,
			"has_email": in.HasEmail,
		},
	}
}

func eval(ctx context.Context, compiler *ast.Compiler, input map[string]interface{}) (bool, error) {
	q := rego.New(
		rego.Query(requireOTPQuery),
		rego.Compiler(compiler),
		rego.Input(input),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return false, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, fmt.Errorf("policy query returned no result")
	}
	v, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("require_otp is %T, want bool", rs[0].Expressions[0].Value)
	}
	return v, nil
}
