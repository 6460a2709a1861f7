// Package policy decides whether a login must complete a second factor.
package policy

import "context"

// Input describes the login being evaluated.
type Input struct {
	IdentityID        string
	Role              string
	RoleRequiresOTP   bool // the configured per-role default
	HasPhone          bool
	HasEmail          bool
	Origin            string
	DeviceFingerprint string
}

// Evaluator evaluates the second-factor policy.
type Evaluator interface {
	RequireOTP(ctx context.Context, in Input) (bool, error)
}

// Static requires OTP exactly when the role's configured default says so.
type Static struct{}

func (Static) RequireOTP(_ context.Context, in Input) (bool, error) {
	return in.RoleRequiresOTP, nil
}
