// Package credential checks a submitted secret against the identity store.
package credential

import (
	"context"

	"authguard/internal/identity/domain"
	"authguard/internal/security"
)

// IdentityLoader resolves an identifier to an identity. Returns (nil, nil) when not found.
type IdentityLoader interface {
	GetByIdentifier(ctx context.Context, identifier string) (*domain.Identity, error)
}

// Match is the outcome of Verify. Identity is set only when Matched is true.
type Match struct {
	Matched  bool
	Identity *domain.Identity
}

// Verifier compares secrets with bcrypt. It has no side effects beyond the store read.
type Verifier struct {
	identities IdentityLoader
	hasher     *security.Hasher
}

// NewVerifier returns a Verifier over identities using hasher.
func NewVerifier(identities IdentityLoader, hasher *security.Hasher) *Verifier {
	return &Verifier{identities: identities, hasher: hasher}
}

// Verify reports whether secret matches the identity registered under identifier.
// Unknown identifiers run a dummy comparison so both paths take comparable time.
// A suspended identity or a role mismatch (when role is non-empty) never matches.
// The returned error is only a store failure; a wrong secret is Match{Matched: false}.
func (v *Verifier) Verify(ctx context.Context, identifier string, secret []byte, role domain.Role) (Match, error) {
	ident, err := v.identities.GetByIdentifier(ctx, domain.NormalizeIdentifier(identifier))
	if err != nil {
		return Match{}, err
	}
	if ident == nil {
		v.hasher.CompareDummy(secret)
		return Match{}, nil
	}
	// Mismatch and a malformed stored hash both count as a failed match.
	if err := v.hasher.Compare(ident.SecretHash, secret); err != nil {
		return Match{}, nil
	}
	if !ident.Active() {
		return Match{}, nil
	}
	if role != "" && ident.Role != role {
		return Match{}, nil
	}
	return Match{Matched: true, Identity: ident}, nil
}
