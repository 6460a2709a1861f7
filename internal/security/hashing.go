package security

import (
	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies identity secrets using bcrypt. Callers must not log or
// persist plaintext secrets.
type Hasher struct {
	Cost int

	dummy []byte
}

// NewHasher returns a Hasher with the given bcrypt cost, clamped to bcrypt's range.
// Zero or negative selects bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	h := &Hasher{Cost: cost}
	// Pre-computed hash at the same cost so unknown identifiers cost as much as known ones.
	h.dummy, _ = bcrypt.GenerateFromPassword([]byte("authguard-dummy-secret"), cost)
	return h
}

// Hash produces a bcrypt hash of secret suitable for storage.
func (h *Hasher) Hash(secret []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(secret, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare verifies secret against the stored hash in constant time. Returns nil on match,
// bcrypt.ErrMismatchedHashAndPassword on mismatch, or another error for a malformed hash.
func (h *Hasher) Compare(hash string, secret []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), secret)
}

// CompareDummy burns the same work as Compare against a throwaway hash. Used when the
// identifier does not exist so response timing does not reveal which identifiers are registered.
func (h *Hasher) CompareDummy(secret []byte) {
	if len(h.dummy) == 0 {
		return
	}
	_ = bcrypt.CompareHashAndPassword(h.dummy, secret)
}
