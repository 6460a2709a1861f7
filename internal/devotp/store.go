// Package devotp keeps plaintext codes by challenge id so a developer can read them back
// instead of receiving an SMS. It is wired only when OTP_RETURN_TO_CLIENT is enabled outside production.
package devotp

import (
	"context"
	"sync"
	"time"

	"authguard/internal/mfa"
	"authguard/internal/platform/clock"
)

// Store holds codes until their challenge expires.
type Store interface {
	Put(ctx context.Context, challengeID, code string, expiresAt time.Time)
	// Get returns ok false when the code is missing or expired.
	Get(ctx context.Context, challengeID string) (code string, ok bool)
}

type entry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu    sync.Mutex
	m     map[string]entry
	clock clock.Clock
}

// NewMemoryStore returns an empty store using clk (system clock when nil).
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.System{}
	}
	return &MemoryStore{m: make(map[string]entry), clock: clk}
}

func (s *MemoryStore) Put(ctx context.Context, challengeID, code string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	s.m[challengeID] = entry{code: code, expiresAt: expiresAt}
}

func (s *MemoryStore) Get(ctx context.Context, challengeID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[challengeID]
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.clock.Now()) {
		delete(s.m, challengeID)
		return "", false
	}
	return e.code, true
}

// sweep drops expired entries. Caller holds s.mu.
func (s *MemoryStore) sweep() {
	now := s.clock.Now()
	for id, e := range s.m {
		if !e.expiresAt.After(now) {
			delete(s.m, id)
		}
	}
}

// Notifier records each delivery in Store.
type Notifier struct {
	Store Store
}

func (n Notifier) SendOTP(ctx context.Context, d mfa.Delivery) error {
	n.Store.Put(ctx, d.ChallengeID, d.Code, d.ExpiresAt)
	return nil
}
