package repository

import (
	"context"
	"sync"

	"authguard/internal/mfa/domain"
)

// MemoryRepository keeps challenges in process memory.
type MemoryRepository struct {
	mu   sync.Mutex
	byID map[string]*domain.Challenge
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*domain.Challenge)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) GetPendingByIdentity(ctx context.Context, identityID string) (*domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byID {
		if c.IdentityID == identityID && c.Status == domain.StatusPending {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) Replace(ctx context.Context, next *domain.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byID {
		if c.IdentityID == next.IdentityID && c.Status == domain.StatusPending {
			c.Status = domain.StatusSuperseded
		}
	}
	cp := *next
	r.byID[next.ID] = &cp
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, c *domain.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byID[c.ID]; ok {
		cur.AttemptsUsed = c.AttemptsUsed
		cur.Status = c.Status
	}
	return nil
}
