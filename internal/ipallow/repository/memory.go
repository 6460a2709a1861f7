package repository

import (
	"context"
	"sync"

	"authguard/internal/ipallow/domain"
)

// MemoryRepository keeps entries in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []*domain.Entry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) ListActiveFor(ctx context.Context, identityID string) ([]*domain.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Entry
	for _, e := range r.entries {
		if e.Active && (e.Global() || e.IdentityID == identityID) {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *MemoryRepository) Create(ctx context.Context, e *domain.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *e
	r.entries = append(r.entries, &c)
	return nil
}

func (r *MemoryRepository) SetActive(ctx context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ID == id {
			e.Active = active
		}
	}
	return nil
}
