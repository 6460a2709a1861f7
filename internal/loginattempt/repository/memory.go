package repository

import (
	"context"
	"sync"

	"authguard/internal/loginattempt/domain"
)

// MemoryRepository keeps attempts in process memory.
type MemoryRepository struct {
	mu       sync.Mutex
	attempts []*domain.Attempt
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Append(ctx context.Context, a *domain.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *a
	r.attempts = append(r.attempts, &c)
	return nil
}

func (r *MemoryRepository) ListByIdentifier(ctx context.Context, identifier string, limit int) ([]*domain.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Attempt
	for i := len(r.attempts) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if r.attempts[i].Identifier == identifier {
			c := *r.attempts[i]
			out = append(out, &c)
		}
	}
	return out, nil
}
