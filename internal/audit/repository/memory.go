package repository

import (
	"context"
	"sync"

	"authguard/internal/audit/domain"
)

// MemoryRepository keeps audit logs in process memory.
type MemoryRepository struct {
	mu   sync.Mutex
	logs []*domain.AuditLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *a
	r.logs = append(r.logs, &c)
	return nil
}

// ListByIdentity returns newest first; identityID "" lists everything.
func (r *MemoryRepository) ListByIdentity(ctx context.Context, identityID string, limit int) ([]*domain.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AuditLog
	for i := len(r.logs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if identityID == "" || r.logs[i].IdentityID == identityID {
			c := *r.logs[i]
			out = append(out, &c)
		}
	}
	return out, nil
}
