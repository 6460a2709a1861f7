package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"authguard/internal/alert/domain"
)

// MemoryRepository keeps alerts in process memory.
type MemoryRepository struct {
	mu   sync.Mutex
	byID map[string]*domain.Alert
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*domain.Alert)}
}

func (r *MemoryRepository) Create(ctx context.Context, a *domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[a.ID] = clone(a)
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.byID[id]), nil
}

func (r *MemoryRepository) FindUnresolved(ctx context.Context, t domain.Type, identityID, origin string, since time.Time) (*domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *domain.Alert
	for _, a := range r.byID {
		if a.Resolved || a.Type != t || a.IdentityID != identityID || a.Origin != origin || a.LastSeenAt.Before(since) {
			continue
		}
		if best == nil || a.LastSeenAt.After(best.LastSeenAt) {
			best = a
		}
	}
	return clone(best), nil
}

func (r *MemoryRepository) Touch(ctx context.Context, id string, at time.Time) (*domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	a.Occurrences++
	a.LastSeenAt = at
	return clone(a), nil
}

func (r *MemoryRepository) Resolve(ctx context.Context, id, resolverID, notes string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.byID[id]; ok {
		t := at
		a.Resolved = true
		a.ResolvedBy = resolverID
		a.ResolvedAt = &t
		a.ResolutionNotes = notes
	}
	return nil
}

func (r *MemoryRepository) List(ctx context.Context, f domain.Filter) ([]*domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Alert
	for _, a := range r.byID {
		if f.Matches(a) {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func clone(a *domain.Alert) *domain.Alert {
	if a == nil {
		return nil
	}
	c := *a
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
