package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"authguard/internal/session/domain"
)

// MemoryRepository keeps sessions in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[string]*domain.Session
	byHash map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*domain.Session), byHash: make(map[string]string)}
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.ID] = clone(s)
	r.byHash[s.TokenHash] = s.ID
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clone(r.byID[id]), nil
}

func (r *MemoryRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byHash[tokenHash]
	if !ok {
		return nil, nil
	}
	return clone(r.byID[id]), nil
}

func (r *MemoryRepository) ListActiveByIdentity(ctx context.Context, identityID string) ([]*domain.Session, error) {
	return r.list(func(s *domain.Session) bool { return s.IdentityID == identityID }), nil
}

func (r *MemoryRepository) ListActive(ctx context.Context) ([]*domain.Session, error) {
	return r.list(func(*domain.Session) bool { return true }), nil
}

func (r *MemoryRepository) list(match func(*domain.Session) bool) []*domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Session
	for _, s := range r.byID {
		if s.State == domain.StateActive && match(s) {
			out = append(out, clone(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out
}

func (r *MemoryRepository) Touch(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok && s.State == domain.StateActive {
		s.LastActivityAt = at
		s.WarnedAt = nil
	}
	return nil
}

func (r *MemoryRepository) MarkWarned(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok && s.State == domain.StateActive {
		t := at
		s.WarnedAt = &t
	}
	return nil
}

func (r *MemoryRepository) End(ctx context.Context, id string, state domain.State, reason string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok || s.State != domain.StateActive {
		return false, nil
	}
	end(s, state, reason, at)
	return true, nil
}

func (r *MemoryRepository) EndAllByIdentity(ctx context.Context, identityID string, state domain.State, reason string, at time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, s := range r.byID {
		if s.IdentityID == identityID && s.State == domain.StateActive {
			end(s, state, reason, at)
			ids = append(ids, s.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func end(s *domain.Session, state domain.State, reason string, at time.Time) {
	t := at
	s.State = state
	s.EndReason = reason
	s.EndedAt = &t
}

func clone(s *domain.Session) *domain.Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.WarnedAt != nil {
		t := *s.WarnedAt
		c.WarnedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}
