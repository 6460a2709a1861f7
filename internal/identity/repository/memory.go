package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"authguard/internal/identity/domain"
)

// ErrDuplicateIdentifier is returned by Create when the identifier is taken.
var ErrDuplicateIdentifier = errors.New("identifier already registered")

// MemoryRepository is an in-process identity store for development and tests.
type MemoryRepository struct {
	mu           sync.RWMutex
	byID         map[string]*domain.Identity
	byIdentifier map[string]string
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:         make(map[string]*domain.Identity),
		byIdentifier: make(map[string]string),
	}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clone(r.byID[id]), nil
}

func (r *MemoryRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byIdentifier[identifier]
	if !ok {
		return nil, nil
	}
	return clone(r.byID[id]), nil
}

func (r *MemoryRepository) Create(ctx context.Context, i *domain.Identity) error {
	if err := i.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byIdentifier[i.Identifier]; ok {
		return ErrDuplicateIdentifier
	}
	r.byID[i.ID] = clone(i)
	r.byIdentifier[i.Identifier] = i.ID
	return nil
}

func (r *MemoryRepository) RecordLogin(ctx context.Context, id string, at time.Time, origin string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.byID[id]; ok {
		t := at
		i.LastLoginAt = &t
		i.LastLoginOrigin = origin
	}
	return nil
}

func clone(i *domain.Identity) *domain.Identity {
	if i == nil {
		return nil
	}
	c := *i
	if i.LastLoginAt != nil {
		t := *i.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}
