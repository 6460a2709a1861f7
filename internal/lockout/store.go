package lockout

import (
	"context"
	"sync"
	"time"
)

// State is the lockout envelope for one identifier. Failures counts failures inside the window;
// LockedUntil is zero when no lock has been engaged. Engaged is set only by the RecordFailure
// call that set the lock.
type State struct {
	Failures    int
	LockedUntil time.Time
	Engaged     bool
}

// Locked reports whether the lock is in force at now.
func (s State) Locked(now time.Time) bool {
	return !s.LockedUntil.IsZero() && now.Before(s.LockedUntil)
}

// Store holds sliding-window failure state per identifier.
type Store interface {
	// Get returns the state at now, discarding failures older than window and expired locks.
	Get(ctx context.Context, key string, now time.Time, window time.Duration) (State, error)
	// RecordFailure adds a failure at now. When the windowed count reaches max, the key is locked
	// until now+duration and its failures are reset. A failure against a key that is already
	// locked is not counted and leaves the lock unchanged. Count and lock are one atomic step.
	RecordFailure(ctx context.Context, key string, now time.Time, window time.Duration, max int, duration time.Duration) (State, error)
	// Clear drops all state for key.
	Clear(ctx context.Context, key string) error
}

type memEntry struct {
	failures    []time.Time
	lockedUntil time.Time
}

// MemoryStore is the single-instance Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memEntry)}
}

func (s *MemoryStore) Get(ctx context.Context, key string, now time.Time, window time.Duration) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return State{}, nil
	}
	st := s.prune(e, now, window)
	if st == (State{}) {
		delete(s.entries, key)
	}
	return st, nil
}

func (s *MemoryStore) RecordFailure(ctx context.Context, key string, now time.Time, window time.Duration, max int, duration time.Duration) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &memEntry{}
	}
	if st := s.prune(e, now, window); st.Locked(now) {
		return st, nil
	}
	e.failures = append(e.failures, now)
	s.entries[key] = e
	if len(e.failures) < max {
		return State{Failures: len(e.failures)}, nil
	}
	e.failures = nil
	e.lockedUntil = now.Add(duration)
	return State{LockedUntil: e.lockedUntil, Engaged: true}, nil
}

func (s *MemoryStore) Clear(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// prune drops failures outside [now-window, now] and an elapsed lock, and returns what is left.
// Caller holds s.mu.
func (s *MemoryStore) prune(e *memEntry, now time.Time, window time.Duration) State {
	cutoff := now.Add(-window)
	kept := e.failures[:0]
	for _, f := range e.failures {
		if !f.Before(cutoff) {
			kept = append(kept, f)
		}
	}
	e.failures = kept
	if !e.lockedUntil.IsZero() && !now.Before(e.lockedUntil) {
		e.lockedUntil = time.Time{}
	}
	return State{Failures: len(e.failures), LockedUntil: e.lockedUntil}
}

// size reports how many identifiers hold state.
func (s *MemoryStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
