// Package keylock serializes work per key without one global lock: Striped for short critical
// sections, Keyed where a holder may block for long (password hashing).
package keylock

import (
	"hash/fnv"
	"sync"
)

const defaultStripes = 256

// Striped maps keys onto a fixed set of mutexes. Two keys may share a stripe; the same key
// always maps to the same stripe, so operations on one key are linearizable.
type Striped struct {
	stripes []sync.Mutex
}

// New returns a Striped lock with n stripes (256 when n <= 0).
func New(n int) *Striped {
	if n <= 0 {
		n = defaultStripes
	}
	return &Striped{stripes: make([]sync.Mutex, n)}
}

// Lock acquires the stripe for key and returns its unlock function.
func (s *Striped) Lock(key string) (unlock func()) {
	m := &s.stripes[s.index(key)]
	m.Lock()
	return m.Unlock
}

func (s *Striped) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(s.stripes)))
}

// Keyed holds one mutex per key that is currently locked or waited on. Distinct keys never
// contend, at the cost of a map operation per Lock and unlock.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyed returns an empty Keyed lock.
func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[string]*keyedEntry)}
}

// Lock acquires the mutex for key and returns its unlock function. The entry is dropped once
// no caller holds or waits for it.
func (k *Keyed) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}

func (k *Keyed) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
