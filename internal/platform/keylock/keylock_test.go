package keylock

import (
	"sync"
	"testing"
	"time"
)

func TestStriped_SameKeySerialized(t *testing.T) {
	l := New(8)
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("identity-1")
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()
	if counter != 100 {
		t.Errorf("counter = %d, want 100", counter)
	}
}

func TestStriped_StableIndex(t *testing.T) {
	l := New(0)
	if len(l.stripes) != defaultStripes {
		t.Fatalf("stripes = %d, want %d", len(l.stripes), defaultStripes)
	}
	if l.index("abc") != l.index("abc") {
		t.Error("index should be stable for the same key")
	}
}

func TestKeyed_SameKeySerialized(t *testing.T) {
	l := NewKeyed()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("identity-1")
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()
	if counter != 100 {
		t.Errorf("counter = %d, want 100", counter)
	}
	if l.size() != 0 {
		t.Errorf("entries = %d after all unlocks, want 0", l.size())
	}
}

func TestKeyed_DistinctKeysDoNotContend(t *testing.T) {
	l := NewKeyed()
	unlockA := l.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := l.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("locking b blocked while a was held")
	}
}
