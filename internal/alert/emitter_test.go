package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"authguard/internal/alert/domain"
	"authguard/internal/alert/repository"
	"authguard/internal/platform/clock"
)

var t0 = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

type captureSink struct {
	mu     sync.Mutex
	alerts []domain.Alert
	err    error
}

func (c *captureSink) Publish(ctx context.Context, a *domain.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, *a)
	return c.err
}

func (c *captureSink) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}

type failingRepo struct{ repository.Repository }

func (failingRepo) FindUnresolved(context.Context, domain.Type, string, string, time.Time) (*domain.Alert, error) {
	return nil, errors.New("storage timeout")
}

func newEmitter(window time.Duration, sinks ...NamedSink) (*Emitter, *clock.Fake, *repository.MemoryRepository) {
	clk := clock.NewFake(t0)
	repo := repository.NewMemoryRepository()
	return NewEmitter(repo, clk, window, nil, WithSinks(sinks...)), clk, repo
}

func unknownOrigin(origin string) domain.Input {
	return domain.Input{Type: domain.TypeUnknownOrigin, Severity: domain.SeverityHigh, IdentityID: "owner-1", Origin: origin, Details: "unlisted origin"}
}

func TestEmitter_DedupWithinWindow(t *testing.T) {
	e, clk, _ := newEmitter(5 * time.Minute)
	ctx := context.Background()
	e.Raise(ctx, unknownOrigin("203.0.113.9"))
	clk.Advance(4 * time.Minute)
	e.Raise(ctx, unknownOrigin("203.0.113.9"))
	e.Raise(ctx, unknownOrigin("198.51.100.1"))

	list, _ := e.List(ctx, domain.Filter{Type: domain.TypeUnknownOrigin})
	if len(list) != 2 {
		t.Fatalf("alerts = %d, want 2", len(list))
	}
	for _, a := range list {
		if a.Origin == "203.0.113.9" && (a.Occurrences != 2 || !a.LastSeenAt.Equal(t0.Add(4*time.Minute)) || !a.FirstSeenAt.Equal(t0)) {
			t.Errorf("merged alert = %+v", a)
		}
	}

	clk.Advance(6 * time.Minute)
	e.Raise(ctx, unknownOrigin("203.0.113.9"))
	list, _ = e.List(ctx, domain.Filter{Type: domain.TypeUnknownOrigin})
	if len(list) != 3 {
		t.Errorf("raise after the window should open a new alert, got %d", len(list))
	}
}

func TestEmitter_DedupDisabled(t *testing.T) {
	e, _, _ := newEmitter(0)
	ctx := context.Background()
	e.Raise(ctx, unknownOrigin("203.0.113.9"))
	e.Raise(ctx, unknownOrigin("203.0.113.9"))
	list, _ := e.List(ctx, domain.Filter{})
	if len(list) != 2 {
		t.Errorf("alerts = %d, want 2 with dedup disabled", len(list))
	}
}

func TestEmitter_ResolvedAlertsAreNotMerged(t *testing.T) {
	e, _, _ := newEmitter(time.Hour)
	ctx := context.Background()
	e.Raise(ctx, unknownOrigin("203.0.113.9"))
	list, _ := e.List(ctx, domain.Filter{})
	if err := e.Resolve(ctx, list[0].ID, "admin-1", "known travel"); err != nil {
		t.Fatal(err)
	}
	e.Raise(ctx, unknownOrigin("203.0.113.9"))

	open, _ := e.List(ctx, domain.Filter{UnresolvedOnly: true})
	if len(open) != 1 || open[0].ID == list[0].ID || open[0].Occurrences != 1 {
		t.Errorf("open alerts = %+v", open)
	}
	all, _ := e.List(ctx, domain.Filter{})
	for _, a := range all {
		if a.ID == list[0].ID && (!a.Resolved || a.ResolvedBy != "admin-1" || a.ResolvedAt == nil || a.ResolutionNotes != "known travel") {
			t.Errorf("resolved alert = %+v", a)
		}
	}
}

func TestEmitter_ResolveUnknown(t *testing.T) {
	e, _, _ := newEmitter(time.Minute)
	if err := e.Resolve(context.Background(), "missing", "admin", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestEmitter_FansOutToSinks(t *testing.T) {
	good := &captureSink{}
	bad := &captureSink{err: errors.New("kafka down")}
	e, _, _ := newEmitter(time.Minute, NamedSink{Name: "otel", Sink: good}, NamedSink{Name: "kafka", Sink: bad}, NamedSink{Name: "nil"})
	ctx := context.Background()
	e.Raise(ctx, unknownOrigin("203.0.113.9"))
	e.Raise(ctx, unknownOrigin("203.0.113.9"))
	if err := e.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if good.len() != 2 || bad.len() != 2 {
		t.Errorf("sink deliveries = %d, %d; want 2, 2", good.len(), bad.len())
	}
	good.mu.Lock()
	defer good.mu.Unlock()
	if good.alerts[1].Occurrences != 2 {
		t.Errorf("second publish should carry the merged count, got %d", good.alerts[1].Occurrences)
	}
}

func TestEmitter_StorageFailureIsContained(t *testing.T) {
	sink := &captureSink{}
	e := NewEmitter(failingRepo{repository.NewMemoryRepository()}, clock.NewFake(t0), time.Minute, nil,
		WithSinks(NamedSink{Name: "capture", Sink: sink}))
	e.Raise(context.Background(), unknownOrigin("203.0.113.9"))
	_ = e.Flush(context.Background())
	if sink.len() != 0 {
		t.Error("unpersisted alert should not be published")
	}
}

func TestEmitter_DefaultSeverity(t *testing.T) {
	e, _, _ := newEmitter(time.Minute)
	e.Raise(context.Background(), domain.Input{Type: domain.TypeSessionAnomaly, IdentityID: "x"})
	list, _ := e.List(context.Background(), domain.Filter{})
	if len(list) != 1 || list[0].Severity != domain.SeverityMedium {
		t.Errorf("alerts = %+v", list)
	}
}

func TestEmitter_ConcurrentRaisesMerge(t *testing.T) {
	e, _, _ := newEmitter(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Raise(context.Background(), unknownOrigin("203.0.113.9"))
		}()
	}
	wg.Wait()
	list, _ := e.List(context.Background(), domain.Filter{})
	if len(list) != 1 {
		t.Fatalf("alerts = %d, want 1", len(list))
	}
	if list[0].Occurrences != 20 {
		t.Errorf("occurrences = %d, want 20", list[0].Occurrences)
	}
}
