package repository

import (
	"context"
	"testing"
	"time"

	"authguard/internal/loginattempt/domain"
)

func TestMemoryRepository_ListByIdentifier_NewestFirst(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "a", "a"} {
		_ = r.Append(ctx, &domain.Attempt{ID: string(rune('1' + i)), Identifier: id, CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}
	got, err := r.ListByIdentifier(ctx, "a", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "4" || got[1].ID != "3" {
		t.Fatalf("got %d attempts, first=%v", len(got), got)
	}
	all, _ := r.ListByIdentifier(ctx, "a", 0)
	if len(all) != 3 {
		t.Errorf("unlimited list len = %d, want 3", len(all))
	}
}
