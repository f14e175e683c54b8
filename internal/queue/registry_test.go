package queue

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryRegistryClaimIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry(DefaultRetention())

	first, _ := r.Claim(ctx, "c1:r1")
	second, _ := r.Claim(ctx, "c1:r1")
	if !first || second {
		t.Fatalf("expected only the first claim to succeed, got %v %v", first, second)
	}

	for _, state := range []string{StateActive, StateDelayed} {
		r.SetState(ctx, "c1:r1", state)
		if ok, _ := r.Claim(ctx, "c1:r1"); ok {
			t.Errorf("claim must be a no-op while %s", state)
		}
	}
}

func TestMemoryRegistryRetentionWindows(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewMemoryRegistry(DefaultRetention())
	r.now = func() time.Time { return now }

	r.Claim(ctx, "done")
	r.Complete(ctx, "done")
	r.Claim(ctx, "dead")
	r.Fail(ctx, "dead")

	now = now.Add(30 * time.Minute)
	if ok, _ := r.Claim(ctx, "done"); ok {
		t.Fatalf("completed key must block re-enqueue inside its window")
	}

	now = now.Add(time.Hour)
	if ok, _ := r.Claim(ctx, "done"); !ok {
		t.Fatalf("completed key must expire after 1h")
	}
	if ok, _ := r.Claim(ctx, "dead"); ok {
		t.Fatalf("failed key is retained for 24h")
	}

	now = now.Add(24 * time.Hour)
	if r.State("dead") != "" {
		t.Fatalf("failed key must be purged after 24h")
	}
}

func TestMemoryRegistryKeepsMostRecentCompleted(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	ret := DefaultRetention()
	ret.CompletedKeep = 3
	r := NewMemoryRegistry(ret)
	r.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		now = now.Add(time.Second)
		key := fmt.Sprintf("c:%d", i)
		r.Claim(ctx, key)
		r.Complete(ctx, key)
	}

	_, completed, _, _ := r.Counts(ctx)
	if completed != 3 {
		t.Fatalf("expected 3 retained, got %d", completed)
	}
	if r.State("c:0") != "" || r.State("c:4") != StateCompleted {
		t.Errorf("expected the oldest completions to be trimmed")
	}
}

func TestMemoryRegistryRelease(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry(DefaultRetention())
	r.Claim(ctx, "k")
	r.SetState(ctx, "k", StateActive)
	r.Release(ctx, "k")
	if ok, _ := r.Claim(ctx, "k"); !ok {
		t.Fatalf("released key must be claimable again")
	}
}
