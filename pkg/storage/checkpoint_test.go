package storage

import (
	"context"
	"strings"
	"sync"
	"testing"
)

func TestMemoryCheckpoints(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCheckpoints()

	done, err := store.IsDone(ctx, "10", "a")
	if err != nil || done {
		t.Fatalf("expected fresh store to be empty, got %v %v", done, err)
	}

	var wg sync.WaitGroup
	for _, s := range []string{"10", "11", "12", "10"} {
		wg.Add(1)
		go func(subject string) {
			defer wg.Done()
			store.MarkDone(ctx, subject, "a")
		}(s)
	}
	wg.Wait()

	if store.Len() != 3 {
		t.Fatalf("expected 3 subjects, got %d", store.Len())
	}
	if done, _ := store.IsDone(ctx, "11", "a"); !done {
		t.Fatal("expected subject 11 to be done")
	}
	if done, _ := store.IsDone(ctx, "11", "b"); done {
		t.Fatal("expected a changed fingerprint to invalidate the checkpoint")
	}

	store.Forget(ctx, "10", "12")
	if done, _ := store.IsDone(ctx, "10", "a"); done {
		t.Fatal("expected forgotten subject to be pending")
	}
	if store.Len() != 1 {
		t.Fatalf("expected only subject 11 left, got %d", store.Len())
	}

	store.Reset(ctx)
	if done, _ := store.IsDone(ctx, "11", "a"); done {
		t.Fatal("expected reset to clear checkpoints")
	}
}

func TestScopedKey(t *testing.T) {
	a := ScopedKey("decompensation:validated", "/data/root")
	b := ScopedKey("decompensation:validated", "/data/root/")
	c := ScopedKey("decompensation:validated", "/data/other")
	if a != b {
		t.Fatalf("expected equivalent roots to share a key, got %s and %s", a, b)
	}
	if a == c {
		t.Fatal("expected different roots to get different keys")
	}
	if !strings.HasPrefix(a, "decompensation:validated:") {
		t.Fatalf("unexpected key %s", a)
	}
}

var _ CheckpointStore = (*RedisCheckpoints)(nil)
var _ CheckpointStore = (*MemoryCheckpoints)(nil)
