package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"interactive-report-service/internal/docstore"
)

func TestDocStoreMergeAndGet(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewDocStore(newClient(mr), 10)
	ctx := context.Background()

	if err := store.Set(ctx, docstore.Interactions, "q1", docstore.Document{
		"total_votes": 1,
		"options":     docstore.Document{"a": 1},
	}, docstore.SetOptions{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, docstore.Interactions, "q1", docstore.Document{
		"options": docstore.Document{"b": 1},
	}, docstore.SetOptions{Merge: true}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	snap, err := store.Get(ctx, docstore.Interactions, "q1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	opts := docstore.Sub(snap.Data, "options")
	if docstore.Int(snap.Data["total_votes"]) != 1 || docstore.Int(opts["a"]) != 1 || docstore.Int(opts["b"]) != 1 {
		t.Fatalf("unexpected document %v", snap.Data)
	}
	if !mr.Exists("doc:interactions:q1") {
		t.Fatalf("expected redis key doc:interactions:q1")
	}

	missing, err := store.Get(ctx, docstore.Interactions, "nope")
	if err != nil || missing.Exists {
		t.Fatalf("expected missing snapshot, got %+v err=%v", missing, err)
	}
}

func TestDocStoreConcurrentIncrementsAreNotLost(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	const writers = 8
	store := NewDocStore(newClient(mr), writers*4)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.RunTransaction(ctx, func(_ context.Context, tx docstore.Tx) error {
				snap, err := tx.Get("counters", "c")
				if err != nil {
					return err
				}
				return tx.Set("counters", "c", docstore.Document{"n": docstore.Int(snap.Data["n"]) + 1}, docstore.SetOptions{Merge: true})
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("transaction failed: %v", err)
		}
	}

	snap, _ := store.Get(ctx, "counters", "c")
	if got := docstore.Int(snap.Data["n"]); got != writers {
		t.Fatalf("expected %d increments, got %d", writers, got)
	}
}

func TestDocStoreSubscribePublishesCommits(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewDocStore(newClient(mr), 10)
	ctx := context.Background()

	updates := make(chan docstore.Snapshot, 8)
	unsubscribe, err := store.Subscribe(ctx, docstore.Interactions, "q1", func(s docstore.Snapshot) { updates <- s })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	if initial := nextSnapshot(t, updates); initial.Exists {
		t.Fatalf("expected initial missing snapshot")
	}

	if err := store.Set(ctx, docstore.Interactions, "q1", docstore.Document{"total_votes": 3}, docstore.SetOptions{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	changed := nextSnapshot(t, updates)
	if !changed.Exists || docstore.Int(changed.Data["total_votes"]) != 3 {
		t.Fatalf("expected published change, got %+v", changed)
	}
}

func nextSnapshot(t *testing.T, ch <-chan docstore.Snapshot) docstore.Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
	}
	return docstore.Snapshot{}
}
