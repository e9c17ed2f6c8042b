package stores_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/recallio/recall-go/core"
	"github.com/recallio/recall-go/stores"
	"github.com/recallio/recall-go/stores/storetest"
)

func TestTimedStorePassesThrough(t *testing.T) {
	fake := storetest.New(stores.NameVector)
	fake.Seed(core.Memory{ID: "m1", UserID: "u1", Content: "likes hiking", CreatedAt: time.Now()})

	ts := stores.WithTimeout(fake, time.Second, nil)

	results, err := ts.Search(context.Background(), stores.Query{UserID: "u1", Text: "hiking"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].MemoryID != "m1" {
		t.Errorf("unexpected results: %v", results)
	}
}

func TestTimedStoreSearchTimeout(t *testing.T) {
	fake := storetest.New(stores.NameGraph)
	fake.SetLatency(500 * time.Millisecond)

	ts := stores.WithTimeout(fake, 50*time.Millisecond, nil)

	start := time.Now()
	_, err := ts.Search(context.Background(), stores.Query{UserID: "u1", Text: "anything"})
	elapsed := time.Since(start)

	if !errors.Is(err, core.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("timeout took %v, budget was 50ms", elapsed)
	}
}

func TestTimedStoreUpsertTimeout(t *testing.T) {
	fake := storetest.New(stores.NameRelational)
	fake.SetLatency(500 * time.Millisecond)

	ts := stores.WithTimeout(fake, 50*time.Millisecond, nil)

	err := ts.Upsert(context.Background(), core.Memory{ID: "m1", UserID: "u1", Content: "x"})
	if !errors.Is(err, core.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
