package stores_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/recallio/recall-go/core"
	"github.com/recallio/recall-go/stores"
	"github.com/recallio/recall-go/stores/storetest"
)

func testBreakerConfig() stores.BreakerConfig {
	return stores.BreakerConfig{
		ConsecutiveFailures: 3,
		Interval:            time.Minute,
		Cooldown:            time.Minute,
		MaxProbeRequests:    1,
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	fake := storetest.New(stores.NameGraph)
	fake.FailSearches(errors.New("traversal timeout"))

	bs := stores.WithBreaker(fake, testBreakerConfig(), nil)

	for i := 0; i < 3; i++ {
		if _, err := bs.Search(context.Background(), stores.Query{UserID: "u1", Text: "q"}); err == nil {
			t.Fatal("expected failure")
		}
	}

	if bs.State() != gobreaker.StateOpen {
		t.Fatalf("breaker should be open after 3 failures, state=%v", bs.State())
	}

	// Open circuit rejects without touching the store.
	before := fake.Searches()
	_, err := bs.Search(context.Background(), stores.Query{UserID: "u1", Text: "q"})
	if err == nil {
		t.Fatal("expected open-circuit rejection")
	}
	if fake.Searches() != before {
		t.Errorf("open breaker must not call the store, got %d extra calls", fake.Searches()-before)
	}
}

func TestBreakerRecoversAfterCooldown(t *testing.T) {
	fake := storetest.New(stores.NameGraph)
	fake.FailSearches(errors.New("down"))

	cfg := testBreakerConfig()
	cfg.Cooldown = 50 * time.Millisecond
	bs := stores.WithBreaker(fake, cfg, nil)

	for i := 0; i < 3; i++ {
		bs.Search(context.Background(), stores.Query{UserID: "u1", Text: "q"})
	}
	if bs.State() != gobreaker.StateOpen {
		t.Fatalf("breaker should be open, state=%v", bs.State())
	}

	fake.FailSearches(nil)
	time.Sleep(80 * time.Millisecond)

	// Half-open probe succeeds and closes the circuit.
	if _, err := bs.Search(context.Background(), stores.Query{UserID: "u1", Text: "q"}); err != nil {
		t.Fatalf("probe should succeed: %v", err)
	}
	if bs.State() != gobreaker.StateClosed {
		t.Errorf("breaker should close after a successful probe, state=%v", bs.State())
	}
}

func TestBreakerWritesBypass(t *testing.T) {
	fake := storetest.New(stores.NameGraph)
	fake.FailSearches(errors.New("down"))

	bs := stores.WithBreaker(fake, testBreakerConfig(), nil)

	for i := 0; i < 5; i++ {
		bs.Search(context.Background(), stores.Query{UserID: "u1", Text: "q"})
	}

	err := bs.Upsert(context.Background(), core.Memory{ID: "m1", UserID: "u1", Content: "x", CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("writes must bypass an open breaker: %v", err)
	}
	if fake.Upserts() != 1 {
		t.Errorf("expected the upsert to reach the store, got %d", fake.Upserts())
	}
}
