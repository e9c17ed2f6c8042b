package narrative

import (
	"testing"
	"time"
)

func mustCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestPutGet(t *testing.T) {
	c := mustCache(t, Config{})

	c.Put("user1", "Prefers dark mode. Has a dog named Rex.", 0)

	entry, ok := c.Get("user1")
	if !ok {
		t.Fatal("expected cache hit after Put")
	}
	if entry.Narrative != "Prefers dark mode. Has a dog named Rex." {
		t.Errorf("unexpected narrative: %q", entry.Narrative)
	}
	if entry.ComputedAt.IsZero() {
		t.Error("ComputedAt should be set")
	}

	if _, ok := c.Get("user2"); ok {
		t.Error("unexpected hit for unknown user")
	}
}

func TestInvalidate(t *testing.T) {
	c := mustCache(t, Config{})

	c.Put("user1", "narrative", 0)
	c.Invalidate("user1")

	if _, ok := c.Get("user1"); ok {
		t.Error("expected miss after Invalidate")
	}
}

func TestTTLExpiry(t *testing.T) {
	c := mustCache(t, Config{})

	c.Put("user1", "short-lived", 30*time.Millisecond)

	if _, ok := c.Get("user1"); !ok {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(80 * time.Millisecond)

	if _, ok := c.Get("user1"); ok {
		t.Error("expected miss after TTL expiry")
	}
}
