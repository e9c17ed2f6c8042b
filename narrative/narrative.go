// Package narrative caches a synthesized per-user narrative: a compact
// prose summary of what the system knows about the user. The fast path
// reads it on new-conversation starts; only the background synthesis path
// writes it. A fresh memory write invalidates the entry so the next
// conversation start regenerates it.
package narrative

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// DefaultTTL is how long a synthesized narrative stays servable.
const DefaultTTL = 7 * 24 * time.Hour

// Entry is one cached narrative.
type Entry struct {
	UserID     string
	Narrative  string
	ComputedAt time.Time
	TTL        time.Duration
}

// Cache is a TTL-bounded narrative cache over ristretto. Multiple fast-path
// readers and the single background writer may touch a user concurrently;
// ristretto handles the synchronization.
type Cache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// Config tunes the cache.
type Config struct {
	// MaxEntries caps roughly how many narratives are kept.
	MaxEntries int64

	// TTL is the default entry lifetime used when Put receives a
	// non-positive ttl.
	TTL time.Duration
}

// New creates a narrative cache.
func New(cfg Config) (*Cache, error) {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &Cache{cache: cache, ttl: ttl}, nil
}

// Get returns the cached entry for the user, if present and unexpired.
func (c *Cache) Get(userID string) (Entry, bool) {
	v, ok := c.cache.Get(userID)
	if !ok {
		return Entry{}, false
	}
	entry, ok := v.(Entry)
	return entry, ok
}

// Put stores a freshly synthesized narrative. A non-positive ttl uses the
// cache default. The write is flushed before returning so a Put is
// immediately visible to readers.
func (c *Cache) Put(userID, text string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.cache.SetWithTTL(userID, Entry{
		UserID:     userID,
		Narrative:  text,
		ComputedAt: time.Now(),
		TTL:        ttl,
	}, 1, ttl)
	c.cache.Wait()
}

// Invalidate drops the user's entry. Called whenever a new memory is
// durably accepted, so the next conversation start regenerates.
func (c *Cache) Invalidate(userID string) {
	c.cache.Del(userID)
}

// Close releases the cache.
func (c *Cache) Close() {
	c.cache.Close()
}
