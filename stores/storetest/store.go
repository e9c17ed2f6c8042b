// Package storetest provides an in-memory Store fake with failure and
// latency injection for exercising the router and pipeline without real
// backing databases.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/recallio/recall-go/core"
	"github.com/recallio/recall-go/stores"
)

// Fake is an in-memory Store. Matching is naive substring search over
// content, which is enough to drive router and pipeline scenarios.
type Fake struct {
	name string

	mu       sync.Mutex
	mems     map[string]core.Memory // keyed by userID+"/"+id
	searches int
	upserts  int
	deletes  int

	failSearch     error
	failUpsert     error
	failUpsertOnce bool
	latency        time.Duration
}

var _ stores.Store = (*Fake)(nil)

// New creates a fake store reporting the given name.
func New(name string) *Fake {
	return &Fake{
		name: name,
		mems: make(map[string]core.Memory),
	}
}

func (f *Fake) Name() string { return f.name }

// FailSearches makes every Search return err (nil restores success).
func (f *Fake) FailSearches(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSearch = err
}

// FailUpserts makes Upsert return err; if once is set only the next
// upsert fails.
func (f *Fake) FailUpserts(err error, once bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUpsert = err
	f.failUpsertOnce = once
}

// SetLatency delays every call by d. The context deadline still wins.
func (f *Fake) SetLatency(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency = d
}

// Searches reports how many Search calls were made.
func (f *Fake) Searches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searches
}

// Upserts reports how many Upsert calls were made.
func (f *Fake) Upserts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

// Memories returns a snapshot of stored memories for the user, oldest first.
func (f *Fake) Memories(userID string) []core.Memory {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []core.Memory
	for key, m := range f.mems {
		if strings.HasPrefix(key, userID+"/") {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Seed inserts a memory directly, bypassing counters.
func (f *Fake) Seed(mem core.Memory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mems[mem.UserID+"/"+mem.ID] = mem
}

func (f *Fake) wait(ctx context.Context) error {
	f.mu.Lock()
	d := f.latency
	f.mu.Unlock()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

func (f *Fake) Search(ctx context.Context, q stores.Query) ([]core.SearchResult, error) {
	f.mu.Lock()
	f.searches++
	failErr := f.failSearch
	f.mu.Unlock()

	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if failErr != nil {
		return nil, failErr
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	terms := strings.Fields(strings.ToLower(q.Text))
	var results []core.SearchResult
	for key, m := range f.mems {
		if !strings.HasPrefix(key, q.UserID+"/") || m.DeletedAt != nil {
			continue
		}
		content := strings.ToLower(m.Content)
		score := 0.0
		for _, term := range terms {
			if strings.Contains(content, term) {
				score++
			}
		}
		if len(terms) > 0 && score == 0 {
			continue
		}
		results = append(results, core.SearchResult{
			MemoryID:    m.ID,
			Content:     m.Content,
			Score:       score,
			SourceStore: f.name,
			CreatedAt:   m.CreatedAt,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (f *Fake) Upsert(ctx context.Context, mem core.Memory) error {
	f.mu.Lock()
	f.upserts++
	failErr := f.failUpsert
	if failErr != nil && f.failUpsertOnce {
		f.failUpsert = nil
		f.failUpsertOnce = false
	}
	f.mu.Unlock()

	if err := f.wait(ctx); err != nil {
		return err
	}
	if failErr != nil {
		return failErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Mirror the relational store's unique content constraint: a second
	// memory with the same user and content hash is rejected as a
	// duplicate, not overwritten.
	if mem.ContentHash != "" {
		for key, existing := range f.mems {
			if strings.HasPrefix(key, mem.UserID+"/") &&
				existing.ID != mem.ID &&
				existing.ContentHash == mem.ContentHash {
				return core.ErrDuplicate
			}
		}
	}

	f.mems[mem.UserID+"/"+mem.ID] = mem
	return nil
}

func (f *Fake) Get(ctx context.Context, userID, memoryID string) (core.Memory, error) {
	if err := f.wait(ctx); err != nil {
		return core.Memory{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.mems[userID+"/"+memoryID]
	if !ok {
		return core.Memory{}, fmt.Errorf("memory %s not found", memoryID)
	}
	return m, nil
}

func (f *Fake) Delete(ctx context.Context, userID, memoryID string) error {
	if err := f.wait(ctx); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	delete(f.mems, userID+"/"+memoryID)
	return nil
}

func (f *Fake) Close() error { return nil }
