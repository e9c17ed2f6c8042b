// Package router executes a strategy decision against the backing stores:
// per-query parallel fan-out, per-store timeouts, fan-in, then merge,
// dedup, and rank. Partial results are acceptable; a totally failed pass
// degrades to an empty result set rather than an error, because the
// orchestrator must always have something to return.
package router

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/recallio/recall-go/core"
	"github.com/recallio/recall-go/stores"
)

// DefaultPriority ranks stores for merging: relational lookups are exact
// and cheapest, graph results are the noisiest.
var DefaultPriority = []string{
	stores.NameRelational,
	stores.NameVector,
	stores.NameGraph,
}

// Router fans search out across the configured stores. Stores arrive
// already decorated (per-store timeout, circuit breaker where wanted);
// the router composes them without store-specific conditionals.
type Router struct {
	vector     stores.Store
	graph      stores.Store
	relational stores.Store
	priority   map[string]int
	logger     *zap.Logger
}

// Option configures the router.
type Option func(*Router)

// WithPriority overrides the store merge priority, best first.
func WithPriority(order []string) Option {
	return func(r *Router) {
		r.priority = rankOf(order)
	}
}

// New creates a router over the three stores.
func New(vector, graph, relational stores.Store, logger *zap.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		vector:     vector,
		graph:      graph,
		relational: relational,
		priority:   rankOf(DefaultPriority),
		logger:     logger.Named("router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func rankOf(order []string) map[string]int {
	m := make(map[string]int, len(order))
	for i, name := range order {
		m[name] = i
	}
	return m
}

// storeHit is one (query, store) outcome on the fan-in channel.
type storeHit struct {
	query   string
	store   string
	results []core.SearchResult
	err     error
}

// Execute runs the decision's query set, bounded by its deadline.
//
// Every (query, store) pair runs in its own goroutine; a store that errors
// or times out is excluded from that query's results. Execute only errors
// when ctx itself is cancelled before any work happens; store failures,
// including all of them, degrade to an empty result set.
func (r *Router) Execute(ctx context.Context, d core.StrategyDecision) ([]core.SearchResult, error) {
	if len(d.Queries) == 0 || d.Depth == core.DepthNone {
		return nil, nil
	}

	userID := d.UserID
	targets := r.targets(d)
	if len(targets) == 0 {
		return nil, nil
	}

	if d.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Deadline)
		defer cancel()
	}

	ch := make(chan storeHit, len(d.Queries)*len(targets))
	var wg sync.WaitGroup

	start := time.Now()
	for _, query := range d.Queries {
		for _, st := range targets {
			wg.Add(1)
			go func(query string, st stores.Store) {
				defer wg.Done()
				results, err := st.Search(ctx, stores.Query{
					UserID: userID,
					Text:   query,
					Limit:  d.PerStoreLimit,
				})
				ch <- storeHit{query: query, store: st.Name(), results: results, err: err}
			}(query, st)
		}
	}

	go func() {
		wg.Wait()
		close(ch)
	}()

	perQueryFailures := make(map[string]int)
	var merged []core.SearchResult
	attempts, failures := 0, 0

	for hit := range ch {
		attempts++
		if hit.err != nil {
			failures++
			perQueryFailures[hit.query]++
			r.logger.Debug("store excluded from query",
				zap.String("store", hit.store),
				zap.String("query", hit.query),
				zap.Error(hit.err))
			if perQueryFailures[hit.query] == len(targets) {
				r.logger.Warn("all stores failed for query", zap.String("query", hit.query))
			}
			continue
		}
		merged = append(merged, hit.results...)
	}

	if failures == attempts && attempts > 0 {
		r.logger.Warn("retrieval pass failed entirely, returning empty context",
			zap.Int("queries", len(d.Queries)),
			zap.Duration("elapsed", time.Since(start)))
		return []core.SearchResult{}, nil
	}

	return r.rank(merged), nil
}

// targets picks the stores the decision wants.
func (r *Router) targets(d core.StrategyDecision) []stores.Store {
	var targets []stores.Store
	if d.UseRelational && r.relational != nil {
		targets = append(targets, r.relational)
	}
	if d.UseVector && r.vector != nil {
		targets = append(targets, r.vector)
	}
	if d.UseGraph && r.graph != nil {
		targets = append(targets, r.graph)
	}
	return targets
}

// rank dedups by memory ID and orders by (store priority, score, recency).
// Scores are never compared across stores, so no normalization is needed.
func (r *Router) rank(results []core.SearchResult) []core.SearchResult {
	best := make(map[string]core.SearchResult, len(results))
	for _, res := range results {
		prev, seen := best[res.MemoryID]
		if !seen || r.less(res, prev) {
			best[res.MemoryID] = res
		}
	}

	out := make([]core.SearchResult, 0, len(best))
	for _, res := range best {
		out = append(out, res)
	}
	sort.SliceStable(out, func(i, j int) bool { return r.less(out[i], out[j]) })
	return out
}

// less reports whether a should rank ahead of b.
func (r *Router) less(a, b core.SearchResult) bool {
	pa, pb := r.priority[a.SourceStore], r.priority[b.SourceStore]
	if pa != pb {
		return pa < pb
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.CreatedAt.After(b.CreatedAt)
}
