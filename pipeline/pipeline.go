// Package pipeline persists triaged memories across the backing stores.
// The relational store is the source of truth: a memory counts as accepted
// once its relational write lands, while vector and graph writes are
// best-effort copies that may lag or fail without rejecting the memory.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/recallio/recall-go/core"
	"github.com/recallio/recall-go/stores"
	"github.com/recallio/recall-go/stores/graph"
)

// DefaultDedupSize bounds the in-process dedup set. Entries past the bound
// fall back to the relational unique constraint, which catches duplicates
// the LRU has already evicted.
const DefaultDedupSize = 4096

// Linker records typed edges between memories. The graph store implements
// it; a nil linker disables edge creation.
type Linker interface {
	Link(ctx context.Context, userID, fromID, toID, rel string) error
}

// Invalidator drops a user's cached narrative when their memory set
// changes.
type Invalidator interface {
	Invalidate(userID string)
}

// Pipeline writes accepted memories to all three stores.
type Pipeline struct {
	vector     stores.Store
	graphStore stores.Store
	relational stores.Store

	linker      Linker
	invalidator Invalidator
	logger      *zap.Logger

	// seen is a bounded set of user+hash keys already accepted in this
	// process. It is an optimization; correctness rests on the
	// relational unique constraint.
	seen *lru.Cache[string, struct{}]

	// lastAccepted tracks the most recent memory per user so fresh
	// memories can be linked to their predecessor.
	mu           sync.Mutex
	lastAccepted map[string]string
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithLinker enables typed edge creation on accept.
func WithLinker(l Linker) Option {
	return func(p *Pipeline) { p.linker = l }
}

// WithInvalidator wires narrative invalidation on accept.
func WithInvalidator(inv Invalidator) Option {
	return func(p *Pipeline) { p.invalidator = inv }
}

// WithDedupSize overrides the dedup set bound.
func WithDedupSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			cache, err := lru.New[string, struct{}](n)
			if err == nil {
				p.seen = cache
			}
		}
	}
}

// New creates a write pipeline over the three stores.
func New(vector, graphStore, relational stores.Store, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	seen, _ := lru.New[string, struct{}](DefaultDedupSize)

	p := &Pipeline{
		vector:       vector,
		graphStore:   graphStore,
		relational:   relational,
		logger:       logger.Named("pipeline"),
		seen:         seen,
		lastAccepted: make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Accept persists a remembered triage decision for the user. It returns the
// durable memory, or a zero memory with ErrDuplicate when the content is
// already known, or an error when the relational write fails.
//
// Vector and graph writes run concurrently with the relational one; each
// store gets one retry. Their failures are logged, never surfaced: a memory
// missing from the vector index degrades recall quality, not correctness.
func (p *Pipeline) Accept(ctx context.Context, userID string, decision core.TriageDecision) (core.Memory, error) {
	if !decision.Remember {
		return core.Memory{}, fmt.Errorf("decision is not a remember: %w", core.ErrValidation)
	}
	if userID == "" || decision.CanonicalContent == "" {
		return core.Memory{}, fmt.Errorf("user and content required: %w", core.ErrValidation)
	}

	canonical := core.CanonicalizeContent(decision.CanonicalContent)
	hash := core.ContentHash(decision.CanonicalContent)
	key := userID + ":" + hash

	if _, dup := p.seen.Get(key); dup {
		return core.Memory{}, core.ErrDuplicate
	}

	mem := core.Memory{
		ID:               uuid.NewString(),
		UserID:           userID,
		Content:          decision.CanonicalContent,
		CanonicalContent: canonical,
		ContentHash:      hash,
		Tags:             decision.Tags,
		Source:           "conversation",
		CreatedAt:        time.Now().UTC(),
	}

	var wg sync.WaitGroup
	var relErr, vecErr, graphErr error

	wg.Add(3)
	go func() {
		defer wg.Done()
		relErr = p.writeOnce(ctx, p.relational, mem)
	}()
	go func() {
		defer wg.Done()
		vecErr = p.writeWithRetry(ctx, p.vector, mem)
	}()
	go func() {
		defer wg.Done()
		graphErr = p.writeWithRetry(ctx, p.graphStore, mem)
	}()
	wg.Wait()

	switch {
	case errors.Is(relErr, core.ErrDuplicate):
		// Concurrent submission of the same content; one relational row
		// exists, so the memory is durable. Treat as idempotent success
		// for the dedup set, but report the duplicate.
		p.seen.Add(key, struct{}{})
		return core.Memory{}, core.ErrDuplicate
	case relErr != nil:
		// Retry the authoritative write once before rejecting.
		if relErr = p.writeOnce(ctx, p.relational, mem); relErr != nil {
			if errors.Is(relErr, core.ErrDuplicate) {
				p.seen.Add(key, struct{}{})
				return core.Memory{}, core.ErrDuplicate
			}
			p.logger.Error("relational write failed, memory rejected",
				zap.String("user_id", userID), zap.Error(relErr))
			return core.Memory{}, fmt.Errorf("persist memory: %w", relErr)
		}
	}

	if vecErr != nil {
		p.logger.Warn("vector copy failed",
			zap.String("memory_id", mem.ID), zap.Error(vecErr))
	}
	if graphErr != nil {
		p.logger.Warn("graph copy failed",
			zap.String("memory_id", mem.ID), zap.Error(graphErr))
	}

	p.seen.Add(key, struct{}{})
	p.link(ctx, mem, graphErr == nil)

	if p.invalidator != nil {
		p.invalidator.Invalidate(userID)
	}

	p.logger.Debug("memory accepted",
		zap.String("memory_id", mem.ID),
		zap.String("user_id", userID),
		zap.String("priority", decision.Priority.String()))
	return mem, nil
}

// Forget soft-deletes the memory. The relational delete is authoritative;
// vector and graph removal is best-effort.
func (p *Pipeline) Forget(ctx context.Context, userID, memoryID string) error {
	if err := p.relational.Delete(ctx, userID, memoryID); err != nil {
		return fmt.Errorf("forget memory: %w", err)
	}

	if err := p.vector.Delete(ctx, userID, memoryID); err != nil {
		p.logger.Warn("vector delete failed",
			zap.String("memory_id", memoryID), zap.Error(err))
	}
	if err := p.graphStore.Delete(ctx, userID, memoryID); err != nil {
		p.logger.Warn("graph delete failed",
			zap.String("memory_id", memoryID), zap.Error(err))
	}

	if p.invalidator != nil {
		p.invalidator.Invalidate(userID)
	}
	return nil
}

// link connects the fresh memory to the user's previous one. Edges only
// make sense when the graph copy landed.
func (p *Pipeline) link(ctx context.Context, mem core.Memory, graphOK bool) {
	p.mu.Lock()
	prev := p.lastAccepted[mem.UserID]
	p.lastAccepted[mem.UserID] = mem.ID
	p.mu.Unlock()

	if p.linker == nil || !graphOK || prev == "" {
		return
	}
	if err := p.linker.Link(ctx, mem.UserID, prev, mem.ID, graph.RelPrecedes); err != nil {
		p.logger.Debug("link failed",
			zap.String("from", prev), zap.String("to", mem.ID), zap.Error(err))
	}
}

func (p *Pipeline) writeOnce(ctx context.Context, st stores.Store, mem core.Memory) error {
	return st.Upsert(ctx, mem)
}

// writeWithRetry tries the write twice. One retry covers the transient
// failures worth covering; anything persistent is logged by the caller.
func (p *Pipeline) writeWithRetry(ctx context.Context, st stores.Store, mem core.Memory) error {
	err := st.Upsert(ctx, mem)
	if err == nil || ctx.Err() != nil {
		return err
	}
	return st.Upsert(ctx, mem)
}
