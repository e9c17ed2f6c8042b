// Package stores defines the uniform client interface over the three
// heterogeneous backing stores (vector, graph, relational) and the
// decorators the search router composes around them.
package stores

import (
	"context"

	"github.com/recallio/recall-go/core"
)

// Store names as reported by SearchResult.SourceStore.
const (
	NameVector     = "vector"
	NameGraph      = "graph"
	NameRelational = "relational"
)

// Query is one search request against a single store.
type Query struct {
	// UserID scopes the search. Required.
	UserID string

	// Text is the query text.
	Text string

	// Limit caps the number of results. Implementations treat a
	// non-positive limit as a small default.
	Limit int

	// Tags optionally restricts results to memories carrying any of
	// these tags. Stores without tag support ignore it.
	Tags []string
}

// Store is the uniform interface each backing database adapter implements.
// All methods are cancellable via ctx and must return promptly once the
// context is done.
type Store interface {
	// Name identifies the store ("vector", "graph", "relational").
	Name() string

	// Search returns matching memories, best first.
	Search(ctx context.Context, q Query) ([]core.SearchResult, error)

	// Upsert writes or overwrites a memory record.
	Upsert(ctx context.Context, mem core.Memory) error

	// Get fetches one memory by ID.
	Get(ctx context.Context, userID, memoryID string) (core.Memory, error)

	// Delete removes a memory. Relational implementations soft-delete;
	// others delete outright.
	Delete(ctx context.Context, userID, memoryID string) error

	// Close releases resources.
	Close() error
}
