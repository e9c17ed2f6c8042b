package core

import (
	"time"
)

// Memory is a durable, user-owned memory record. Once accepted by the write
// pipeline it is immutable except for soft deletion.
type Memory struct {
	// ID uniquely identifies the memory.
	ID string `json:"id"`

	// UserID is the owner. Memories are never visible across users.
	UserID string `json:"user_id"`

	// Content is the raw text the memory was created from.
	Content string `json:"content"`

	// CanonicalContent is the normalized form extracted at triage time.
	// The dedup key is computed over this field, not Content.
	CanonicalContent string `json:"canonical_content"`

	// ContentHash is the dedup key over CanonicalContent.
	// No two memories for the same user share the same hash.
	ContentHash string `json:"content_hash"`

	// Tags are optional labels extracted at triage time.
	Tags []string `json:"tags,omitempty"`

	// Source records where the memory came from (e.g. "conversation").
	Source string `json:"source,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// DeletedAt is set on soft delete. Deleted memories are excluded
	// from search but kept for audit.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// SearchResult is a single hit from one backing store. Results are
// query-scoped and never persisted.
type SearchResult struct {
	MemoryID    string            `json:"memory_id"`
	Content     string            `json:"content"`
	Score       float64           `json:"score"`
	SourceStore string            `json:"source_store"`
	CreatedAt   time.Time         `json:"created_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ContextResult is the caller-visible outcome of ProcessMessage.
// An empty ContextText is valid and means no relevant context was found
// or none was needed.
type ContextResult struct {
	ContextText  string `json:"context_text"`
	StrategyUsed string `json:"strategy_used"`
}

// TriageDecision is the outcome of classifying whether a message is worth
// remembering. It is consumed immediately by the write pipeline.
type TriageDecision struct {
	Remember         bool     `json:"remember"`
	CanonicalContent string   `json:"canonical_content"`
	Tags             []string `json:"tags,omitempty"`
	Priority         Priority `json:"priority"`
}

// Priority ranks how important a remembered fact is.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// RoutingClass classifies a query to pick which stores to consult.
type RoutingClass int

const (
	// RouteFactual is an exact lookup; relational store only.
	RouteFactual RoutingClass = iota

	// RouteSemantic is a similarity query; vector store.
	RouteSemantic

	// RouteRelational asks about relationships; vector plus graph.
	RouteRelational

	// RouteTemporal asks about time or sequence; vector plus graph.
	RouteTemporal

	// RouteComplex needs everything; all three stores.
	RouteComplex
)

func (r RoutingClass) String() string {
	switch r {
	case RouteFactual:
		return "factual"
	case RouteSemantic:
		return "semantic"
	case RouteRelational:
		return "relational"
	case RouteTemporal:
		return "temporal"
	case RouteComplex:
		return "complex"
	default:
		return "unknown"
	}
}

// Depth is the chosen thoroughness level of context retrieval.
type Depth int

const (
	// DepthNone skips retrieval entirely.
	DepthNone Depth = iota

	// DepthRelevant runs 1-3 targeted queries under a tight deadline.
	DepthRelevant

	// DepthDeep runs 5-10 queries across all applicable stores and
	// triggers graph traversal. Used on cold conversation starts.
	DepthDeep

	// DepthComprehensive is the exhaustive-recall mode. Never chosen on
	// the fast path unless the user explicitly asks for everything.
	DepthComprehensive
)

func (d Depth) String() string {
	switch d {
	case DepthNone:
		return "none"
	case DepthRelevant:
		return "relevant"
	case DepthDeep:
		return "deep"
	case DepthComprehensive:
		return "comprehensive"
	default:
		return "unknown"
	}
}

// StrategyDecision is produced once per incoming message and consumed by the
// search router, then discarded.
type StrategyDecision struct {
	// UserID scopes every query the decision spawns.
	UserID string

	Depth         Depth
	Queries       []string
	Routing       RoutingClass
	UseVector     bool
	UseGraph      bool
	UseRelational bool

	// PerStoreLimit caps results per store per query.
	PerStoreLimit int

	// Deadline bounds the whole retrieval pass.
	Deadline time.Duration

	// Narrative, when non-empty, short-circuits retrieval: the cached
	// per-user narrative is served directly.
	Narrative string
}

// ConversationState describes where the caller is in a conversation.
type ConversationState struct {
	UserID            string
	IsNewConversation bool
	NeedsContext      bool
}
