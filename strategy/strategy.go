// Package strategy chooses how much context retrieval a message deserves.
// The planner is a small state machine over conversation state, optionally
// consulting a reasoner to expand the query set. The reasoner call runs
// under a short fixed budget; when it is slow or fails the planner falls
// back deterministically rather than failing the request.
package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/recallio/recall-go/classify"
	"github.com/recallio/recall-go/core"
	"github.com/recallio/recall-go/narrative"
	"github.com/recallio/recall-go/reason"
)

// Budgets fixes the per-depth deadlines and result caps.
type Budgets struct {
	RelevantDeadline      time.Duration
	DeepDeadline          time.Duration
	ComprehensiveDeadline time.Duration

	RelevantLimit      int
	DeepLimit          int
	ComprehensiveLimit int

	// ReasonerTimeout bounds the query-expansion call.
	ReasonerTimeout time.Duration
}

// DefaultBudgets returns the standard budgets.
func DefaultBudgets() Budgets {
	return Budgets{
		RelevantDeadline:      3 * time.Second,
		DeepDeadline:          8 * time.Second,
		ComprehensiveDeadline: 18 * time.Second,
		RelevantLimit:         15,
		DeepLimit:             40,
		ComprehensiveLimit:    80,
		ReasonerTimeout:       1500 * time.Millisecond,
	}
}

// exhaustive phrases that push a continuing conversation to the
// comprehensive depth.
var exhaustivePhrases = []string{
	"tell me everything",
	"everything you know",
	"everything you remember",
	"all my memories",
	"full history",
}

// Planner decides retrieval depth and builds the query set.
type Planner struct {
	classifier *classify.Classifier
	reasoner   reason.Reasoner
	cache      *narrative.Cache
	budgets    Budgets
	logger     *zap.Logger
}

// Option configures the planner.
type Option func(*Planner)

// WithReasoner enables reasoner-assisted query expansion.
func WithReasoner(r reason.Reasoner) Option {
	return func(p *Planner) {
		p.reasoner = r
	}
}

// WithBudgets overrides the default budgets.
func WithBudgets(b Budgets) Option {
	return func(p *Planner) {
		p.budgets = b
	}
}

// New creates a planner. cache may be nil, in which case every new
// conversation plans a deep pass.
func New(classifier *classify.Classifier, cache *narrative.Cache, logger *zap.Logger, opts ...Option) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Planner{
		classifier: classifier,
		cache:      cache,
		budgets:    DefaultBudgets(),
		logger:     logger.Named("strategy"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan maps conversation state to a strategy decision.
//
// New conversation with a warm narrative cache serves the narrative with no
// store access. A cold cache plans a deep pass. Continuing conversations
// retrieve nothing unless context is needed, then plan a relevant pass, or
// a comprehensive one when the user explicitly asks for exhaustive recall.
func (p *Planner) Plan(ctx context.Context, state core.ConversationState, message string) (core.StrategyDecision, error) {
	if strings.TrimSpace(message) == "" {
		return core.StrategyDecision{}, fmt.Errorf("empty message: %w", core.ErrValidation)
	}

	if state.IsNewConversation {
		if p.cache != nil {
			if entry, ok := p.cache.Get(state.UserID); ok {
				return core.StrategyDecision{
					UserID:    state.UserID,
					Depth:     core.DepthNone,
					Narrative: entry.Narrative,
				}, nil
			}
		}
		return p.decide(ctx, state.UserID, core.DepthDeep, message), nil
	}

	if !state.NeedsContext {
		return core.StrategyDecision{UserID: state.UserID, Depth: core.DepthNone}, nil
	}

	if isExhaustiveRequest(message) {
		return p.decide(ctx, state.UserID, core.DepthComprehensive, message), nil
	}
	return p.decide(ctx, state.UserID, core.DepthRelevant, message), nil
}

// decide fills in routing, queries, caps and deadline for a chosen depth.
func (p *Planner) decide(ctx context.Context, userID string, depth core.Depth, message string) core.StrategyDecision {
	routing := p.classifier.ClassifyContext(ctx, message)

	d := core.StrategyDecision{
		UserID:  userID,
		Depth:   depth,
		Routing: routing,
		Queries: p.querySet(ctx, depth, message),
	}

	switch depth {
	case core.DepthRelevant:
		d.PerStoreLimit = p.budgets.RelevantLimit
		d.Deadline = p.budgets.RelevantDeadline
		d.UseVector, d.UseGraph, d.UseRelational = classify.StoresFor(routing)
	case core.DepthDeep:
		d.PerStoreLimit = p.budgets.DeepLimit
		d.Deadline = p.budgets.DeepDeadline
		d.UseVector, d.UseGraph, d.UseRelational = true, true, true
	case core.DepthComprehensive:
		d.PerStoreLimit = p.budgets.ComprehensiveLimit
		d.Deadline = p.budgets.ComprehensiveDeadline
		d.UseVector, d.UseGraph, d.UseRelational = true, true, true
	}
	return d
}

// querySet builds the queries for a depth, asking the reasoner to expand
// where the depth wants more than the message itself. Failure or slowness
// degrades to the deterministic set.
func (p *Planner) querySet(ctx context.Context, depth core.Depth, message string) []string {
	want := 0
	switch depth {
	case core.DepthRelevant:
		want = 3
	case core.DepthDeep:
		want = 8
	case core.DepthComprehensive:
		want = 12
	default:
		return nil
	}

	queries := []string{message}
	if p.reasoner != nil {
		expanded, err := p.expand(ctx, message, want-1)
		if err != nil {
			p.logger.Debug("query expansion failed, using deterministic set", zap.Error(err))
		} else {
			queries = append(queries, expanded...)
		}
	}

	// Pad deep and comprehensive passes with facet probes so a cold
	// start still sweeps the whole store.
	if depth != core.DepthRelevant {
		for _, probe := range facetProbes {
			if len(queries) >= want {
				break
			}
			queries = append(queries, probe)
		}
	}

	return dedupeQueries(queries, want)
}

var facetProbes = []string{
	"preferences and habits",
	"important personal facts",
	"family friends and relationships",
	"work and projects",
	"recent events and plans",
	"health and routines",
	"places lived and visited",
	"likes and dislikes",
	"goals and intentions",
	"possessions and pets",
	"dates and anniversaries",
}

// expand asks the reasoner for up to n additional search queries.
func (p *Planner) expand(ctx context.Context, message string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.budgets.ReasonerTimeout)
	defer cancel()

	answer, err := p.reasoner.Classify(ctx, expansionPrompt(message, n))
	if err != nil {
		return nil, err
	}

	start := strings.Index(answer, "[")
	end := strings.LastIndex(answer, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in expansion response")
	}

	var queries []string
	if err := json.Unmarshal([]byte(answer[start:end+1]), &queries); err != nil {
		return nil, fmt.Errorf("decode expansion: %w", err)
	}
	if len(queries) > n {
		queries = queries[:n]
	}
	return queries, nil
}

func expansionPrompt(message string, n int) string {
	return fmt.Sprintf(`Generate up to %d short search queries over a personal memory store that
would surface context relevant to this message. Respond with a JSON array
of strings only.

Message: %s`, n, message)
}

func isExhaustiveRequest(message string) bool {
	lower := strings.ToLower(message)
	for _, phrase := range exhaustivePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func dedupeQueries(queries []string, max int) []string {
	seen := make(map[string]bool, len(queries))
	out := queries[:0]
	for _, q := range queries {
		q = strings.TrimSpace(q)
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) == max {
			break
		}
	}
	return out
}
