package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/recallio/recall-go/classify"
	"github.com/recallio/recall-go/core"
	"github.com/recallio/recall-go/narrative"
	"github.com/recallio/recall-go/reason"
)

func newPlanner(t *testing.T, cache *narrative.Cache, opts ...Option) *Planner {
	t.Helper()
	return New(classify.New(zap.NewNop()), cache, zap.NewNop(), opts...)
}

func newCache(t *testing.T) *narrative.Cache {
	t.Helper()
	c, err := narrative.New(narrative.Config{})
	if err != nil {
		t.Fatalf("narrative.New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestPlanNewConversationWarmCache(t *testing.T) {
	cache := newCache(t)
	cache.Put("user1", "Likes hiking. Allergic to peanuts.", 0)

	p := newPlanner(t, cache)

	d, err := p.Plan(context.Background(), core.ConversationState{
		UserID:            "user1",
		IsNewConversation: true,
	}, "hi there")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if d.Depth != core.DepthNone {
		t.Errorf("warm cache should plan depth none, got %s", d.Depth)
	}
	if d.Narrative == "" {
		t.Error("warm cache should carry the narrative")
	}
}

func TestPlanNewConversationColdCache(t *testing.T) {
	p := newPlanner(t, newCache(t))

	d, err := p.Plan(context.Background(), core.ConversationState{
		UserID:            "user1",
		IsNewConversation: true,
	}, "hello, first time here")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if d.Depth != core.DepthDeep {
		t.Errorf("cold cache should plan deep, got %s", d.Depth)
	}
	if !d.UseVector || !d.UseGraph || !d.UseRelational {
		t.Error("deep pass should consult all stores")
	}
	if len(d.Queries) < 5 {
		t.Errorf("deep pass should carry several queries, got %d", len(d.Queries))
	}
	if d.Deadline != DefaultBudgets().DeepDeadline {
		t.Errorf("unexpected deadline %v", d.Deadline)
	}
}

func TestPlanContinuingNoContext(t *testing.T) {
	p := newPlanner(t, newCache(t))

	d, err := p.Plan(context.Background(), core.ConversationState{UserID: "u"}, "just chatting")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if d.Depth != core.DepthNone {
		t.Errorf("needsContext=false should plan none, got %s", d.Depth)
	}
	if len(d.Queries) != 0 {
		t.Error("depth none should carry no queries")
	}
}

func TestPlanContinuingNeedsContext(t *testing.T) {
	p := newPlanner(t, newCache(t))

	d, err := p.Plan(context.Background(), core.ConversationState{
		UserID:       "u",
		NeedsContext: true,
	}, "What's my dog's name?")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if d.Depth != core.DepthRelevant {
		t.Errorf("expected relevant depth, got %s", d.Depth)
	}
	if d.Routing != core.RouteFactual {
		t.Errorf("expected factual routing, got %s", d.Routing)
	}
	if d.UseVector || d.UseGraph || !d.UseRelational {
		t.Error("factual relevant pass should consult the relational store only")
	}
	if n := len(d.Queries); n < 1 || n > 3 {
		t.Errorf("relevant pass should carry 1-3 queries, got %d", n)
	}
}

func TestPlanExhaustiveRecall(t *testing.T) {
	p := newPlanner(t, newCache(t))

	d, err := p.Plan(context.Background(), core.ConversationState{
		UserID:       "u",
		NeedsContext: true,
	}, "Please tell me everything you know about me")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if d.Depth != core.DepthComprehensive {
		t.Errorf("expected comprehensive depth, got %s", d.Depth)
	}
	if len(d.Queries) < 10 {
		t.Errorf("comprehensive pass should carry 10+ queries, got %d", len(d.Queries))
	}
}

func TestPlanReasonerExpansion(t *testing.T) {
	stub := reason.NewStub()
	stub.Default = `["dog name", "pets owned"]`

	p := newPlanner(t, newCache(t), WithReasoner(stub))

	d, err := p.Plan(context.Background(), core.ConversationState{
		UserID:       "u",
		NeedsContext: true,
	}, "What's my dog's name?")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if len(d.Queries) != 3 {
		t.Fatalf("expected message + 2 expansions, got %v", d.Queries)
	}
	if d.Queries[0] != "What's my dog's name?" {
		t.Errorf("message should lead the query set, got %q", d.Queries[0])
	}
}

func TestPlanSlowReasonerFallsBack(t *testing.T) {
	stub := reason.NewStub()
	stub.Default = `["never arrives"]`
	stub.Delay = 400 * time.Millisecond

	budgets := DefaultBudgets()
	budgets.ReasonerTimeout = 20 * time.Millisecond

	p := newPlanner(t, newCache(t), WithReasoner(stub), WithBudgets(budgets))

	start := time.Now()
	d, err := p.Plan(context.Background(), core.ConversationState{
		UserID:       "u",
		NeedsContext: true,
	}, "what did I say about the garden project")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("planning took %v, should fall back fast", elapsed)
	}

	if d.Depth != core.DepthRelevant {
		t.Errorf("fallback should stay at relevant depth, got %s", d.Depth)
	}
	if len(d.Queries) != 1 || d.Queries[0] != "what did I say about the garden project" {
		t.Errorf("fallback should use deterministic query set, got %v", d.Queries)
	}
}

func TestPlanRejectsEmptyMessage(t *testing.T) {
	p := newPlanner(t, newCache(t))

	_, err := p.Plan(context.Background(), core.ConversationState{UserID: "u"}, "  ")
	if !errors.Is(err, core.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}
