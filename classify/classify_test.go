package classify

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/recallio/recall-go/core"
	"github.com/recallio/recall-go/reason"
)

func TestClassifyHeuristics(t *testing.T) {
	c := New(zap.NewNop())

	cases := []struct {
		query string
		want  core.RoutingClass
	}{
		{"What's my dog's name?", core.RouteFactual},
		{"Where do I usually get coffee", core.RouteFactual},
		{"things I enjoy doing on weekends", core.RouteSemantic},
		{"who is my brother's partner", core.RouteRelational},
		{"when did I last visit Lisbon", core.RouteTemporal},
		{"tell me everything you know about my health", core.RouteComplex},
	}

	for _, tc := range cases {
		if got := c.Classify(tc.query); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.query, got, tc.want)
		}
	}
}

func TestClassifyContextModelAssist(t *testing.T) {
	stub := reason.NewStub()
	stub.Default = "relational"

	c := New(zap.NewNop(), WithReasoner(stub))

	// Ambiguous short question: heuristics are unsure, model decides.
	got := c.ClassifyContext(context.Background(), "and them?")
	if got != core.RouteRelational {
		t.Errorf("expected model-assisted relational, got %s", got)
	}

	// Decisive query never consults the model.
	before := stub.Calls()
	c.ClassifyContext(context.Background(), "when did I move house")
	if stub.Calls() != before {
		t.Error("decisive query should not consult the reasoner")
	}
}

func TestClassifyContextSlowModelFallsBack(t *testing.T) {
	stub := reason.NewStub()
	stub.Default = "complex"
	stub.Delay = 200 * time.Millisecond

	c := New(zap.NewNop(), WithReasoner(stub), WithModelTimeout(20*time.Millisecond))

	start := time.Now()
	got := c.ClassifyContext(context.Background(), "hmm?")
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("classification took %v, should respect the consult budget", elapsed)
	}
	if got != core.RouteFactual && got != core.RouteSemantic {
		t.Errorf("expected heuristic fallback class, got %s", got)
	}
}

func TestStoresFor(t *testing.T) {
	cases := []struct {
		class                     core.RoutingClass
		vector, graph, relational bool
	}{
		{core.RouteFactual, false, false, true},
		{core.RouteSemantic, true, false, false},
		{core.RouteRelational, true, true, false},
		{core.RouteTemporal, true, true, false},
		{core.RouteComplex, true, true, true},
	}

	for _, tc := range cases {
		v, g, r := StoresFor(tc.class)
		if v != tc.vector || g != tc.graph || r != tc.relational {
			t.Errorf("StoresFor(%s) = (%v,%v,%v), want (%v,%v,%v)",
				tc.class, v, g, r, tc.vector, tc.graph, tc.relational)
		}
	}
}
