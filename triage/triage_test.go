package triage

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/recallio/recall-go/core"
	"github.com/recallio/recall-go/reason"
)

func TestClassifyRemember(t *testing.T) {
	stub := reason.NewStub().Respond("dark mode",
		`{"remember": true, "canonical": "User prefers dark mode", "tags": ["preferences"], "priority": "normal"}`)

	c := New(stub, zap.NewNop())

	decision, err := c.Classify(context.Background(), "Remember that I prefer dark mode")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if !decision.Remember {
		t.Fatal("expected remember=true")
	}
	if decision.CanonicalContent != "User prefers dark mode" {
		t.Errorf("unexpected canonical content: %q", decision.CanonicalContent)
	}
	if len(decision.Tags) != 1 || decision.Tags[0] != "preferences" {
		t.Errorf("unexpected tags: %v", decision.Tags)
	}
}

func TestClassifySkip(t *testing.T) {
	stub := reason.NewStub()
	stub.Default = `{"remember": false, "canonical": "", "tags": [], "priority": "low"}`

	c := New(stub, zap.NewNop())

	decision, err := c.Classify(context.Background(), "what time is it?")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if decision.Remember {
		t.Error("small talk should not be remembered")
	}
}

func TestClassifyFailsClosedOnTimeout(t *testing.T) {
	stub := reason.NewStub()
	stub.Default = `{"remember": true, "canonical": "should never arrive"}`
	stub.Delay = 500 * time.Millisecond

	c := New(stub, zap.NewNop(), WithTimeout(20*time.Millisecond))

	start := time.Now()
	decision, err := c.Classify(context.Background(), "I live in Berlin now")
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("triage took %v, should fail fast", elapsed)
	}
	if decision.Remember {
		t.Error("timeout must fail closed, never memorize")
	}
	if !errors.Is(err, core.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestClassifyFailsClosedOnGarbage(t *testing.T) {
	stub := reason.NewStub()
	stub.Default = "I cannot answer that."

	c := New(stub, zap.NewNop())

	decision, err := c.Classify(context.Background(), "I live in Berlin now")
	if decision.Remember {
		t.Error("unparseable response must fail closed")
	}
	if err == nil {
		t.Error("expected an error for unparseable response")
	}
}

func TestClassifyRejectsEmptyMessage(t *testing.T) {
	c := New(reason.NewStub(), zap.NewNop())

	_, err := c.Classify(context.Background(), "   ")
	if !errors.Is(err, core.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestClassifyCanonicalFallsBackToMessage(t *testing.T) {
	stub := reason.NewStub()
	stub.Default = `{"remember": true, "canonical": "", "priority": "high"}`

	c := New(stub, zap.NewNop())

	decision, err := c.Classify(context.Background(), "My sister's name is Ana")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if decision.CanonicalContent != "My sister's name is Ana" {
		t.Errorf("expected message fallback, got %q", decision.CanonicalContent)
	}
	if decision.Priority != core.PriorityHigh {
		t.Errorf("expected high priority, got %s", decision.Priority)
	}
}
