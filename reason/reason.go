// Package reason provides the external reasoning seam used by triage,
// query classification, strategy planning, and narrative synthesis.
//
// The engine is opinionated about WHEN reasoning calls happen and how long
// they may take; implementations decide HOW. Every call must honor context
// cancellation, because callers wrap each invocation in a strict budget.
package reason

import "context"

// Reasoner answers a single classification or synthesis prompt.
//
// Implementations:
//   - Claude: production implementation over the Anthropic API
//   - Stub: deterministic implementation for tests and offline use
type Reasoner interface {
	// Classify sends one prompt and returns the model's text response.
	// It must return promptly once ctx is cancelled.
	Classify(ctx context.Context, prompt string) (string, error)
}
