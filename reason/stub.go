package reason

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Stub is a deterministic Reasoner for tests and offline development.
// Responses are matched by substring against the prompt; the first rule
// that matches wins. An optional Delay simulates a slow model so callers
// can exercise their timeout fallbacks.
type Stub struct {
	mu    sync.Mutex
	rules []stubRule
	calls int

	// Default is returned when no rule matches.
	Default string

	// Delay is applied before answering. The context deadline still wins.
	Delay time.Duration
}

type stubRule struct {
	substr   string
	response string
}

// NewStub creates a stub with no rules and an empty default response.
func NewStub() *Stub {
	return &Stub{}
}

// Respond registers a response for prompts containing substr.
func (s *Stub) Respond(substr, response string) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, stubRule{substr: substr, response: response})
	return s
}

// Calls reports how many times Classify has been invoked.
func (s *Stub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Classify answers from the registered rules.
func (s *Stub) Classify(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.calls++
	delay := s.Delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rules {
		if strings.Contains(prompt, r.substr) {
			return r.response, nil
		}
	}
	return s.Default, nil
}
