// Package triage decides whether an incoming message is worth remembering.
// It runs on every message regardless of whether context was requested,
// because memorability is orthogonal to whether context is needed this turn.
//
// Triage fails closed: a slow or broken classifier means the message is NOT
// memorized. Malformed content must never be silently written, and the
// caller must never block on triage.
package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/recallio/recall-go/core"
	"github.com/recallio/recall-go/reason"
)

// DefaultTimeout bounds the classification call.
const DefaultTimeout = 2 * time.Second

// Classifier wraps a reasoner call that extracts memorable content.
type Classifier struct {
	reasoner reason.Reasoner
	timeout  time.Duration
	logger   *zap.Logger
}

// Option configures the classifier.
type Option func(*Classifier)

// WithTimeout overrides the classification budget.
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		c.timeout = d
	}
}

// New creates a triage classifier over the given reasoner.
func New(r reason.Reasoner, logger *zap.Logger, opts ...Option) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Classifier{
		reasoner: r,
		timeout:  DefaultTimeout,
		logger:   logger.Named("triage"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// triageResponse is the JSON shape the reasoner is asked to produce.
type triageResponse struct {
	Remember  bool     `json:"remember"`
	Canonical string   `json:"canonical"`
	Tags      []string `json:"tags"`
	Priority  string   `json:"priority"`
}

// Classify decides remember/skip for one message. The zero decision
// (remember=false) is returned alongside any error, so callers can treat
// the decision as authoritative and the error as log-only.
func (c *Classifier) Classify(ctx context.Context, message string) (core.TriageDecision, error) {
	var none core.TriageDecision

	message = strings.TrimSpace(message)
	if message == "" {
		return none, fmt.Errorf("empty message: %w", core.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	answer, err := c.reasoner.Classify(ctx, triagePrompt(message))
	if err != nil {
		if ctx.Err() != nil {
			return none, fmt.Errorf("triage: %w", core.ErrTimeout)
		}
		return none, fmt.Errorf("triage: %w", err)
	}

	parsed, err := parseTriageResponse(answer)
	if err != nil {
		c.logger.Warn("unparseable triage response", zap.Error(err))
		return none, fmt.Errorf("triage: %w", err)
	}

	if !parsed.Remember {
		return none, nil
	}

	canonical := strings.TrimSpace(parsed.Canonical)
	if canonical == "" {
		canonical = message
	}

	return core.TriageDecision{
		Remember:         true,
		CanonicalContent: canonical,
		Tags:             parsed.Tags,
		Priority:         parsePriority(parsed.Priority),
	}, nil
}

func triagePrompt(message string) string {
	return `You triage messages for a personal memory system. Decide whether the message
contains a durable fact, preference, or event about the user worth remembering.
Do not remember questions, small talk, or transient requests.

Respond with JSON only:
{"remember": bool, "canonical": "<one-sentence canonical restatement>", "tags": ["..."], "priority": "low|normal|high"}

Message: ` + message
}

// parseTriageResponse tolerates prose around the JSON object.
func parseTriageResponse(answer string) (*triageResponse, error) {
	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var resp triageResponse
	if err := json.Unmarshal([]byte(answer[start:end+1]), &resp); err != nil {
		return nil, fmt.Errorf("decode triage response: %w", err)
	}
	return &resp, nil
}

func parsePriority(s string) core.Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return core.PriorityLow
	case "high":
		return core.PriorityHigh
	default:
		return core.PriorityNormal
	}
}
