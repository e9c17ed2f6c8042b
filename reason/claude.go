package reason

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
)

// DefaultModel is the model used for classification calls. Classification
// prompts are short and latency-sensitive, so the default is the fastest
// available tier.
const DefaultModel = "claude-3-5-haiku-latest"

// DefaultMaxTokens bounds classification responses.
const DefaultMaxTokens = 1024

// Claude is the production Reasoner over the Anthropic API.
type Claude struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// ClaudeOption configures a Claude reasoner.
type ClaudeOption func(*Claude)

// WithModel overrides the model used for reasoning calls.
func WithModel(model string) ClaudeOption {
	return func(c *Claude) {
		c.model = model
	}
}

// WithMaxTokens overrides the response token cap.
func WithMaxTokens(n int64) ClaudeOption {
	return func(c *Claude) {
		c.maxTokens = n
	}
}

// NewClaude creates a Claude reasoner with the given Anthropic client.
func NewClaude(client *anthropic.Client, opts ...ClaudeOption) *Claude {
	c := &Claude{
		client:    client,
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify sends the prompt as a single user message and concatenates the
// text blocks of the response.
func (c *Claude) Classify(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}
