// Package llm provides the reasoning-service client used by the
// aggregator and the built-in agents.
package llm

import (
	"context"
	"time"
)

// Message is one role-tagged entry in a conversation sent to the
// reasoning service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the minimal interface the core uses to call a reasoning
// service. The service is a black box: it may fail, return malformed
// output, or be slow, and implementations must surface all three rather
// than mask them.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	CompleteMessages(ctx context.Context, messages []Message) (string, error)
}

// Config holds connection settings for an OpenAI-compatible endpoint.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:  apiKey,
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
		Timeout: 2 * time.Minute,
	}
}
