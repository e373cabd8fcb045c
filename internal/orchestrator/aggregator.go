package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cedar/internal/chat"
	"cedar/internal/llm"
	"cedar/internal/logging"
)

// ErrInvalidResponse reports that the reasoning service returned output
// that does not satisfy the required aggregation schema. The round
// fails hard; a final answer is never fabricated from malformed output.
var ErrInvalidResponse = errors.New("aggregator: invalid response (missing final)")

const aggregatorSystemPrompt = "You are Cedar's aggregator. You must produce ONE strict JSON function-call object with function='final'. " +
	"Use the components' summaries to decide the best final answer. No prose, no explanations. STRICT JSON only."

// Aggregator reconciles normalized candidates into one final answer by
// calling the reasoning service with a strict output contract.
type Aggregator struct {
	client llm.Client
}

// NewAggregator creates an aggregator over the given reasoning client.
func NewAggregator(client llm.Client) *Aggregator {
	return &Aggregator{client: client}
}

// Result is the outcome of one successful aggregation call.
type Result struct {
	Final       chat.FinalAnswer
	FinalJSON   map[string]any
	Candidates  []chat.Candidate
	DebugPrompt []llm.Message
}

// BuildPrompt constructs the reconciliation conversation: the user
// request, the full normalized candidate list as JSON, and an explicit
// example of the required output schema.
func BuildPrompt(userText string, normalized []chat.Candidate) ([]llm.Message, error) {
	candidatesJSON, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("aggregator: failed to encode candidates: %w", err)
	}

	example := map[string]any{
		"final": map[string]any{
			"function": "final",
			"args": map[string]any{
				"text":        "<answer>",
				"title":       "<3-6 words>",
				"run_summary": []string{"...", "..."},
			},
		},
	}
	exampleJSON, err := json.Marshal(example)
	if err != nil {
		return nil, fmt.Errorf("aggregator: failed to encode schema example: %w", err)
	}

	if userText == "" {
		userText = "(empty)"
	}

	return []llm.Message{
		{Role: "system", Content: aggregatorSystemPrompt},
		{Role: "user", Content: "User request:"},
		{Role: "user", Content: userText},
		{Role: "user", Content: "Component candidates (JSON):"},
		{Role: "user", Content: string(candidatesJSON)},
		{Role: "user", Content: "Example (required output schema):"},
		{Role: "user", Content: string(exampleJSON)},
	}, nil
}

// Aggregate normalizes the raw candidates, sends the reconciliation
// prompt, and parses the strict response. The response must be a JSON
// object whose "function" discriminator equals "final"; anything else
// fails with ErrInvalidResponse. Transport failures surface unchanged.
func (a *Aggregator) Aggregate(ctx context.Context, userText string, raw []map[string]any) (*Result, error) {
	normalized := NormalizeCandidates(raw)
	prompt, err := BuildPrompt(userText, normalized)
	if err != nil {
		return nil, err
	}

	logging.Aggregator("Aggregating %d candidates (request_len=%d)", len(normalized), len(userText))

	response, err := a.client.CompleteMessages(ctx, prompt)
	if err != nil {
		logging.AggregatorError("Reasoning service call failed: %v", err)
		return nil, fmt.Errorf("aggregator: reasoning service call failed: %w", err)
	}

	return a.parseResponse(response, normalized, prompt)
}

func (a *Aggregator) parseResponse(response string, normalized []chat.Candidate, prompt []llm.Message) (*Result, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &obj); err != nil {
		logging.AggregatorError("Response is not valid JSON: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if fn, _ := obj["function"].(string); fn != "final" {
		logging.AggregatorError("Response discriminator is %q, want \"final\"", obj["function"])
		return nil, ErrInvalidResponse
	}

	args, _ := obj["args"].(map[string]any)
	final := chat.FinalAnswer{
		Text:  strings.TrimSpace(argString(args, "text")),
		Title: strings.TrimSpace(argString(args, "title")),
	}
	if summary, ok := args["run_summary"].([]any); ok {
		for _, item := range summary {
			if s, ok := item.(string); ok {
				final.RunSummary = append(final.RunSummary, s)
			}
		}
	}

	logging.Aggregator("Accepted final answer (text_len=%d, title=%q)", len(final.Text), final.Title)
	return &Result{
		Final:       final,
		FinalJSON:   obj,
		Candidates:  normalized,
		DebugPrompt: prompt,
	}, nil
}

func argString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	s, _ := args[key].(string)
	return s
}
