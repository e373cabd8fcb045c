// Package agents holds the built-in answer agents and the dispatcher
// that fans a user request out to them in parallel.
package agents

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"cedar/internal/llm"
	"cedar/internal/logging"
)

// Agent produces one candidate answer for a user request. Agents are
// independent: one agent's failure never affects another's execution.
type Agent interface {
	Name() string
	Execute(ctx context.Context, request string) (string, error)
}

// promptAgent answers by forwarding the request to the reasoning
// service under a fixed system prompt.
type promptAgent struct {
	name         string
	systemPrompt string
	client       llm.Client
}

func (a *promptAgent) Name() string { return a.name }

func (a *promptAgent) Execute(ctx context.Context, request string) (string, error) {
	if a.client == nil {
		return "", fmt.Errorf("agent %s: no reasoning client configured", a.name)
	}
	return a.client.CompleteWithSystem(ctx, a.systemPrompt, request)
}

// NewGeneralAgent answers general queries.
func NewGeneralAgent(client llm.Client) Agent {
	return &promptAgent{
		name:         "GeneralAgent",
		systemPrompt: "You are a helpful assistant. Answer the given question clearly and concisely.",
		client:       client,
	}
}

// NewCodeAgent answers programming questions.
func NewCodeAgent(client llm.Client) Agent {
	return &promptAgent{
		name:         "CodeAgent",
		systemPrompt: "You are a code agent. Write code to solve the given problem and provide the result.",
		client:       client,
	}
}

var sqrtPattern = regexp.MustCompile(`(?i)(?:square root of|sqrt\s*\(?)\s*([0-9]+(?:\.[0-9]+)?)`)

// mathAgent computes simple expressions directly and falls back to the
// reasoning service for everything else.
type mathAgent struct {
	client llm.Client
}

// NewMathAgent answers mathematical questions.
func NewMathAgent(client llm.Client) Agent {
	return &mathAgent{client: client}
}

func (a *mathAgent) Name() string { return "MathAgent" }

func (a *mathAgent) Execute(ctx context.Context, request string) (string, error) {
	if m := sqrtPattern.FindStringSubmatch(request); m != nil {
		if n, err := strconv.ParseFloat(m[1], 64); err == nil && n >= 0 {
			result := math.Sqrt(n)
			logging.AgentsDebug("MathAgent: direct computation sqrt(%v) = %v", n, result)
			return fmt.Sprintf("The square root of %s is %s", m[1], strconv.FormatFloat(result, 'f', -1, 64)), nil
		}
	}

	if a.client == nil {
		return "", fmt.Errorf("agent MathAgent: no reasoning client configured")
	}
	return a.client.CompleteWithSystem(ctx,
		"You are a mathematics expert. Solve the given problem with precise calculations.",
		strings.TrimSpace(request))
}
