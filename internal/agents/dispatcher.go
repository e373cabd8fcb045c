package agents

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"cedar/internal/logging"
)

// Dispatcher runs the plan's agents in parallel and collects their
// outputs as raw candidate records for the aggregator.
type Dispatcher struct {
	registry map[string]Agent
	order    []string
}

// NewDispatcher indexes the given agents by name. Order is preserved
// so candidate lists are deterministic for a given plan.
func NewDispatcher(agentList ...Agent) *Dispatcher {
	d := &Dispatcher{registry: make(map[string]Agent, len(agentList))}
	for _, a := range agentList {
		if _, exists := d.registry[a.Name()]; exists {
			continue
		}
		d.registry[a.Name()] = a
		d.order = append(d.order, a.Name())
	}
	return d
}

// Agents returns the registered agent names in registration order.
func (d *Dispatcher) Agents() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Dispatch plans the request and runs the selected agents in parallel.
// Each result is one raw candidate record: {name, ok, status, content,
// error}. An agent failure or panic becomes a failed candidate entry;
// it never aborts the other agents or the dispatch as a whole.
func (d *Dispatcher) Dispatch(ctx context.Context, request string) []map[string]any {
	plan := Think(request)
	logging.Agents("Dispatching %q: type=%s agents=%v", truncate(request, 80), plan.Type, plan.AgentNames)

	selected := make([]Agent, 0, len(plan.AgentNames))
	for _, name := range plan.AgentNames {
		if a, ok := d.registry[name]; ok {
			selected = append(selected, a)
		} else {
			logging.AgentsDebug("Plan names unregistered agent %q, skipping", name)
		}
	}

	results := make([]map[string]any, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	for i, agent := range selected {
		i, agent := i, agent
		g.Go(func() error {
			results[i] = runAgent(gctx, agent, request)
			return nil // one agent's failure never fails the group
		})
	}
	g.Wait()

	return results
}

func runAgent(ctx context.Context, agent Agent, request string) (candidate map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			logging.AgentsError("Agent %s panicked: %v", agent.Name(), r)
			candidate = map[string]any{
				"name":   agent.Name(),
				"ok":     false,
				"status": "error",
				"error":  fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	content, err := agent.Execute(ctx, request)
	if err != nil {
		logging.AgentsError("Agent %s failed: %v", agent.Name(), err)
		return map[string]any{
			"name":   agent.Name(),
			"ok":     false,
			"status": "error",
			"error":  err.Error(),
		}
	}

	logging.AgentsDebug("Agent %s succeeded (content_len=%d)", agent.Name(), len(content))
	return map[string]any{
		"name":    agent.Name(),
		"ok":      true,
		"status":  "ok",
		"content": content,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
