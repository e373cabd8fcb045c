package agents

import "strings"

// Plan is the outcome of the analysis phase: what kind of request this
// is and which agents should answer it.
type Plan struct {
	Input      string   `json:"input"`
	Analysis   string   `json:"analysis"`
	Type       string   `json:"identified_type"`
	AgentNames []string `json:"agents_to_use"`
}

// Think classifies the request by keyword and selects the agents to
// dispatch. Deliberately cheap: agent selection must never cost a
// reasoning-service call.
func Think(request string) Plan {
	lower := strings.ToLower(request)

	switch {
	case strings.Contains(lower, "square root") || strings.Contains(lower, "sqrt"):
		return Plan{
			Input:      request,
			Type:       "mathematical_computation",
			Analysis:   "This is a mathematical computation requiring precise calculation",
			AgentNames: []string{"CodeAgent", "MathAgent", "GeneralAgent"},
		}
	case containsAny(lower, "code", "program", "function", "script"):
		return Plan{
			Input:      request,
			Type:       "coding_task",
			Analysis:   "This requires code generation or programming",
			AgentNames: []string{"CodeAgent", "GeneralAgent"},
		}
	default:
		return Plan{
			Input:      request,
			Type:       "general_query",
			Analysis:   "This is a general query",
			AgentNames: []string{"GeneralAgent", "MathAgent"},
		}
	}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
