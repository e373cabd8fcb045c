// Package orchestrator reconciles independent agent candidate answers
// into exactly one accepted final answer, and drives a full
// question-answering round against a chat.
package orchestrator

import (
	"fmt"

	"cedar/internal/chat"
)

// NormalizeCandidates converts heterogeneous raw agent outputs into
// canonical candidates. Pure function: no side effects, no I/O.
//
// Missing fields default to empty or false. A malformed entry never
// aborts normalization of the rest; it becomes a candidate with
// ok=false, status="error" so the aggregator still sees that the agent
// ran and failed.
func NormalizeCandidates(raw []map[string]any) []chat.Candidate {
	normalized := make([]chat.Candidate, 0, len(raw))
	for _, entry := range raw {
		if entry == nil {
			normalized = append(normalized, chat.Candidate{
				OK:     false,
				Status: "error",
				Error:  "normalize-error",
			})
			continue
		}
		normalized = append(normalized, chat.Candidate{
			Name:    stringField(entry, "name"),
			OK:      boolField(entry, "ok"),
			Status:  stringField(entry, "status"),
			Summary: entry["content"],
			Error:   entry["error"],
		})
	}
	return normalized
}

func stringField(entry map[string]any, key string) string {
	v, ok := entry[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func boolField(entry map[string]any, key string) bool {
	b, _ := entry[key].(bool)
	return b
}
