package agents

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubAgent answers with a fixed string or failure.
type stubAgent struct {
	name    string
	content string
	err     error
	panics  bool
}

func (a *stubAgent) Name() string { return a.name }

func (a *stubAgent) Execute(ctx context.Context, request string) (string, error) {
	if a.panics {
		panic("stub agent exploded")
	}
	return a.content, a.err
}

func TestThinkClassification(t *testing.T) {
	cases := []struct {
		request string
		want    string
		agents  int
	}{
		{"What is the square root of 16?", "mathematical_computation", 3},
		{"sqrt(25)", "mathematical_computation", 3},
		{"Write a function to reverse a string", "coding_task", 2},
		{"Please write a Python script for me", "coding_task", 2},
		{"What is the capital of France?", "general_query", 2},
	}

	for _, tc := range cases {
		plan := Think(tc.request)
		if plan.Type != tc.want {
			t.Errorf("Think(%q): type=%s, want %s", tc.request, plan.Type, tc.want)
		}
		if len(plan.AgentNames) != tc.agents {
			t.Errorf("Think(%q): %d agents, want %d", tc.request, len(plan.AgentNames), tc.agents)
		}
	}
}

func TestDispatchCollectsAllCandidates(t *testing.T) {
	d := NewDispatcher(
		&stubAgent{name: "GeneralAgent", content: "Paris"},
		&stubAgent{name: "MathAgent", content: "not applicable"},
	)

	results := d.Dispatch(context.Background(), "What is the capital of France?")
	if len(results) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(results))
	}

	byName := make(map[string]map[string]any)
	for _, r := range results {
		byName[r["name"].(string)] = r
	}
	if got := byName["GeneralAgent"]; got == nil || got["ok"] != true || got["content"] != "Paris" {
		t.Errorf("Unexpected GeneralAgent candidate: %v", got)
	}
}

func TestDispatchIsolatesFailures(t *testing.T) {
	d := NewDispatcher(
		&stubAgent{name: "GeneralAgent", content: "fine"},
		&stubAgent{name: "MathAgent", err: errors.New("upstream timeout")},
	)

	results := d.Dispatch(context.Background(), "anything")
	if len(results) != 2 {
		t.Fatalf("Expected 2 candidates despite a failure, got %d", len(results))
	}

	var failed map[string]any
	for _, r := range results {
		if r["name"] == "MathAgent" {
			failed = r
		}
	}
	if failed == nil {
		t.Fatal("Failed agent missing from candidates")
	}
	if failed["ok"] != false || failed["status"] != "error" {
		t.Errorf("Failure not reported in candidate: %v", failed)
	}
	if !strings.Contains(failed["error"].(string), "upstream timeout") {
		t.Errorf("Error detail lost: %v", failed["error"])
	}
}

func TestDispatchSurvivesPanic(t *testing.T) {
	d := NewDispatcher(
		&stubAgent{name: "GeneralAgent", content: "fine"},
		&stubAgent{name: "MathAgent", panics: true},
	)

	results := d.Dispatch(context.Background(), "anything")
	if len(results) != 2 {
		t.Fatalf("Expected 2 candidates despite a panic, got %d", len(results))
	}
	for _, r := range results {
		if r["name"] == "MathAgent" {
			if r["ok"] != false || !strings.Contains(r["error"].(string), "panic") {
				t.Errorf("Panic not converted to failed candidate: %v", r)
			}
		}
	}
}

func TestDispatchSkipsUnregisteredAgents(t *testing.T) {
	// Plan for a math question names three agents; only one registered.
	d := NewDispatcher(&stubAgent{name: "MathAgent", content: "4"})

	results := d.Dispatch(context.Background(), "square root of 16")
	if len(results) != 1 {
		t.Fatalf("Expected 1 candidate, got %d", len(results))
	}
	if results[0]["name"] != "MathAgent" {
		t.Errorf("Unexpected candidate: %v", results[0])
	}
}

func TestMathAgentDirectComputation(t *testing.T) {
	// No client: the direct path must not need one.
	a := NewMathAgent(nil)

	got, err := a.Execute(context.Background(), "What is the square root of 16?")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(got, "4") {
		t.Errorf("Expected answer to contain 4, got %q", got)
	}

	// Non-sqrt questions need the reasoning service.
	if _, err := a.Execute(context.Background(), "integrate x^2"); err == nil {
		t.Error("Expected error without a reasoning client")
	}
}
