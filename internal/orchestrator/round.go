package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cedar/internal/chat"
	"cedar/internal/logging"
)

// Dispatcher fans a user request out to the configured agents and
// returns their raw outputs. Agent failures are reported inside the
// entries, never as a dispatch error: a failed agent is still a
// candidate.
type Dispatcher interface {
	Dispatch(ctx context.Context, request string) []map[string]any
}

// Sessions is the slice of the session manager the round runner needs.
type Sessions interface {
	Get(ctx context.Context, key chat.Key) (*chat.Chat, error)
	Update(ctx context.Context, key chat.Key, patch chat.Patch) error
}

// Runner drives one full question-answering round against a chat:
// record the user message, mark the chat processing, dispatch to
// agents, aggregate candidates, and commit the outcome.
type Runner struct {
	sessions   Sessions
	dispatcher Dispatcher
	aggregator *Aggregator
	now        func() time.Time
}

// NewRunner wires a round runner from its collaborators.
func NewRunner(sessions Sessions, dispatcher Dispatcher, aggregator *Aggregator) *Runner {
	return &Runner{
		sessions:   sessions,
		dispatcher: dispatcher,
		aggregator: aggregator,
		now:        time.Now,
	}
}

// RunRound executes one round for the chat at key.
//
// The round has no partial-commit state past the opening transition:
// either aggregation produces a final answer and the candidates, final
// answer, and assistant message are appended with status complete, or
// aggregation fails, nothing from it is appended, and the chat is
// moved to status error so it is never left stuck in processing.
func (r *Runner) RunRound(ctx context.Context, key chat.Key, request string) (*chat.FinalAnswer, error) {
	roundID := uuid.NewString()
	timer := logging.StartTimer(logging.CategoryAggregator, "RunRound")
	defer timer.Stop()

	logging.Aggregator("Round %s: starting for chat %s", roundID, key)

	userMsg := chat.Message{
		Role:      "user",
		Content:   request,
		Timestamp: r.now().UTC(),
		Metadata:  map[string]any{"round_id": roundID},
	}
	err := r.sessions.Update(ctx, key, chat.Patch{
		AppendMessages: []chat.Message{userMsg},
		Status:         chat.StatusProcessing,
		SetStatus:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("round %s: failed to open round on chat %s: %w", roundID, key, err)
	}

	raw := r.dispatcher.Dispatch(ctx, request)
	logging.Aggregator("Round %s: %d agent results collected", roundID, len(raw))

	result, aggErr := r.aggregator.Aggregate(ctx, request, raw)
	if aggErr != nil {
		if failErr := r.sessions.Update(ctx, key, chat.Patch{Status: chat.StatusError, SetStatus: true}); failErr != nil {
			logging.AggregatorError("Round %s: failed to mark chat %s as error: %v", roundID, key, failErr)
		}
		return nil, fmt.Errorf("round %s: %w", roundID, aggErr)
	}

	results := make([]chat.AgentResult, 0, len(result.Candidates)+1)
	for _, c := range result.Candidates {
		ar := chat.AgentResult{
			Name:    c.Name,
			OK:      c.OK,
			Status:  c.Status,
			Summary: c.Summary,
		}
		if c.Error != nil {
			ar.Error = fmt.Sprintf("%v", c.Error)
		}
		results = append(results, ar)
	}
	final := result.Final
	results = append(results, chat.AgentResult{
		Name:   "aggregator",
		OK:     true,
		Status: "ok",
		Final:  &final,
	})

	assistantMsg := chat.Message{
		Role:      "assistant",
		Content:   final.Text,
		Timestamp: r.now().UTC(),
		Metadata: map[string]any{
			"round_id": roundID,
			"title":    final.Title,
		},
	}
	commit := chat.Patch{
		AppendMessages: []chat.Message{assistantMsg},
		AppendResults:  results,
		Status:         chat.StatusComplete,
		SetStatus:      true,
	}
	if final.Title != "" {
		commit.Title = final.Title
		commit.SetTitle = true
	}
	if err := r.sessions.Update(ctx, key, commit); err != nil {
		return nil, fmt.Errorf("round %s: failed to commit round on chat %s: %w", roundID, key, err)
	}

	logging.Aggregator("Round %s: complete for chat %s", roundID, key)
	return &final, nil
}
