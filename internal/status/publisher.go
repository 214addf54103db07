package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/scambait/internal/brain"
	"basegraph.app/scambait/internal/contract"
	"basegraph.app/scambait/internal/turn"
)

// Publisher writes machine events to the status feed. Use Listen as a turn.Bus listener.
type Publisher struct {
	client redis.Cmdable
	keys   Keys
	maxLen int64
}

func NewPublisher(client redis.Cmdable, keys Keys) *Publisher {
	return &Publisher{client: client, keys: keys, maxLen: defaultStreamMaxLen}
}

// Listen mirrors one bus event. State changes also refresh the snapshot hash.
func (p *Publisher) Listen(ctx context.Context, e turn.Event) error {
	entry := Entry{
		Kind:           string(e.Kind),
		ConversationID: e.ConversationID,
		At:             e.At,
		State:          e.State,
		Warning:        e.Warning,
	}
	if err := p.add(ctx, entry); err != nil {
		return err
	}
	if e.Kind != turn.EventStateChanged || e.State == nil {
		return nil
	}

	data, err := json.Marshal(e.State)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := p.client.HSet(ctx, p.keys.Hash, field(e.ConversationID), string(data)).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", p.keys.Hash, err)
	}
	return nil
}

// DryRunResult is what a dry-run generation reports back to operators.
type DryRunResult struct {
	Trigger    string           `json:"trigger"`
	Suggestion string           `json:"suggestion,omitempty"`
	Actions    json.RawMessage  `json:"actions,omitempty"`
	Analysis   map[string]any   `json:"analysis,omitempty"`
	Issues     []contract.Issue `json:"issues,omitempty"`
	Error      string           `json:"error,omitempty"`
	Attempts   int              `json:"attempts"`
	AttemptID  int64            `json:"attempt_id,omitempty"`
}

// PublishDryRun reports the outcome of a generation that was not registered.
func (p *Publisher) PublishDryRun(ctx context.Context, conversationID int64, trigger string, result *brain.Result, genErr error) error {
	out := DryRunResult{Trigger: trigger}
	if result != nil {
		actions, err := contract.EncodeActions(result.Actions)
		if err != nil {
			return fmt.Errorf("encoding actions: %w", err)
		}
		out.Suggestion = result.Suggestion
		out.Actions = actions
		out.Analysis = result.Analysis
		out.Issues = result.Issues
		out.Attempts = result.Attempts
		out.AttemptID = result.AttemptID
	}
	if genErr != nil {
		out.Error = genErr.Error()
		var issuesErr *contract.IssuesError
		if errors.As(genErr, &issuesErr) {
			out.Issues = issuesErr.Issues
		}
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encoding dry run result: %w", err)
	}
	return p.add(ctx, Entry{
		Kind:           KindDryRunResult,
		ConversationID: conversationID,
		At:             time.Now().UTC(),
		Payload:        payload,
	})
}

func (p *Publisher) add(ctx context.Context, e Entry) error {
	values, err := entryValues(e)
	if err != nil {
		return err
	}
	stream := p.keys.stream(e.ConversationID)
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	slog.DebugContext(ctx, "status published", "kind", e.Kind, "stream", stream)
	return nil
}
