package brain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"basegraph.app/scambait/common/llm"
	"basegraph.app/scambait/common/logger"
	"basegraph.app/scambait/internal/contract"
	"basegraph.app/scambait/internal/model"
	"basegraph.app/scambait/internal/store"
)

// ErrContractRejected is returned when every attempt produced an unusable plan.
// The last attempt's issues are wrapped as *contract.IssuesError.
var ErrContractRejected = errors.New("model output rejected")

const (
	defaultMaxAttempts  = 2
	defaultHistoryLimit = 60
	excerptChars        = 2000
)

// Request identifies one generation.
type Request struct {
	Trigger        string
	ConversationID int64
	DryRun         bool
}

// Result is an accepted plan ready for the turn machine.
type Result struct {
	Analysis       map[string]any
	Conflict       map[string]any
	Title          string
	Suggestion     string
	Schema         string
	Raw            string
	Actions        []contract.Action
	Memory         []contract.MemoryPair
	Issues         []contract.Issue
	ConversationID int64
	AttemptID      int64
	Attempts       int
}

// Generator produces an action plan for a conversation.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

type Config struct {
	ToolMode     bool
	MaxAttempts  int
	HistoryLimit int
	MaxTokens    int
}

// Pipeline is the Store-backed Generator: prompt assembly, model call,
// validation and the repair loop.
type Pipeline struct {
	llm     llm.AgentClient
	stores  store.Provider
	builder *contextBuilder
	cfg     Config
	now     func() time.Time
}

func NewPipeline(client llm.AgentClient, stores store.Provider, cfg Config) *Pipeline {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return &Pipeline{
		llm:     client,
		stores:  stores,
		builder: &contextBuilder{stores: stores, historyLimit: cfg.HistoryLimit},
		cfg:     cfg,
		now:     time.Now,
	}
}

// attemptOutcome is one validated model response.
type attemptOutcome struct {
	output   *contract.Output
	issues   []contract.Issue
	memory   []contract.MemoryPair
	raw      string
	reason   string
	parsedOK bool
}

func (p *Pipeline) Generate(ctx context.Context, req Request) (*Result, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConversationID: logger.Ptr(req.ConversationID),
		Trigger:        logger.Ptr(req.Trigger),
		Component:      "scambait.brain.pipeline",
	})

	span := logger.StartSpan(ctx, "brain.generate")
	defer span.End()
	ctx = span.Context()

	pc, err := p.builder.load(ctx, req.ConversationID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("loading prompt context: %w", err)
	}

	messages := p.builder.build(req.ConversationID, pc, p.cfg.ToolMode, p.now())
	toolMode := p.cfg.ToolMode

	var last attemptOutcome
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		phase := model.AttemptPhaseInitial
		if attempt > 1 {
			phase = model.AttemptPhaseRepair
		}

		agentReq := llm.AgentRequest{
			Messages:  messages,
			MaxTokens: p.cfg.MaxTokens,
		}
		if toolMode {
			agentReq.Tools = []llm.Tool{contract.ActTool()}
		} else {
			agentReq.JSONMode = true
		}

		resp, err := p.llm.ChatWithTools(ctx, agentReq)
		if err != nil {
			slog.WarnContext(ctx, "model call failed",
				"attempt", attempt,
				"retryable", llm.IsRetryable(ctx, err),
				"error", err)
			span.RecordError(err)
			return nil, fmt.Errorf("model call (attempt %d): %w", attempt, err)
		}

		outcome := evaluate(resp)
		attemptID, recErr := p.recordAttempt(ctx, req, attempt, phase, resp, outcome)
		if recErr != nil {
			slog.WarnContext(ctx, "failed to record generation attempt", "attempt", attempt, "error", recErr)
		}

		if outcome.reason == "" {
			slog.InfoContext(ctx, "plan accepted",
				"attempt", attempt,
				"actions", len(outcome.output.Actions),
				"issues", len(outcome.issues))

			if !req.DryRun {
				if err := p.persistMemory(ctx, req.ConversationID, outcome.memory); err != nil {
					return nil, fmt.Errorf("persisting memory: %w", err)
				}
			}

			return &Result{
				ConversationID: req.ConversationID,
				Title:          titleFor(req.ConversationID, pc.Profile),
				Suggestion:     outcome.output.Suggestion,
				Actions:        outcome.output.Actions,
				Analysis:       outcome.output.Analysis,
				Conflict:       outcome.output.Conflict,
				Schema:         outcome.output.Schema,
				Raw:            outcome.raw,
				Memory:         outcome.memory,
				Issues:         outcome.issues,
				AttemptID:      attemptID,
				Attempts:       attempt,
			}, nil
		}

		slog.InfoContext(ctx, "plan rejected",
			"attempt", attempt,
			"reason", outcome.reason,
			"issues", len(outcome.issues))
		last = outcome

		// Repairs always answer with a bare JSON object.
		messages = contract.BuildRepairMessages(contract.TextModePrompt, outcome.raw, outcome.reason)
		toolMode = false
	}

	err = fmt.Errorf("%w after %d attempt(s): %w", ErrContractRejected, p.cfg.MaxAttempts, &contract.IssuesError{Issues: last.issues})
	span.RecordError(err)
	return nil, err
}

// evaluate validates a response in the mode it was produced in and applies the style policy.
func evaluate(resp *llm.AgentResponse) attemptOutcome {
	var out attemptOutcome
	if len(resp.ToolCalls) > 0 {
		out.raw = toolCallsRaw(resp)
		out.output, out.issues, out.memory = contract.ValidateToolCalls(resp.ToolCalls, out.raw)
		out.parsedOK = out.output != nil
	} else {
		out.raw = resp.Content
		out.output, out.issues = contract.ValidateText(resp.Content)
		out.parsedOK = out.output != nil || !hasJSONIssue(out.issues)
	}

	switch {
	case out.output == nil:
		out.reason = contract.RejectContractValidation
	case contract.ViolatesStylePolicy(out.output.Suggestion):
		out.reason = contract.RejectStylePolicy
		out.issues = append(out.issues, contract.Issue{
			Path:   "message.text",
			Reason: "reply uses generic advisory language",
		})
		out.output = nil
	}
	return out
}

func hasJSONIssue(issues []contract.Issue) bool {
	for _, issue := range issues {
		if issue.Path == "root" && issue.Reason == "invalid json" {
			return true
		}
	}
	return false
}

func toolCallsRaw(resp *llm.AgentResponse) string {
	type call struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	}
	calls := make([]call, len(resp.ToolCalls))
	for i, tc := range resp.ToolCalls {
		calls[i] = call{Name: tc.Name, Arguments: tc.Arguments}
	}
	data, err := json.Marshal(map[string]any{"content": resp.Content, "tool_calls": calls})
	if err != nil {
		return resp.Content
	}
	return string(data)
}

func (p *Pipeline) recordAttempt(ctx context.Context, req Request, attemptNo int, phase model.AttemptPhase, resp *llm.AgentResponse, outcome attemptOutcome) (int64, error) {
	a := &model.GenerationAttempt{
		ConversationID:   req.ConversationID,
		Trigger:          req.Trigger,
		AttemptNo:        attemptNo,
		Phase:            phase,
		Provider:         p.llm.Provider(),
		Model:            p.llm.Model(),
		ParsedOK:         outcome.parsedOK,
		Accepted:         outcome.reason == "",
		ResultExcerpt:    excerpt(outcome.raw, excerptChars),
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
	}
	if outcome.reason != "" {
		a.RejectReason = logger.Ptr(outcome.reason)
	}
	if outcome.output != nil {
		a.Suggestion = outcome.output.Suggestion
		a.Schema = outcome.output.Schema
	}
	if len(outcome.issues) > 0 {
		data, err := json.Marshal(outcome.issues)
		if err == nil {
			a.ContractIssues = data
		}
	}

	if err := p.stores.Attempts().Record(ctx, a); err != nil {
		return 0, err
	}
	return a.ID, nil
}

func (p *Pipeline) persistMemory(ctx context.Context, conversationID int64, pairs []contract.MemoryPair) error {
	if len(pairs) == 0 {
		return nil
	}
	return p.stores.WithTx(ctx, func(tx store.Provider) error {
		for _, pair := range pairs {
			if err := tx.Memory().Upsert(ctx, conversationID, pair.Key, pair.Value); err != nil {
				return fmt.Errorf("upserting %q: %w", pair.Key, err)
			}
		}
		return nil
	})
}

func excerpt(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
