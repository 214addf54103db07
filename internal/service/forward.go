package service

import (
	"context"
	"errors"
	"fmt"

	"basegraph.app/scambait/internal/forward"
	"basegraph.app/scambait/internal/model"
	"basegraph.app/scambait/internal/queue"
	"basegraph.app/scambait/internal/store"
)

type ForwardParams struct {
	// Target overrides the conversation inferred from the copies.
	Target *int64
	// Alias files the batch under a placeholder conversation when no target is known.
	Alias   string
	Copies  []forward.Copy
	TraceID *string
}

type ForwardPlan struct {
	Target      int64                 `json:"target"`
	Placeholder bool                  `json:"placeholder"`
	Decision    forward.MergeDecision `json:"decision"`
}

type ForwardIngestResult struct {
	ForwardPlan
	Inserted  []model.Event `json:"inserted"`
	Duplicate int           `json:"duplicate"`
	TaskID    string        `json:"task_id,omitempty"`
}

// ForwardService merges operator-forwarded copies into conversation timelines.
type ForwardService interface {
	Plan(ctx context.Context, params ForwardParams) (*ForwardPlan, error)
	Ingest(ctx context.Context, params ForwardParams) (*ForwardIngestResult, error)
	Alias(alias string) (int64, error)
}

type forwardService struct {
	ingester *forward.Ingester
	queue    queue.Producer
}

func NewForwardService(stores store.Provider, producer queue.Producer, limit int) ForwardService {
	return &forwardService{ingester: forward.NewIngester(stores, limit), queue: producer}
}

// resolve picks the target conversation and builds the payloads attributed against it.
func (s *forwardService) resolve(params ForwardParams) (int64, bool, []forward.Payload, error) {
	var (
		target      int64
		placeholder bool
	)
	switch {
	case params.Target != nil:
		target = *params.Target
	case params.Alias != "":
		id, err := forward.PlaceholderAlias(params.Alias)
		if err != nil {
			return 0, false, nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		target, placeholder = id, true
	default:
		for _, c := range params.Copies {
			if id, ok := forward.InferTarget(c); ok {
				target = id
				break
			}
		}
	}

	payloads := make([]forward.Payload, len(params.Copies))
	for i, c := range params.Copies {
		payloads[i] = forward.BuildPayload(c, forward.InferRole(c, target))
	}
	return target, placeholder, payloads, nil
}

func (s *forwardService) Plan(ctx context.Context, params ForwardParams) (*ForwardPlan, error) {
	target, placeholder, payloads, err := s.resolve(params)
	if err != nil {
		return nil, err
	}
	decision, err := s.ingester.Plan(ctx, target, payloads, placeholder)
	if err != nil {
		return nil, err
	}
	return &ForwardPlan{Target: target, Placeholder: placeholder, Decision: decision}, nil
}

func (s *forwardService) Ingest(ctx context.Context, params ForwardParams) (*ForwardIngestResult, error) {
	target, placeholder, payloads, err := s.resolve(params)
	if err != nil {
		return nil, err
	}
	res, err := s.ingester.Ingest(ctx, target, payloads, placeholder)
	if err != nil {
		return nil, err
	}

	out := &ForwardIngestResult{
		ForwardPlan: ForwardPlan{Target: target, Placeholder: placeholder, Decision: res.Decision},
		Inserted:    res.Inserted,
		Duplicate:   res.Duplicate,
	}
	// placeholder conversations have no chat to reply into
	if placeholder || !hasInbound(res.Inserted) {
		return out, nil
	}

	taskID, err := s.queue.Enqueue(ctx, queue.Task{
		Type:           queue.TaskTypeInboundMessage,
		ConversationID: target,
		TraceID:        params.TraceID,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueueing inbound message: %w", err)
	}
	out.TaskID = taskID
	return out, nil
}

func (s *forwardService) Alias(alias string) (int64, error) {
	id, err := forward.PlaceholderAlias(alias)
	if errors.Is(err, forward.ErrEmptyAlias) {
		return 0, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return id, err
}

func hasInbound(events []model.Event) bool {
	for _, e := range events {
		if e.IsInbound() {
			return true
		}
	}
	return false
}
