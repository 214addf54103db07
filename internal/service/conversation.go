package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"basegraph.app/scambait/internal/model"
	"basegraph.app/scambait/internal/queue"
	"basegraph.app/scambait/internal/store"
)

type IngestEventParams struct {
	ConversationID int64           `json:"conversation_id"`
	ExternalID     string          `json:"source_message_id,omitempty"`
	EventType      string          `json:"event_type"`
	Role           model.EventRole `json:"role"`
	Text           string          `json:"text,omitempty"`
	TsUTC          *time.Time      `json:"ts_utc,omitempty"`
	Meta           map[string]any  `json:"meta,omitempty"`

	TraceID *string `json:"trace_id,omitempty"`
}

type IngestEventResult struct {
	Event      *model.Event
	TaskID     string
	Enqueued   bool
	Duplicated bool
}

// ConversationService reads conversation data and records new timeline events.
type ConversationService interface {
	IDs(ctx context.Context) ([]int64, error)
	Events(ctx context.Context, conversationID int64, limit int) ([]model.Event, error)
	// IngestEvent appends an event. A new counterparty event also enqueues an inbound_message task.
	IngestEvent(ctx context.Context, params IngestEventParams) (*IngestEventResult, error)
	LatestTurn(ctx context.Context, conversationID int64) (*model.Turn, error)
	Attempts(ctx context.Context, conversationID int64, limit int) ([]model.GenerationAttempt, error)
	Profile(ctx context.Context, conversationID int64) (*model.Profile, error)
	ProfileChanges(ctx context.Context, conversationID int64, limit int) ([]model.ProfileChange, error)
	Memory(ctx context.Context, conversationID int64) ([]model.MemoryEntry, error)
	DeleteMemory(ctx context.Context, conversationID int64, key string) error
}

type conversationService struct {
	stores store.Provider
	queue  queue.Producer
}

func NewConversationService(stores store.Provider, producer queue.Producer) ConversationService {
	return &conversationService{stores: stores, queue: producer}
}

func (s *conversationService) IDs(ctx context.Context) ([]int64, error) {
	return s.stores.Events().ConversationIDs(ctx)
}

func (s *conversationService) Events(ctx context.Context, conversationID int64, limit int) ([]model.Event, error) {
	return s.stores.Events().List(ctx, conversationID, limit)
}

func validRole(r model.EventRole) bool {
	switch r {
	case model.RoleScammer, model.RoleManual, model.RoleBaiter, model.RoleSystem:
		return true
	}
	return false
}

func (s *conversationService) IngestEvent(ctx context.Context, params IngestEventParams) (*IngestEventResult, error) {
	if params.ConversationID == 0 {
		return nil, fmt.Errorf("%w: conversation_id is required", ErrInvalidInput)
	}
	if !validRole(params.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, params.Role)
	}
	eventType := strings.TrimSpace(params.EventType)
	if eventType == "" {
		eventType = model.EventTypeMessage
	}

	event, created, err := s.stores.Events().Append(ctx, &model.Event{
		ConversationID: params.ConversationID,
		ExternalID:     params.ExternalID,
		EventType:      eventType,
		Role:           params.Role,
		Text:           params.Text,
		TsUTC:          params.TsUTC,
		Meta:           params.Meta,
	})
	if err != nil {
		return nil, fmt.Errorf("appending event: %w", err)
	}

	result := &IngestEventResult{Event: event, Duplicated: !created}
	if !created {
		slog.InfoContext(ctx, "duplicate event deduped",
			"conversation_id", params.ConversationID,
			"source_message_id", event.ExternalID)
		return result, nil
	}
	if !event.IsInbound() {
		return result, nil
	}

	taskID, err := s.queue.Enqueue(ctx, queue.Task{
		Type:           queue.TaskTypeInboundMessage,
		ConversationID: params.ConversationID,
		TraceID:        params.TraceID,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueueing inbound message: %w", err)
	}
	result.TaskID = taskID
	result.Enqueued = true
	return result, nil
}

func (s *conversationService) LatestTurn(ctx context.Context, conversationID int64) (*model.Turn, error) {
	return s.stores.Turns().Latest(ctx, conversationID)
}

func (s *conversationService) Attempts(ctx context.Context, conversationID int64, limit int) ([]model.GenerationAttempt, error) {
	return s.stores.Attempts().List(ctx, conversationID, limit)
}

func (s *conversationService) Profile(ctx context.Context, conversationID int64) (*model.Profile, error) {
	return s.stores.Profiles().Get(ctx, conversationID)
}

func (s *conversationService) ProfileChanges(ctx context.Context, conversationID int64, limit int) ([]model.ProfileChange, error) {
	return s.stores.Profiles().Changes(ctx, conversationID, limit)
}

func (s *conversationService) Memory(ctx context.Context, conversationID int64) ([]model.MemoryEntry, error) {
	return s.stores.Memory().List(ctx, conversationID)
}

func (s *conversationService) DeleteMemory(ctx context.Context, conversationID int64, key string) error {
	return s.stores.Memory().Delete(ctx, conversationID, key)
}
