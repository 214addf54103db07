package handler_test

import (
	"context"
	"time"

	"basegraph.app/scambait/internal/model"
	"basegraph.app/scambait/internal/service"
	"basegraph.app/scambait/internal/status"
	"basegraph.app/scambait/internal/turn"
)

type mockConversationService struct {
	idsFn         func(ctx context.Context) ([]int64, error)
	eventsFn      func(ctx context.Context, conversationID int64, limit int) ([]model.Event, error)
	ingestFn      func(ctx context.Context, params service.IngestEventParams) (*service.IngestEventResult, error)
	latestTurnFn  func(ctx context.Context, conversationID int64) (*model.Turn, error)
	deleteMemory  func(ctx context.Context, conversationID int64, key string) error
	lastEventsArg int
}

func (m *mockConversationService) IDs(ctx context.Context) ([]int64, error) {
	if m.idsFn != nil {
		return m.idsFn(ctx)
	}
	return nil, nil
}

func (m *mockConversationService) Events(ctx context.Context, conversationID int64, limit int) ([]model.Event, error) {
	m.lastEventsArg = limit
	if m.eventsFn != nil {
		return m.eventsFn(ctx, conversationID, limit)
	}
	return nil, nil
}

func (m *mockConversationService) IngestEvent(ctx context.Context, params service.IngestEventParams) (*service.IngestEventResult, error) {
	if m.ingestFn != nil {
		return m.ingestFn(ctx, params)
	}
	return &service.IngestEventResult{}, nil
}

func (m *mockConversationService) LatestTurn(ctx context.Context, conversationID int64) (*model.Turn, error) {
	if m.latestTurnFn != nil {
		return m.latestTurnFn(ctx, conversationID)
	}
	return nil, nil
}

func (m *mockConversationService) Attempts(context.Context, int64, int) ([]model.GenerationAttempt, error) {
	return nil, nil
}

func (m *mockConversationService) Profile(context.Context, int64) (*model.Profile, error) {
	return nil, nil
}

func (m *mockConversationService) ProfileChanges(context.Context, int64, int) ([]model.ProfileChange, error) {
	return nil, nil
}

func (m *mockConversationService) Memory(context.Context, int64) ([]model.MemoryEntry, error) {
	return nil, nil
}

func (m *mockConversationService) DeleteMemory(ctx context.Context, conversationID int64, key string) error {
	if m.deleteMemory != nil {
		return m.deleteMemory(ctx, conversationID, key)
	}
	return nil
}

type mockTaskService struct {
	enqueueFn func(ctx context.Context, params service.TaskParams) (string, error)
	stateFn   func(ctx context.Context, conversationID int64) (*turn.Pending, error)
	feedFn    func(ctx context.Context, conversationID int64, lastID string, block time.Duration) ([]status.Entry, error)
}

func (m *mockTaskService) Enqueue(ctx context.Context, params service.TaskParams) (string, error) {
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, params)
	}
	return "task-1", nil
}

func (m *mockTaskService) State(ctx context.Context, conversationID int64) (*turn.Pending, error) {
	if m.stateFn != nil {
		return m.stateFn(ctx, conversationID)
	}
	return nil, status.ErrNoSnapshot
}

func (m *mockTaskService) States(context.Context) ([]turn.Pending, error) {
	return nil, nil
}

func (m *mockTaskService) Feed(ctx context.Context, conversationID int64, lastID string, block time.Duration) ([]status.Entry, error) {
	if m.feedFn != nil {
		return m.feedFn(ctx, conversationID, lastID, block)
	}
	return nil, nil
}

type mockDirectiveService struct {
	addFn        func(ctx context.Context, conversationID int64, text string, scope model.DirectiveScope) (*model.Directive, error)
	deactivateFn func(ctx context.Context, conversationID int64, ids []int64) (int, error)
}

func (m *mockDirectiveService) Add(ctx context.Context, conversationID int64, text string, scope model.DirectiveScope) (*model.Directive, error) {
	if m.addFn != nil {
		return m.addFn(ctx, conversationID, text, scope)
	}
	return &model.Directive{}, nil
}

func (m *mockDirectiveService) ListActive(context.Context, int64) ([]model.Directive, error) {
	return nil, nil
}

func (m *mockDirectiveService) Deactivate(ctx context.Context, conversationID int64, ids []int64) (int, error) {
	if m.deactivateFn != nil {
		return m.deactivateFn(ctx, conversationID, ids)
	}
	return 0, nil
}

type mockForwardService struct {
	planFn   func(ctx context.Context, params service.ForwardParams) (*service.ForwardPlan, error)
	ingestFn func(ctx context.Context, params service.ForwardParams) (*service.ForwardIngestResult, error)
	aliasFn  func(alias string) (int64, error)
}

func (m *mockForwardService) Plan(ctx context.Context, params service.ForwardParams) (*service.ForwardPlan, error) {
	if m.planFn != nil {
		return m.planFn(ctx, params)
	}
	return &service.ForwardPlan{}, nil
}

func (m *mockForwardService) Ingest(ctx context.Context, params service.ForwardParams) (*service.ForwardIngestResult, error) {
	if m.ingestFn != nil {
		return m.ingestFn(ctx, params)
	}
	return &service.ForwardIngestResult{}, nil
}

func (m *mockForwardService) Alias(alias string) (int64, error) {
	if m.aliasFn != nil {
		return m.aliasFn(alias)
	}
	return -1, nil
}
