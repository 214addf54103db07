package service

import (
	"context"
	"fmt"
	"time"

	"basegraph.app/scambait/internal/queue"
	"basegraph.app/scambait/internal/status"
	"basegraph.app/scambait/internal/turn"
)

type TaskParams struct {
	Type            queue.TaskType
	ConversationID  int64
	Trigger         string
	Enabled         *bool
	ConversationIDs []int64
	TraceID         *string
}

// TaskService hands turn control requests to the worker and reads back its state.
type TaskService interface {
	Enqueue(ctx context.Context, params TaskParams) (string, error)
	State(ctx context.Context, conversationID int64) (*turn.Pending, error)
	States(ctx context.Context) ([]turn.Pending, error)
	Feed(ctx context.Context, conversationID int64, lastID string, block time.Duration) ([]status.Entry, error)
}

type taskService struct {
	queue  queue.Producer
	status StatusReader
}

func NewTaskService(producer queue.Producer, status StatusReader) TaskService {
	return &taskService{queue: producer, status: status}
}

func (s *taskService) Enqueue(ctx context.Context, params TaskParams) (string, error) {
	if params.Type != queue.TaskTypeScan && params.ConversationID == 0 {
		return "", fmt.Errorf("%w: conversation_id is required", ErrInvalidInput)
	}
	if params.Type == queue.TaskTypeSetAuto && params.Enabled == nil {
		return "", fmt.Errorf("%w: enabled is required", ErrInvalidInput)
	}
	return s.queue.Enqueue(ctx, queue.Task{
		Type:            params.Type,
		ConversationID:  params.ConversationID,
		Trigger:         params.Trigger,
		Enabled:         params.Enabled,
		ConversationIDs: params.ConversationIDs,
		TraceID:         params.TraceID,
	})
}

func (s *taskService) State(ctx context.Context, conversationID int64) (*turn.Pending, error) {
	return s.status.Snapshot(ctx, conversationID)
}

func (s *taskService) States(ctx context.Context) ([]turn.Pending, error) {
	return s.status.Snapshots(ctx)
}

func (s *taskService) Feed(ctx context.Context, conversationID int64, lastID string, block time.Duration) ([]status.Entry, error) {
	return s.status.Read(ctx, conversationID, lastID, block)
}
