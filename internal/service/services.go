package service

import (
	"context"
	"errors"
	"time"

	"basegraph.app/scambait/internal/queue"
	"basegraph.app/scambait/internal/status"
	"basegraph.app/scambait/internal/store"
	"basegraph.app/scambait/internal/turn"
)

// ErrInvalidInput marks request validation failures.
var ErrInvalidInput = errors.New("invalid input")

// StatusReader is the read side of the status feed.
type StatusReader interface {
	Snapshot(ctx context.Context, conversationID int64) (*turn.Pending, error)
	Snapshots(ctx context.Context) ([]turn.Pending, error)
	Read(ctx context.Context, conversationID int64, lastID string, block time.Duration) ([]status.Entry, error)
}

type Services struct {
	stores       store.Provider
	producer     queue.Producer
	status       StatusReader
	forwardLimit int
}

func NewServices(stores store.Provider, producer queue.Producer, status StatusReader, forwardLimit int) *Services {
	return &Services{
		stores:       stores,
		producer:     producer,
		status:       status,
		forwardLimit: forwardLimit,
	}
}

func (s *Services) Conversations() ConversationService {
	return NewConversationService(s.stores, s.producer)
}

func (s *Services) Tasks() TaskService {
	return NewTaskService(s.producer, s.status)
}

func (s *Services) Directives() DirectiveService {
	return NewDirectiveService(s.stores.Directives())
}

func (s *Services) Forward() ForwardService {
	return NewForwardService(s.stores, s.producer, s.forwardLimit)
}
