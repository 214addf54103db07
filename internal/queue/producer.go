package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Producer interface {
	// Enqueue adds task to the stream and returns its task id.
	Enqueue(ctx context.Context, task Task) (string, error)
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, task Task) (string, error) {
	if !task.Type.valid() {
		return "", fmt.Errorf("enqueue: unknown task_type %q", task.Type)
	}
	if task.Type.needsConversation() && task.ConversationID == 0 {
		return "", fmt.Errorf("enqueue %s: missing conversation_id", task.Type)
	}
	if task.Type == TaskTypeSetAuto && task.Enabled == nil {
		return "", fmt.Errorf("enqueue %s: missing enabled", task.Type)
	}

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Attempt <= 0 {
		task.Attempt = 1
	}

	msg := Message{
		TaskID:          task.ID,
		TaskType:        task.Type,
		ConversationID:  task.ConversationID,
		Trigger:         task.Trigger,
		Enabled:         task.Enabled,
		ConversationIDs: task.ConversationIDs,
	}
	if task.TraceID != nil {
		msg.TraceID = *task.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: msg.encode(task.Attempt),
	}).Err(); err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued task",
		"task_id", task.ID,
		"task_type", task.Type,
		"conversation_id", task.ConversationID,
		"attempt", task.Attempt)
	return task.ID, nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
