package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/scambait/common/logger"
)

type ConsumerConfig struct {
	Stream    string
	Group     string
	Consumer  string
	DLQStream string
	BatchSize int64
	Block     time.Duration
	// RequeueDelay is waited before a failed task is appended again.
	RequeueDelay time.Duration
}

// RedisConsumer reads tasks through a consumer group. Failed tasks are
// re-appended with a bumped attempt or moved to the dead-letter stream.
type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func NewRedisConsumer(client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	c := &RedisConsumer{client: client, cfg: cfg}

	// "0" keeps tasks enqueued before the group existed.
	err := client.XGroupCreateMkStream(context.Background(), cfg.Stream, cfg.Group, "0").Err() //nolint:contextcheck
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("creating consumer group %s on %s: %w", cfg.Group, cfg.Stream, err)
	}
	return c, nil
}

func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "scambait.queue.consumer"})

	// ">" only delivers new entries; stale pending ones belong to the reclaimer.
	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s: %w", c.cfg.Stream, err)
	}

	var out []Message
	for _, stream := range res {
		for _, entry := range stream.Messages {
			msg, err := ParseMessage(entry)
			if err != nil {
				slog.ErrorContext(ctx, "dropping malformed task", "error", err, "entry_id", entry.ID)
				_ = c.Ack(ctx, Message{ID: entry.ID, Raw: entry})
				continue
			}
			out = append(out, msg)
		}
	}
	return out, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack %s %s: %w", c.cfg.Stream, msg.ID, err)
	}
	return nil
}

// Requeue acks msg and appends a copy with the next attempt number.
func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, errMsg string) error {
	values := msg.encode(msg.Attempt + 1)
	if errMsg != "" {
		values["last_error"] = logger.Truncate(errMsg, 512)
	}

	if c.cfg.RequeueDelay > 0 {
		timer := time.NewTimer(c.cfg.RequeueDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	if err := c.move(ctx, msg, c.cfg.Stream, values); err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	slog.InfoContext(ctx, "task requeued",
		"task_id", msg.TaskID,
		"task_type", msg.TaskType,
		"next_attempt", msg.Attempt+1,
		"reason", errMsg)
	return nil
}

// SendDLQ acks msg and appends it to the dead-letter stream with the final error.
func (c *RedisConsumer) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	values := msg.encode(msg.Attempt)
	values["error"] = errMsg

	if err := c.move(ctx, msg, c.cfg.DLQStream, values); err != nil {
		return fmt.Errorf("dead-letter: %w", err)
	}
	slog.ErrorContext(ctx, "task dead-lettered",
		"task_id", msg.TaskID,
		"task_type", msg.TaskType,
		"error", errMsg,
		"dlq_stream", c.cfg.DLQStream)
	return nil
}

func (c *RedisConsumer) move(ctx context.Context, msg Message, stream string, values map[string]any) error {
	if err := c.Ack(ctx, msg); err != nil {
		return err
	}
	if err := c.client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}
