package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/scambait/common/logger"
	"basegraph.app/scambait/internal/queue"
)

type RedisReclaimerConfig struct {
	Stream    string
	Group     string
	Consumer  string
	MinIdle   time.Duration
	Interval  time.Duration
	BatchSize int64
	// MaxDeliveries dead-letters a task once it has been delivered this many
	// times. Zero retries forever.
	MaxDeliveries int64
}

// RedisReclaimer periodically claims tasks left pending by a worker that
// died between XREADGROUP and XACK, and runs them again.
type RedisReclaimer struct {
	client    redis.Cmdable
	cfg       RedisReclaimerConfig
	consumer  Consumer
	processor queue.MessageProcessor

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// reclaimStats summarizes one cycle.
type reclaimStats struct {
	Claimed      int
	Processed    int
	Failed       int
	DeadLettered int
}

func NewRedisReclaimer(client redis.Cmdable, cfg RedisReclaimerConfig, consumer Consumer, processor queue.MessageProcessor) *RedisReclaimer {
	return &RedisReclaimer{
		client:    client,
		cfg:       cfg,
		consumer:  consumer,
		processor: processor,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run ticks until Stop is called or ctx ends.
func (r *RedisReclaimer) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "scambait.worker.reclaimer",
	})
	defer close(r.stoppedCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reclaimer started",
		"interval", r.cfg.Interval,
		"min_idle", r.cfg.MinIdle,
		"max_deliveries", r.cfg.MaxDeliveries,
		"stream", r.cfg.Stream)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			slog.InfoContext(ctx, "reclaimer stopping")
			return
		case <-ticker.C:
			stats, err := r.reclaimOnce(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "reclaim cycle error", "error", err)
				continue
			}
			if stats.Claimed > 0 {
				slog.InfoContext(ctx, "reclaim cycle finished",
					"claimed", stats.Claimed,
					"processed", stats.Processed,
					"failed", stats.Failed,
					"dead_lettered", stats.DeadLettered)
			}
		}
	}
}

func (r *RedisReclaimer) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
}

// reclaimOnce claims every stale entry in one XCLAIM and runs them in stream order.
func (r *RedisReclaimer) reclaimOnce(ctx context.Context) (reclaimStats, error) {
	var stats reclaimStats

	pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: r.cfg.Stream,
		Group:  r.cfg.Group,
		Idle:   r.cfg.MinIdle,
		Start:  "-",
		End:    "+",
		Count:  r.cfg.BatchSize,
	}).Result()
	if err != nil {
		return stats, fmt.Errorf("xpending: %w", err)
	}
	if len(pending) == 0 {
		return stats, nil
	}

	deliveries := make(map[string]int64, len(pending))
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		deliveries[p.ID] = p.RetryCount
		ids = append(ids, p.ID)
	}

	claimed, err := r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   r.cfg.Stream,
		Group:    r.cfg.Group,
		Consumer: r.cfg.Consumer,
		MinIdle:  r.cfg.MinIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return stats, fmt.Errorf("xclaim: %w", err)
	}
	stats.Claimed = len(claimed)

	for _, raw := range claimed {
		switch r.runClaimed(ctx, raw, deliveries[raw.ID]) {
		case outcomeProcessed:
			stats.Processed++
		case outcomeDeadLettered:
			stats.DeadLettered++
		case outcomeFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

type reclaimOutcome int

const (
	outcomeProcessed reclaimOutcome = iota
	outcomeFailed
	outcomeDeadLettered
)

func (r *RedisReclaimer) runClaimed(ctx context.Context, raw redis.XMessage, delivered int64) reclaimOutcome {
	ctx = logger.WithLogFields(ctx, logger.LogFields{MessageID: logger.Ptr(raw.ID)})

	msg, err := queue.ParseMessage(raw)
	if err != nil {
		// unparseable entries can never succeed; drop them rather than loop
		slog.ErrorContext(ctx, "dropping malformed reclaimed task", "error", err)
		_ = r.consumer.Ack(ctx, queue.Message{ID: raw.ID, Raw: raw})
		return outcomeFailed
	}

	exhausted := r.cfg.MaxDeliveries > 0 && delivered >= r.cfg.MaxDeliveries
	if exhausted && delivered > r.cfg.MaxDeliveries {
		// a task that keeps killing its worker never gets another run
		return r.deadLetter(ctx, msg, fmt.Sprintf("delivered %d times without ack", delivered))
	}

	start := time.Now()
	if err := r.processor(ctx, msg); err != nil {
		if exhausted {
			return r.deadLetter(ctx, msg, err.Error())
		}
		slog.WarnContext(ctx, "reclaimed task failed, leaving it pending",
			"error", err,
			"task_type", msg.TaskType,
			"deliveries", delivered)
		return outcomeFailed
	}

	slog.InfoContext(ctx, "reclaimed task processed",
		"task_type", msg.TaskType,
		"conversation_id", msg.ConversationID,
		"duration_ms", time.Since(start).Milliseconds())
	return outcomeProcessed
}

func (r *RedisReclaimer) deadLetter(ctx context.Context, msg queue.Message, reason string) reclaimOutcome {
	if err := r.consumer.SendDLQ(ctx, msg, reason); err != nil {
		slog.ErrorContext(ctx, "failed to dead-letter reclaimed task", "error", err)
		return outcomeFailed
	}
	slog.WarnContext(ctx, "reclaimed task dead-lettered", "task_type", msg.TaskType, "reason", reason)
	return outcomeDeadLettered
}
