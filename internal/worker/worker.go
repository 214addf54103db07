package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"basegraph.app/scambait/common/logger"
	"basegraph.app/scambait/internal/queue"
)

const readBackoff = time.Second

type Config struct {
	// MaxAttempts is how many times a failing task runs before it is dead-lettered.
	MaxAttempts int
}

// Worker pulls tasks off the queue and hands them to the Dispatcher. Tasks
// only start or signal turn work, so one worker goroutine drains the stream.
type Worker struct {
	consumer   Consumer
	dispatcher *Dispatcher
	cfg        Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, dispatcher *Dispatcher, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Worker{
		consumer:   consumer,
		dispatcher: dispatcher,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}
}

// Run reads batches until Stop is called or ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "scambait.worker"})
	slog.InfoContext(ctx, "worker started", "max_attempts", w.cfg.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
		}

		msgs, err := w.consumer.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.ErrorContext(ctx, "reading tasks failed", "error", err)
			}
			w.sleep(ctx, readBackoff)
			continue
		}
		for _, msg := range msgs {
			if err := w.ProcessMessage(ctx, msg); err != nil {
				w.retryOrBury(ctx, msg, err)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-t.C:
	}
}

// ProcessMessage dispatches one task and acks it on success. The reclaimer
// runs claimed tasks through here too; failures are left to the caller.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	fields := logger.LogFields{
		MessageID: logger.Ptr(msg.ID),
		TaskType:  logger.Ptr(string(msg.TaskType)),
	}
	if msg.TaskID != "" {
		fields.TaskID = logger.Ptr(msg.TaskID)
	}
	if msg.ConversationID != 0 {
		fields.ConversationID = logger.Ptr(msg.ConversationID)
	}
	if msg.Trigger != "" {
		fields.Trigger = logger.Ptr(msg.Trigger)
	}
	ctx = logger.WithLogFields(ctx, fields)

	span := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.task."+string(msg.TaskType))
	defer span.End()
	ctx = span.Context()

	if err := w.dispatch(ctx, msg); err != nil {
		span.RecordError(err)
		slog.WarnContext(ctx, "task failed", "attempt", msg.Attempt, "error", err)
		return err
	}

	// an unacked task is reclaimed later; every task type tolerates a replay
	if err := w.consumer.Ack(ctx, msg); err != nil {
		slog.WarnContext(ctx, "ack failed", "error", err)
	}
	return nil
}

func (w *Worker) dispatch(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "task panicked", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.dispatcher.Dispatch(ctx, msg)
}

// retryOrBury requeues a failed task or, once it used its attempts, dead-letters it.
func (w *Worker) retryOrBury(ctx context.Context, msg queue.Message, cause error) {
	if msg.Attempt < w.cfg.MaxAttempts {
		if err := w.consumer.Requeue(ctx, msg, cause.Error()); err != nil {
			slog.ErrorContext(ctx, "requeue failed", "message_id", msg.ID, "error", err)
		}
		return
	}
	if err := w.consumer.SendDLQ(ctx, msg, cause.Error()); err != nil {
		slog.ErrorContext(ctx, "dead-letter failed", "message_id", msg.ID, "error", err)
	}
}
