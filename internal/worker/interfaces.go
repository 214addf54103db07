package worker

import (
	"context"

	"basegraph.app/scambait/internal/brain"
	"basegraph.app/scambait/internal/queue"
	"basegraph.app/scambait/internal/turn"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// Engine is the part of the turn machine tasks are dispatched to.
type Engine interface {
	ScheduleGeneration(id int64, trigger string) bool
	ScheduleAutoGeneration(ctx context.Context, id int64, trigger string) (bool, error)
	TriggerSend(id int64, trigger string) bool
	AbortSend(id int64) (string, bool)
	RequestSkip(id int64) bool
	SetAutoMode(id int64, on bool)
}

type Scanner interface {
	Scan(ctx context.Context, ids []int64) (turn.ScanReport, error)
}

// DryRunPublisher reports dry-run generations, which never reach the machine.
type DryRunPublisher interface {
	PublishDryRun(ctx context.Context, conversationID int64, trigger string, result *brain.Result, genErr error) error
}
