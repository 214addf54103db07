package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"basegraph.app/scambait/internal/brain"
	"basegraph.app/scambait/internal/queue"
	"basegraph.app/scambait/internal/turn"
)

const (
	TriggerInbound = "inbound"
	TriggerManual  = "manual"
)

// Dispatcher routes queue tasks to the engine.
type Dispatcher struct {
	engine  Engine
	gen     brain.Generator
	scanner Scanner
	dryRun  DryRunPublisher
}

func NewDispatcher(engine Engine, gen brain.Generator, scanner Scanner, dryRun DryRunPublisher) *Dispatcher {
	return &Dispatcher{engine: engine, gen: gen, scanner: scanner, dryRun: dryRun}
}

// Dispatch runs one task. Machine operations that turn out to be no-ops are
// logged and count as handled; only infrastructure failures return errors.
func (d *Dispatcher) Dispatch(ctx context.Context, msg queue.Message) error {
	id := msg.ConversationID
	trigger := msg.Trigger

	switch msg.TaskType {
	case queue.TaskTypeInboundMessage:
		scheduled, err := d.engine.ScheduleAutoGeneration(ctx, id, orDefault(trigger, TriggerInbound))
		if err != nil {
			return fmt.Errorf("scheduling generation: %w", err)
		}
		logOutcome(ctx, "generation for inbound message", scheduled)

	case queue.TaskTypeGenerate:
		logOutcome(ctx, "generation", d.engine.ScheduleGeneration(id, orDefault(trigger, TriggerManual)))

	case queue.TaskTypeTriggerSend:
		logOutcome(ctx, "send", d.engine.TriggerSend(id, orDefault(trigger, TriggerManual)))

	case queue.TaskTypeAbortSend:
		explanation, ok := d.engine.AbortSend(id)
		slog.InfoContext(ctx, "abort handled", "aborted", ok, "explanation", explanation)

	case queue.TaskTypeSkip:
		logOutcome(ctx, "skip", d.engine.RequestSkip(id))

	case queue.TaskTypeSetAuto:
		if msg.Enabled == nil {
			return errors.New("set_auto without enabled flag")
		}
		d.engine.SetAutoMode(id, *msg.Enabled)
		slog.InfoContext(ctx, "auto mode set", "enabled", *msg.Enabled)

	case queue.TaskTypeDryRun:
		return d.runDryRun(ctx, id, orDefault(trigger, TriggerManual))

	case queue.TaskTypeScan:
		report, err := d.scanner.Scan(ctx, msg.ConversationIDs)
		if errors.Is(err, turn.ErrScanBusy) {
			slog.InfoContext(ctx, "scan already running, dropping task")
			return nil
		}
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		slog.InfoContext(ctx, "scan finished",
			"scheduled", len(report.Scheduled),
			"skipped", len(report.Skipped),
			"failed", len(report.Failed))

	default:
		return fmt.Errorf("unknown task_type %q", msg.TaskType)
	}
	return nil
}

// runDryRun generates without registering the plan or writing memory. The
// outcome, failures included, is published for the operator instead of retried.
func (d *Dispatcher) runDryRun(ctx context.Context, id int64, trigger string) error {
	result, genErr := d.gen.Generate(ctx, brain.Request{ConversationID: id, Trigger: trigger, DryRun: true})
	if genErr != nil {
		slog.WarnContext(ctx, "dry run generation failed", "error", genErr)
	}
	if err := d.dryRun.PublishDryRun(ctx, id, trigger, result, genErr); err != nil {
		return fmt.Errorf("publishing dry run: %w", err)
	}
	return nil
}

func logOutcome(ctx context.Context, what string, started bool) {
	if started {
		slog.InfoContext(ctx, what+" started")
		return
	}
	slog.InfoContext(ctx, what+" not applicable in current state")
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
