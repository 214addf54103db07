package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"basegraph.app/scambait/common/logger"
	"basegraph.app/scambait/internal/store"
)

// ErrScanBusy is returned when a bulk scan is already running.
var ErrScanBusy = errors.New("scan already running")

const TriggerScan = "scan"

// ScanReport summarizes one bulk scan.
type ScanReport struct {
	Scheduled []int64 `json:"scheduled"`
	Skipped   []int64 `json:"skipped"`
	Failed    []int64 `json:"failed"`
}

// Scanner runs bulk auto-generation passes, one at a time.
type Scanner struct {
	mu      sync.Mutex
	machine *Machine
	events  store.EventStore
}

func NewScanner(machine *Machine, events store.EventStore) *Scanner {
	return &Scanner{machine: machine, events: events}
}

// Scan schedules auto generation for ids, or for every stored conversation
// when ids is empty. It does not wait for the generations themselves.
func (s *Scanner) Scan(ctx context.Context, ids []int64) (ScanReport, error) {
	if !s.mu.TryLock() {
		return ScanReport{}, ErrScanBusy
	}
	defer s.mu.Unlock()

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "scambait.turn.scanner"})

	if len(ids) == 0 {
		all, err := s.events.ConversationIDs(ctx)
		if err != nil {
			return ScanReport{}, fmt.Errorf("listing conversations: %w", err)
		}
		ids = all
	}

	var report ScanReport
	for _, id := range ids {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		scheduled, err := s.machine.ScheduleAutoGeneration(ctx, id, TriggerScan)
		switch {
		case err != nil:
			slog.WarnContext(ctx, "scan failed for conversation", "conversation_id", id, "error", err)
			report.Failed = append(report.Failed, id)
		case scheduled:
			report.Scheduled = append(report.Scheduled, id)
		default:
			report.Skipped = append(report.Skipped, id)
		}
	}

	slog.InfoContext(ctx, "scan completed",
		"scheduled", len(report.Scheduled),
		"skipped", len(report.Skipped),
		"failed", len(report.Failed))
	return report, nil
}
