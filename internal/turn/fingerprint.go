package turn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"basegraph.app/scambait/internal/model"
)

// Fingerprint hashes the counterparty side of a timeline. Our own sends
// do not change it, so replying never re-triggers generation by itself.
func Fingerprint(events []model.Event) string {
	h := sha256.New()
	for _, e := range events {
		if !e.IsInbound() {
			continue
		}
		fmt.Fprintf(h, "%s\x1f%s\x1f%s\x1e", e.ExternalID, e.EventType, e.Text)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ScheduleAutoGeneration schedules a generation only when new scammer-side
// events arrived since the last automatic run.
func (m *Machine) ScheduleAutoGeneration(ctx context.Context, id int64, trigger string) (bool, error) {
	events, err := m.stores.Events().List(ctx, id, 0)
	if err != nil {
		return false, fmt.Errorf("listing events: %w", err)
	}
	fp := Fingerprint(events)

	m.mu.Lock()
	unchanged := m.fingerprints[id] == fp
	m.mu.Unlock()
	if unchanged {
		return false, nil
	}

	if !m.ScheduleGeneration(id, trigger) {
		return false, nil
	}

	m.mu.Lock()
	m.fingerprints[id] = fp
	m.mu.Unlock()
	return true, nil
}
