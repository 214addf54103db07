package forward

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"basegraph.app/scambait/internal/model"
	"basegraph.app/scambait/internal/store"
)

type Mode string

const (
	ModeAppend     Mode = "append"
	ModeBackfill   Mode = "backfill"
	ModeBlocked    Mode = "blocked"
	ModeUnresolved Mode = "unresolved"

	// DefaultEventsLimit bounds how much stored history a batch is compared against.
	DefaultEventsLimit = 5000
)

// MergeDecision says whether and how a batch of payloads may be inserted.
type MergeDecision struct {
	Mode           Mode      `json:"mode"`
	InsertPayloads []Payload `json:"insert_payloads"`
	Reason         string    `json:"reason"`
}

// Insertable reports whether the decision carries payloads to insert.
func (d MergeDecision) Insertable() bool {
	return d.Mode == ModeAppend || d.Mode == ModeBackfill
}

func blocked(mode Mode, reason string) MergeDecision {
	return MergeDecision{Mode: mode, InsertPayloads: []Payload{}, Reason: reason}
}

// Plan decides how payloads merge into target's stored timeline. Items already
// present are dropped, changed items are marked as revisions, and the batch is
// appended only when it clearly extends the stored counterparty sequence.
func Plan(ctx context.Context, events store.EventStore, target int64, payloads []Payload, allowPlaceholder bool) (MergeDecision, error) {
	return plan(ctx, events, DefaultEventsLimit, target, payloads, allowPlaceholder)
}

func plan(ctx context.Context, events store.EventStore, limit int, target int64, payloads []Payload, allowPlaceholder bool) (MergeDecision, error) {
	if target <= 0 && !allowPlaceholder {
		return blocked(ModeUnresolved, "target chat unresolved"), nil
	}
	if len(payloads) == 0 {
		return blocked(ModeBlocked, "batch empty"), nil
	}
	missing := 0
	for _, p := range payloads {
		if _, ok := payloadIdentityKey(p); !ok {
			missing++
		}
	}
	if missing > 0 {
		return blocked(ModeBlocked, fmt.Sprintf("%d item(s) missing forward_identity", missing)), nil
	}

	existing, err := events.List(ctx, target, limit)
	if err != nil {
		return MergeDecision{}, fmt.Errorf("listing events: %w", err)
	}

	byIdentity := make(map[string][]model.Event)
	var storedScammerKeys []string
	seen := make(map[string]bool)
	for _, e := range existing {
		key, ok := eventIdentityKey(e)
		if !ok {
			continue
		}
		byIdentity[key] = append(byIdentity[key], e)
		if e.Role == model.RoleScammer && !seen[key] {
			seen[key] = true
			storedScammerKeys = append(storedScammerKeys, key)
		}
	}

	var (
		inserts        []Payload
		batchKeys      []string
		newScammerKeys int
	)
	for _, p := range payloads {
		key, _ := payloadIdentityKey(p)
		rows := byIdentity[key]
		if p.Role == model.RoleScammer {
			batchKeys = append(batchKeys, key)
			if len(rows) == 0 {
				newScammerKeys++
			}
		}

		same, changed := compareRows(p, rows)
		if same {
			continue
		}
		candidate := p
		candidate.Meta = maps.Clone(p.Meta)
		if candidate.Meta == nil {
			candidate.Meta = map[string]any{}
		}
		if changed {
			candidate.Meta["revision_of_forward_identity_key"] = key
			candidate.Meta["revision_reason"] = "content_changed"
		}
		inserts = append(inserts, candidate)
	}

	if len(inserts) == 0 {
		return blocked(ModeBlocked, "batch already present"), nil
	}

	mode := ModeBackfill
	if newScammerKeys > 0 && extendsTail(storedScammerKeys, batchKeys) {
		mode = ModeAppend
	}
	return MergeDecision{
		Mode:           mode,
		InsertPayloads: inserts,
		Reason:         fmt.Sprintf("%s %d item(s)", mode, len(inserts)),
	}, nil
}

// compareRows checks a payload against the stored rows with its identity key.
// A placeholder "forward" row counts as changed once a richer type arrives.
func compareRows(p Payload, rows []model.Event) (same, changed bool) {
	payloadType := strings.ToLower(strings.TrimSpace(p.EventType))
	for _, row := range rows {
		if strings.ToLower(strings.TrimSpace(row.EventType)) == model.EventTypeForward && payloadType != model.EventTypeForward {
			changed = true
			continue
		}
		if row.EventType == p.EventType && row.Text == p.Text {
			return true, changed
		}
		changed = true
	}
	return false, changed
}

// extendsTail reports whether the batch's counterparty keys continue the stored
// sequence: the known prefix matches the stored tail and no known key follows a new one.
func extendsTail(stored, batch []string) bool {
	if len(stored) == 0 {
		return true
	}
	pos := make(map[string]bool, len(stored))
	for _, k := range stored {
		pos[k] = true
	}
	firstNew := len(batch)
	for i, k := range batch {
		if !pos[k] {
			firstNew = i
			break
		}
	}
	for _, k := range batch[firstNew:] {
		if pos[k] {
			return false
		}
	}
	prefix := batch[:firstNew]
	if len(prefix) == 0 || len(prefix) > len(stored) {
		return false
	}
	return slices.Equal(prefix, stored[len(stored)-len(prefix):])
}

func payloadIdentityKey(p Payload) (string, bool) {
	if key, ok := metaIdentityKey(p.Meta); ok {
		return key, true
	}
	if p.OriginMessageID != nil {
		return "legacy_origin:" + strconv.FormatInt(*p.OriginMessageID, 10), true
	}
	if p.SourceMessageID != "" {
		return "legacy_source:" + p.SourceMessageID, true
	}
	return "", false
}

func eventIdentityKey(e model.Event) (string, bool) {
	if key, ok := metaIdentityKey(e.Meta); ok {
		return key, true
	}
	if id, ok := asInt64(e.Meta["origin_message_id"]); ok {
		return "legacy_origin:" + strconv.FormatInt(id, 10), true
	}
	if e.ExternalID != "" {
		return "legacy_source:" + e.ExternalID, true
	}
	return "", false
}

func metaIdentityKey(meta map[string]any) (string, bool) {
	identity, ok := meta["forward_identity"].(map[string]any)
	if !ok {
		return "", false
	}
	key, ok := identity["key"].(string)
	return key, ok && key != ""
}

// asInt64 accepts the integer shapes meta values take in memory and after a JSON round trip.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	case interface{ Int64() (int64, error) }:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	return 0, false
}
