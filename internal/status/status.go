// Package status mirrors turn machine events into Redis: a capped stream per
// conversation for live feeds and a hash holding each conversation's latest snapshot.
package status

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/scambait/internal/turn"
)

const (
	KindStateChanged    = string(turn.EventStateChanged)
	KindWarningRaised   = string(turn.EventWarningRaised)
	KindDryRunResult    = "dry_run_result"
	defaultStreamMaxLen = 2000
)

// Entry is one decoded status stream record.
type Entry struct {
	ID             string          `json:"id"`
	Kind           string          `json:"kind"`
	ConversationID int64           `json:"conversation_id"`
	At             time.Time       `json:"at"`
	State          *turn.Pending   `json:"state,omitempty"`
	Warning        string          `json:"warning,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Keys names the Redis keys the feed lives under.
type Keys struct {
	StreamPrefix string
	Hash         string
}

func (k Keys) stream(conversationID int64) string {
	return fmt.Sprintf("%s:conversation-%d", k.StreamPrefix, conversationID)
}

func field(conversationID int64) string {
	return strconv.FormatInt(conversationID, 10)
}

func entryValues(e Entry) (map[string]any, error) {
	values := map[string]any{
		"kind":            e.Kind,
		"conversation_id": e.ConversationID,
		"ts":              e.At.UTC().Format(time.RFC3339Nano),
	}
	if e.State != nil {
		data, err := json.Marshal(e.State)
		if err != nil {
			return nil, fmt.Errorf("encoding state: %w", err)
		}
		values["state"] = string(data)
	}
	if e.Warning != "" {
		values["warning"] = e.Warning
	}
	if len(e.Payload) > 0 {
		values["payload"] = string(e.Payload)
	}
	return values, nil
}

// ParseEntry decodes a status stream message.
func ParseEntry(msg redis.XMessage) (Entry, error) {
	e := Entry{ID: msg.ID}
	e.Kind, _ = msg.Values["kind"].(string)
	if e.Kind == "" {
		return Entry{}, fmt.Errorf("status entry %s: missing kind", msg.ID)
	}
	if raw, ok := msg.Values["conversation_id"]; ok {
		id, err := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
		if err != nil {
			return Entry{}, fmt.Errorf("status entry %s: parsing conversation_id: %w", msg.ID, err)
		}
		e.ConversationID = id
	}
	if ts, ok := msg.Values["ts"].(string); ok {
		if at, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.At = at
		}
	}
	if raw, ok := msg.Values["state"].(string); ok && raw != "" {
		var p turn.Pending
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return Entry{}, fmt.Errorf("status entry %s: decoding state: %w", msg.ID, err)
		}
		e.State = &p
	}
	e.Warning, _ = msg.Values["warning"].(string)
	if raw, ok := msg.Values["payload"].(string); ok && raw != "" {
		e.Payload = json.RawMessage(raw)
	}
	return e, nil
}
