package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/scambait/internal/turn"
)

// ErrNoSnapshot is returned when a conversation has no recorded state.
var ErrNoSnapshot = errors.New("no state snapshot")

// Reader serves the status feed to the API process.
type Reader struct {
	client redis.Cmdable
	keys   Keys
}

func NewReader(client redis.Cmdable, keys Keys) *Reader {
	return &Reader{client: client, keys: keys}
}

// Snapshot returns the latest published state of a conversation.
func (r *Reader) Snapshot(ctx context.Context, conversationID int64) (*turn.Pending, error) {
	raw, err := r.client.HGet(ctx, r.keys.Hash, field(conversationID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("hget %s: %w", r.keys.Hash, err)
	}
	var p turn.Pending
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &p, nil
}

// Snapshots returns every published state ordered by conversation id.
func (r *Reader) Snapshots(ctx context.Context) ([]turn.Pending, error) {
	all, err := r.client.HGetAll(ctx, r.keys.Hash).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", r.keys.Hash, err)
	}
	out := make([]turn.Pending, 0, len(all))
	for key, raw := range all {
		var p turn.Pending
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			slog.WarnContext(ctx, "skipping undecodable snapshot", "conversation_id", key, "error", err)
			continue
		}
		if p.ConversationID == 0 {
			p.ConversationID, _ = strconv.ParseInt(key, 10, 64)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationID < out[j].ConversationID })
	return out, nil
}

// Read blocks up to block for entries after lastID ("$" for only new ones).
// An empty result with a nil error means the wait timed out.
func (r *Reader) Read(ctx context.Context, conversationID int64, lastID string, block time.Duration) ([]Entry, error) {
	if lastID == "" {
		lastID = "$"
	}
	res, err := r.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{r.keys.stream(conversationID), lastID},
		Block:   block,
		Count:   100,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xread: %w", err)
	}

	var entries []Entry
	for _, stream := range res {
		for _, msg := range stream.Messages {
			e, err := ParseEntry(msg)
			if err != nil {
				slog.WarnContext(ctx, "skipping malformed status entry", "error", err)
				e = Entry{ID: msg.ID, Kind: "unknown", ConversationID: conversationID}
			}
			entries = append(entries, e)
		}
	}
	return entries, nil
}
