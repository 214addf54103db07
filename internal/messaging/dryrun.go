package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"basegraph.app/scambait/common/id"
	"basegraph.app/scambait/common/logger"
)

// Call is one recorded DryRun operation.
type Call struct {
	Op             string
	Text           string
	ReplyTo        *int64
	Duration       time.Duration
	ConversationID int64
	MessageID      int64
}

// DryRun logs and records every operation without touching the platform.
// Sent messages get snowflake ids so later edits and deletes can refer to them.
type DryRun struct {
	mu    sync.Mutex
	calls []Call
}

func NewDryRun() *DryRun {
	return &DryRun{}
}

func (d *DryRun) record(ctx context.Context, c Call) {
	d.mu.Lock()
	d.calls = append(d.calls, c)
	d.mu.Unlock()

	slog.InfoContext(ctx, "dry-run messaging call",
		"op", c.Op,
		"conversation_id", c.ConversationID,
		"message_id", c.MessageID,
		"text", logger.Truncate(c.Text, 200))
}

// Calls returns a copy of the recorded operations in order.
func (d *DryRun) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

func (d *DryRun) MarkRead(ctx context.Context, conversationID int64) error {
	d.record(ctx, Call{Op: "mark_read", ConversationID: conversationID})
	return nil
}

func (d *DryRun) ShowTyping(ctx context.Context, conversationID int64, dur time.Duration) error {
	d.record(ctx, Call{Op: "typing", ConversationID: conversationID, Duration: dur})
	return nil
}

func (d *DryRun) SendText(ctx context.Context, conversationID int64, text string, replyTo *int64) (int64, error) {
	messageID := id.New()
	d.record(ctx, Call{Op: "send", ConversationID: conversationID, MessageID: messageID, Text: text, ReplyTo: replyTo})
	return messageID, nil
}

func (d *DryRun) EditText(ctx context.Context, conversationID, messageID int64, text string) error {
	d.record(ctx, Call{Op: "edit", ConversationID: conversationID, MessageID: messageID, Text: text})
	return nil
}

func (d *DryRun) DeleteMessage(ctx context.Context, conversationID, messageID int64) error {
	d.record(ctx, Call{Op: "delete", ConversationID: conversationID, MessageID: messageID})
	return nil
}

func (d *DryRun) ResolveEntity(ctx context.Context, conversationID int64) (*Entity, error) {
	d.record(ctx, Call{Op: "resolve", ConversationID: conversationID})
	return &Entity{ID: conversationID, Kind: "user"}, nil
}
