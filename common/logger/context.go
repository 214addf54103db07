package logger

import (
	"context"
	"log/slog"
	"unicode/utf8"
)

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are attached to every record logged with a context that carries them.
type LogFields struct {
	ConversationID *int64
	TaskID         *string
	MessageID      *string // redis stream entry id
	Trigger        *string // "inbound", "manual", "auto-timeout", ...
	TaskType       *string
	Component      string // e.g. "scambait.turn.machine"
}

// WithLogFields merges fields into the context. Set fields win over existing ones.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := GetLogFields(ctx).merge(fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func (f LogFields) merge(other LogFields) LogFields {
	if other.ConversationID != nil {
		f.ConversationID = other.ConversationID
	}
	if other.TaskID != nil {
		f.TaskID = other.TaskID
	}
	if other.MessageID != nil {
		f.MessageID = other.MessageID
	}
	if other.Trigger != nil {
		f.Trigger = other.Trigger
	}
	if other.TaskType != nil {
		f.TaskType = other.TaskType
	}
	if other.Component != "" {
		f.Component = other.Component
	}
	return f
}

func (f LogFields) attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 6)
	if f.ConversationID != nil {
		attrs = append(attrs, slog.Int64("conversation_id", *f.ConversationID))
	}
	if f.TaskID != nil {
		attrs = append(attrs, slog.String("task_id", *f.TaskID))
	}
	if f.MessageID != nil {
		attrs = append(attrs, slog.String("message_id", *f.MessageID))
	}
	if f.Trigger != nil {
		attrs = append(attrs, slog.String("trigger", *f.Trigger))
	}
	if f.TaskType != nil {
		attrs = append(attrs, slog.String("task_type", *f.TaskType))
	}
	if f.Component != "" {
		attrs = append(attrs, slog.String("component", f.Component))
	}
	return attrs
}

func Ptr[T any](v T) *T {
	return &v
}

// Truncate shortens s to at most maxLen bytes without splitting a rune,
// appending "..." when anything was cut.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
