package queue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Message is a task as read back from the stream.
type Message struct {
	ID              string
	TaskID          string
	TaskType        TaskType
	ConversationID  int64
	Trigger         string
	Enabled         *bool
	ConversationIDs []int64
	Attempt         int
	TraceID         string
	Raw             redis.XMessage
}

// MessageProcessor processes a queue message.
type MessageProcessor func(ctx context.Context, msg Message) error

// fields reads stream entry values. Redis returns every value as a string;
// the first failure sticks and later reads are no-ops.
type fields struct {
	values map[string]any
	err    error
}

func (f *fields) str(key string, required bool) string {
	if f.err != nil {
		return ""
	}
	raw, ok := f.values[key]
	if !ok {
		if required {
			f.err = fmt.Errorf("missing %s", key)
		}
		return ""
	}
	return fmt.Sprint(raw)
}

func (f *fields) int64(key string) int64 {
	raw := f.str(key, true)
	if f.err != nil {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		f.err = fmt.Errorf("parsing %s: %w", key, err)
	}
	return n
}

func (f *fields) attempt() int {
	raw := f.str("attempt", false)
	if f.err != nil || raw == "" {
		return 1
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		f.err = fmt.Errorf("parsing attempt: %w", err)
		return 0
	}
	return max(n, 1)
}

func (f *fields) flag(key string) *bool {
	raw := f.str(key, true)
	if f.err != nil {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		f.err = fmt.Errorf("parsing %s: %w", key, err)
		return nil
	}
	return &v
}

// ParseMessage decodes a stream entry written by the producer or a requeue.
func ParseMessage(raw redis.XMessage) (Message, error) {
	f := &fields{values: raw.Values}

	taskType := TaskType(f.str("task_type", true))
	if f.err != nil {
		return Message{}, f.err
	}
	if !taskType.valid() {
		return Message{}, fmt.Errorf("unknown task_type %q", taskType)
	}

	msg := Message{
		ID:       raw.ID,
		TaskType: taskType,
		TaskID:   f.str("task_id", false),
		Trigger:  f.str("trigger", false),
		TraceID:  f.str("trace_id", false),
		Attempt:  f.attempt(),
		Raw:      raw,
	}

	switch {
	case taskType == TaskTypeScan:
		ids, err := splitIDs(f.str("conversation_ids", false))
		if err != nil {
			return Message{}, err
		}
		msg.ConversationIDs = ids
	case taskType == TaskTypeSetAuto:
		msg.ConversationID = f.int64("conversation_id")
		msg.Enabled = f.flag("enabled")
	default:
		msg.ConversationID = f.int64("conversation_id")
	}

	if f.err != nil {
		return Message{}, f.err
	}
	return msg, nil
}

// encode renders msg as stream entry values for the given attempt.
func (msg Message) encode(attempt int) map[string]any {
	values := map[string]any{
		"task_type": string(msg.TaskType),
		"attempt":   attempt,
	}
	if msg.TaskType.needsConversation() {
		values["conversation_id"] = msg.ConversationID
	}

	optional := map[string]string{
		"task_id":  msg.TaskID,
		"trigger":  msg.Trigger,
		"trace_id": msg.TraceID,
	}
	if msg.Enabled != nil {
		optional["enabled"] = strconv.FormatBool(*msg.Enabled)
	}
	if len(msg.ConversationIDs) > 0 {
		optional["conversation_ids"] = joinIDs(msg.ConversationIDs)
	}
	for k, v := range optional {
		if v != "" {
			values[k] = v
		}
	}
	return values
}
