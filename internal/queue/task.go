package queue

import (
	"fmt"
	"strconv"
	"strings"
)

type TaskType string

const (
	TaskTypeInboundMessage TaskType = "inbound_message"
	TaskTypeGenerate       TaskType = "generate"
	TaskTypeTriggerSend    TaskType = "trigger_send"
	TaskTypeAbortSend      TaskType = "abort_send"
	TaskTypeSkip           TaskType = "skip"
	TaskTypeSetAuto        TaskType = "set_auto"
	TaskTypeDryRun         TaskType = "dry_run"
	TaskTypeScan           TaskType = "scan"
)

// Task is one unit of work for the engine worker.
type Task struct {
	Type           TaskType
	ID             string // assigned by the producer when empty
	ConversationID int64
	Trigger        string
	// Enabled is the requested auto mode for set_auto.
	Enabled *bool
	// ConversationIDs limits a scan; empty means every conversation.
	ConversationIDs []int64
	TraceID         *string
	Attempt         int
}

// needsConversation reports whether the task type targets one conversation.
func (t TaskType) needsConversation() bool {
	return t != TaskTypeScan
}

func (t TaskType) valid() bool {
	switch t {
	case TaskTypeInboundMessage, TaskTypeGenerate, TaskTypeTriggerSend, TaskTypeAbortSend,
		TaskTypeSkip, TaskTypeSetAuto, TaskTypeDryRun, TaskTypeScan:
		return true
	}
	return false
}

// StatusStreamName is the per-conversation status feed stream.
func StatusStreamName(prefix string, conversationID int64) string {
	return fmt.Sprintf("%s:conversation-%d", prefix, conversationID)
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func splitIDs(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing conversation_ids: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
