package dto

import (
	"basegraph.app/scambait/internal/queue"
	"basegraph.app/scambait/internal/turn"
)

type TriggerRequest struct {
	Trigger string `json:"trigger,omitempty" binding:"max=64"`
}

type AutoModeRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type ScanRequest struct {
	ConversationIDs []int64 `json:"conversation_ids,omitempty"`
}

type TaskResponse struct {
	TaskID         string         `json:"task_id"`
	Type           queue.TaskType `json:"type"`
	ConversationID int64          `json:"conversation_id,omitempty"`
}

type StatesResponse struct {
	States []turn.Pending `json:"states"`
}
