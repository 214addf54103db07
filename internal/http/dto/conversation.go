package dto

import (
	"time"

	"basegraph.app/scambait/internal/model"
	"basegraph.app/scambait/internal/service"
)

type IngestEventRequest struct {
	SourceMessageID string          `json:"source_message_id,omitempty" binding:"max=255"`
	EventType       string          `json:"event_type,omitempty" binding:"max=64"`
	Role            model.EventRole `json:"role" binding:"required"`
	Text            string          `json:"text,omitempty"`
	TsUTC           *time.Time      `json:"ts_utc,omitempty"`
	Meta            map[string]any  `json:"meta,omitempty"`
}

type IngestEventResponse struct {
	Event      *model.Event `json:"event"`
	TaskID     string       `json:"task_id,omitempty"`
	Enqueued   bool         `json:"enqueued"`
	Duplicated bool         `json:"duplicated"`
}

func ToIngestEventResponse(res *service.IngestEventResult) IngestEventResponse {
	return IngestEventResponse{
		Event:      res.Event,
		TaskID:     res.TaskID,
		Enqueued:   res.Enqueued,
		Duplicated: res.Duplicated,
	}
}

type ConversationsResponse struct {
	ConversationIDs []int64 `json:"conversation_ids"`
}

type EventsResponse struct {
	Events []model.Event `json:"events"`
}

type AttemptsResponse struct {
	Attempts []model.GenerationAttempt `json:"attempts"`
}

type ProfileChangesResponse struct {
	Changes []model.ProfileChange `json:"changes"`
}

type MemoryResponse struct {
	Memory []model.MemoryEntry `json:"memory"`
}
