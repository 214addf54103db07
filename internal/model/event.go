package model

import "time"

type EventRole string

const (
	RoleScammer EventRole = "scammer"
	RoleManual  EventRole = "manual"
	RoleBaiter  EventRole = "baiter"
	RoleSystem  EventRole = "system"
)

const (
	EventTypeMessage = "message"
	EventTypePhoto   = "photo"
	EventTypeSticker = "sticker"
	EventTypeForward = "forward"
)

// Event is one entry of a conversation timeline. ExternalID is unique per conversation.
type Event struct {
	CreatedAt      time.Time      `json:"created_at"`
	TsUTC          *time.Time     `json:"ts_utc,omitempty"`
	Meta           map[string]any `json:"meta,omitempty"`
	ExternalID     string         `json:"source_message_id"`
	EventType      string         `json:"event_type"`
	Role           EventRole      `json:"role"`
	Text           string         `json:"text,omitempty"`
	ID             int64          `json:"id"`
	ConversationID int64          `json:"conversation_id"`
}

// IsInbound reports whether the event came from the counterparty.
func (e Event) IsInbound() bool {
	return e.Role == RoleScammer
}

// IsOutbound reports whether the event was sent on our side.
func (e Event) IsOutbound() bool {
	return e.Role == RoleBaiter || e.Role == RoleManual
}

// At returns the platform timestamp, falling back to the insert time.
func (e Event) At() time.Time {
	if e.TsUTC != nil {
		return *e.TsUTC
	}
	return e.CreatedAt
}
