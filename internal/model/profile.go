package model

import "time"

const ProfileSourceForward = "botapi_forward"

type Profile struct {
	UpdatedAt      time.Time      `json:"updated_at"`
	Snapshot       map[string]any `json:"snapshot"`
	ConversationID int64          `json:"conversation_id"`
}

// ProfileChange records one leaf field of a profile changing value.
type ProfileChange struct {
	ChangedAt      time.Time `json:"changed_at"`
	OldValue       any       `json:"old_value"`
	NewValue       any       `json:"new_value"`
	FieldPath      string    `json:"field_path"`
	Source         string    `json:"source"`
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
}

type MemoryEntry struct {
	UpdatedAt      time.Time `json:"updated_at"`
	Key            string    `json:"key"`
	Value          string    `json:"value"`
	ConversationID int64     `json:"conversation_id"`
}
