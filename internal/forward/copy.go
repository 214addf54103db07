package forward

import (
	"strings"
	"time"

	"basegraph.app/scambait/internal/model"
)

// Origin kinds as reported by the platform for a forwarded message.
const (
	OriginUser       = "MessageOriginUser"
	OriginHiddenUser = "MessageOriginHiddenUser"
	OriginChat       = "MessageOriginChat"
	OriginChannel    = "MessageOriginChannel"
)

type User struct {
	ID           *int64 `json:"id,omitempty"`
	IsBot        *bool  `json:"is_bot,omitempty"`
	Username     string `json:"username,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

type Chat struct {
	ID       *int64 `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Title    string `json:"title,omitempty"`
	Username string `json:"username,omitempty"`
}

// Origin describes where a forwarded message originally came from.
type Origin struct {
	Date           *time.Time `json:"date,omitempty"`
	MessageID      *int64     `json:"message_id,omitempty"`
	SenderUser     *User      `json:"sender_user,omitempty"`
	SenderChat     *Chat      `json:"sender_chat,omitempty"`
	Kind           string     `json:"kind"`
	SenderUserName string     `json:"sender_user_name,omitempty"`
}

// Copy is a forwarded message as received in the operator's control chat.
type Copy struct {
	Date             time.Time `json:"date"`
	Origin           *Origin   `json:"origin,omitempty"`
	ControlSender    *User     `json:"control_sender,omitempty"`
	Text             string    `json:"text,omitempty"`
	Caption          string    `json:"caption,omitempty"`
	PhotoUniqueID    string    `json:"photo_unique_id,omitempty"`
	ControlChatID    int64     `json:"control_chat_id"`
	ControlMessageID int64     `json:"control_message_id"`
	HasPhoto         bool      `json:"has_photo,omitempty"`
	HasSticker       bool      `json:"has_sticker,omitempty"`
}

// EventType classifies the copy the way timeline events are typed.
func (c Copy) EventType() string {
	switch {
	case c.HasSticker:
		return model.EventTypeSticker
	case c.HasPhoto:
		return model.EventTypePhoto
	case c.body() != "":
		return model.EventTypeMessage
	default:
		return model.EventTypeForward
	}
}

func (c Copy) body() string {
	if text := strings.TrimSpace(c.Text); text != "" {
		return text
	}
	return strings.TrimSpace(c.Caption)
}

// senderChatID is the id of the chat the original was posted in, if any.
func (o *Origin) senderChatID() (int64, bool) {
	if o == nil || o.SenderChat == nil || o.SenderChat.ID == nil {
		return 0, false
	}
	return *o.SenderChat.ID, true
}

func (o *Origin) senderUserID() (int64, bool) {
	if o == nil || o.SenderUser == nil || o.SenderUser.ID == nil {
		return 0, false
	}
	return *o.SenderUser.ID, true
}

// InferTarget returns the conversation a copy belongs to: the origin chat, else the origin user.
func InferTarget(c Copy) (int64, bool) {
	if id, ok := c.Origin.senderChatID(); ok {
		return id, true
	}
	return c.Origin.senderUserID()
}

// InferRole attributes a copy to the counterparty when its origin matches target.
func InferRole(c Copy, target int64) model.EventRole {
	if id, ok := c.Origin.senderChatID(); ok && id == target {
		return model.RoleScammer
	}
	if id, ok := c.Origin.senderUserID(); ok && id == target {
		return model.RoleScammer
	}
	return model.RoleManual
}
