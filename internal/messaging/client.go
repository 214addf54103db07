package messaging

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the platform does not know the conversation or message.
var ErrNotFound = errors.New("messaging: not found")

// Entity is the platform's view of a conversation peer.
type Entity struct {
	ID       int64  `json:"id"`
	Kind     string `json:"kind"`
	Title    string `json:"title,omitempty"`
	Username string `json:"username,omitempty"`
}

// Client is the messaging-platform surface the turn machine drives.
// Message ids are the platform's ids within the conversation.
type Client interface {
	MarkRead(ctx context.Context, conversationID int64) error
	ShowTyping(ctx context.Context, conversationID int64, d time.Duration) error
	// SendText sends text, optionally as a reply, and returns the new message id.
	SendText(ctx context.Context, conversationID int64, text string, replyTo *int64) (int64, error)
	EditText(ctx context.Context, conversationID, messageID int64, text string) error
	DeleteMessage(ctx context.Context, conversationID, messageID int64) error
	ResolveEntity(ctx context.Context, conversationID int64) (*Entity, error)
}
