package turn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type EventKind string

const (
	EventStateChanged  EventKind = "state_changed"
	EventWarningRaised EventKind = "warning_raised"
)

// Event is one notification from the machine. State is a snapshot taken
// under the machine lock.
type Event struct {
	At             time.Time `json:"at"`
	State          *Pending  `json:"state,omitempty"`
	Kind           EventKind `json:"kind"`
	Warning        string    `json:"warning,omitempty"`
	ConversationID int64     `json:"conversation_id"`
}

// Listener handles a bus event. A returned error is logged and otherwise ignored.
type Listener func(ctx context.Context, e Event) error

// Bus delivers events synchronously to every listener in subscription order.
type Bus struct {
	mu        sync.RWMutex
	listeners []Listener
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	listeners := append([]Listener(nil), b.listeners...)
	b.mu.RUnlock()

	for i, l := range listeners {
		if err := deliver(ctx, l, e); err != nil {
			slog.WarnContext(ctx, "turn event listener failed",
				"listener", i,
				"kind", e.Kind,
				"conversation_id", e.ConversationID,
				"error", err)
		}
	}
}

func deliver(ctx context.Context, l Listener, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return l(ctx, e)
}
