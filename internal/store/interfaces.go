package store

import (
	"context"
	"errors"

	"basegraph.app/scambait/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// EventStore defines the contract for conversation timeline access
type EventStore interface {
	// Append inserts e unless an event with the same ExternalID exists in the
	// conversation, in which case the stored row is returned with created=false.
	Append(ctx context.Context, e *model.Event) (*model.Event, bool, error)
	// List returns the newest limit events in timeline order. limit <= 0 means all.
	List(ctx context.Context, conversationID int64, limit int) ([]model.Event, error)
	ConversationIDs(ctx context.Context) ([]int64, error)
}

// TurnStore defines the contract for generation result access
type TurnStore interface {
	// Save persists t with its analysis deep-merged over the previous turn's.
	Save(ctx context.Context, t *model.Turn) (*model.Turn, error)
	Latest(ctx context.Context, conversationID int64) (*model.Turn, error)
}

// DirectiveStore defines the contract for operator directive access
type DirectiveStore interface {
	Add(ctx context.Context, d *model.Directive) (*model.Directive, error)
	ListActive(ctx context.Context, conversationID int64) ([]model.Directive, error)
	Deactivate(ctx context.Context, conversationID int64, ids []int64) (int, error)
}

// AttemptStore defines the contract for the generation audit trail
type AttemptStore interface {
	Record(ctx context.Context, a *model.GenerationAttempt) error
	List(ctx context.Context, conversationID int64, limit int) ([]model.GenerationAttempt, error)
}

// ProfileStore defines the contract for counterparty profile access
type ProfileStore interface {
	// Apply merges patch into the snapshot and records one change per differing leaf.
	Apply(ctx context.Context, conversationID int64, patch map[string]any, source string) (*model.Profile, []model.ProfileChange, error)
	Get(ctx context.Context, conversationID int64) (*model.Profile, error)
	Changes(ctx context.Context, conversationID int64, limit int) ([]model.ProfileChange, error)
}

// MemoryStore defines the contract for per-conversation key/value memory
type MemoryStore interface {
	Upsert(ctx context.Context, conversationID int64, key, value string) error
	Get(ctx context.Context, conversationID int64, key string) (*model.MemoryEntry, error)
	List(ctx context.Context, conversationID int64) ([]model.MemoryEntry, error)
	Delete(ctx context.Context, conversationID int64, key string) error
}

// Provider hands out the sub-stores. Implementations serialize writes.
type Provider interface {
	Events() EventStore
	Turns() TurnStore
	Directives() DirectiveStore
	Attempts() AttemptStore
	Profiles() ProfileStore
	Memory() MemoryStore
	// WithTx runs fn with stores bound to one unit of work, holding the write lock throughout.
	WithTx(ctx context.Context, fn func(Provider) error) error
}
