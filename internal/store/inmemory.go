package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"basegraph.app/scambait/common/id"
	"basegraph.app/scambait/internal/model"
)

// InMemory is a Provider backed by process memory, used by tests and dry-run setups.
// WithTx serializes like the Postgres provider but cannot roll back.
type InMemory struct {
	data  *memData
	guard guard
}

type memData struct {
	events     map[int64][]model.Event
	turns      map[int64][]model.Turn
	directives map[int64][]model.Directive
	attempts   map[int64][]model.GenerationAttempt
	profiles   map[int64]model.Profile
	changes    map[int64][]model.ProfileChange
	memory     map[int64]map[string]model.MemoryEntry
}

func NewInMemory() *InMemory {
	return &InMemory{
		data: &memData{
			events:     make(map[int64][]model.Event),
			turns:      make(map[int64][]model.Turn),
			directives: make(map[int64][]model.Directive),
			attempts:   make(map[int64][]model.GenerationAttempt),
			profiles:   make(map[int64]model.Profile),
			changes:    make(map[int64][]model.ProfileChange),
			memory:     make(map[int64]map[string]model.MemoryEntry),
		},
		guard: guard{mu: &sync.RWMutex{}},
	}
}

func (m *InMemory) Events() EventStore         { return &memEvents{m} }
func (m *InMemory) Turns() TurnStore           { return &memTurns{m} }
func (m *InMemory) Directives() DirectiveStore { return &memDirectives{m} }
func (m *InMemory) Attempts() AttemptStore     { return &memAttempts{m} }
func (m *InMemory) Profiles() ProfileStore     { return &memProfiles{m} }
func (m *InMemory) Memory() MemoryStore        { return &memMemory{m} }

func (m *InMemory) WithTx(_ context.Context, fn func(Provider) error) error {
	if m.guard.held {
		return fn(m)
	}
	defer m.guard.write()()
	return fn(&InMemory{data: m.data, guard: guard{mu: m.guard.mu, held: true}})
}

type memEvents struct{ m *InMemory }

func (s *memEvents) Append(_ context.Context, e *model.Event) (*model.Event, bool, error) {
	defer s.m.guard.write()()

	stored := *e
	if stored.ID == 0 {
		stored.ID = id.New()
	}
	if stored.ExternalID == "" {
		stored.ExternalID = fmt.Sprintf("evt:%d", stored.ID)
	}
	for _, existing := range s.m.data.events[e.ConversationID] {
		if existing.ExternalID == stored.ExternalID {
			return &existing, false, nil
		}
	}
	stored.Meta = cloneMap(stored.Meta)
	stored.CreatedAt = time.Now().UTC()
	s.m.data.events[e.ConversationID] = append(s.m.data.events[e.ConversationID], stored)
	return &stored, true, nil
}

func (s *memEvents) List(_ context.Context, conversationID int64, limit int) ([]model.Event, error) {
	defer s.m.guard.read()()

	events := s.m.data.events[conversationID]
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return append([]model.Event(nil), events...), nil
}

func (s *memEvents) ConversationIDs(context.Context) ([]int64, error) {
	defer s.m.guard.read()()

	ids := make([]int64, 0, len(s.m.data.events))
	for cid := range s.m.data.events {
		ids = append(ids, cid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type memTurns struct{ m *InMemory }

func (s *memTurns) Save(_ context.Context, t *model.Turn) (*model.Turn, error) {
	defer s.m.guard.write()()

	previous := map[string]any{}
	if turns := s.m.data.turns[t.ConversationID]; len(turns) > 0 {
		previous = turns[len(turns)-1].Analysis
	}
	saved := *t
	saved.ID = id.New()
	saved.Analysis = model.DeepMerge(previous, t.Analysis)
	saved.Metadata = cloneMap(t.Metadata)
	if len(saved.Actions) == 0 {
		saved.Actions = json.RawMessage("[]")
	}
	saved.CreatedAt = time.Now().UTC()
	s.m.data.turns[t.ConversationID] = append(s.m.data.turns[t.ConversationID], saved)
	return &saved, nil
}

func (s *memTurns) Latest(_ context.Context, conversationID int64) (*model.Turn, error) {
	defer s.m.guard.read()()

	turns := s.m.data.turns[conversationID]
	if len(turns) == 0 {
		return nil, ErrNotFound
	}
	latest := turns[len(turns)-1]
	return &latest, nil
}

type memDirectives struct{ m *InMemory }

func (s *memDirectives) Add(_ context.Context, d *model.Directive) (*model.Directive, error) {
	defer s.m.guard.write()()

	added := *d
	added.ID = id.New()
	added.Active = true
	if added.Scope == "" {
		added.Scope = model.DirectiveScopeChat
	}
	added.CreatedAt = time.Now().UTC()
	s.m.data.directives[d.ConversationID] = append(s.m.data.directives[d.ConversationID], added)
	return &added, nil
}

func (s *memDirectives) ListActive(_ context.Context, conversationID int64) ([]model.Directive, error) {
	defer s.m.guard.read()()

	var result []model.Directive
	for _, d := range s.m.data.directives[conversationID] {
		if d.Active {
			result = append(result, d)
		}
	}
	return result, nil
}

func (s *memDirectives) Deactivate(_ context.Context, conversationID int64, ids []int64) (int, error) {
	defer s.m.guard.write()()

	wanted := make(map[int64]struct{}, len(ids))
	for _, did := range ids {
		wanted[did] = struct{}{}
	}
	count := 0
	directives := s.m.data.directives[conversationID]
	for i := range directives {
		if _, ok := wanted[directives[i].ID]; ok && directives[i].Active {
			directives[i].Active = false
			count++
		}
	}
	return count, nil
}

type memAttempts struct{ m *InMemory }

func (s *memAttempts) Record(_ context.Context, a *model.GenerationAttempt) error {
	defer s.m.guard.write()()

	if a.ID == 0 {
		a.ID = id.New()
	}
	a.CreatedAt = time.Now().UTC()
	s.m.data.attempts[a.ConversationID] = append(s.m.data.attempts[a.ConversationID], *a)
	return nil
}

func (s *memAttempts) List(_ context.Context, conversationID int64, limit int) ([]model.GenerationAttempt, error) {
	defer s.m.guard.read()()

	attempts := s.m.data.attempts[conversationID]
	result := make([]model.GenerationAttempt, 0, len(attempts))
	for i := len(attempts) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, attempts[i])
	}
	return result, nil
}

type memProfiles struct{ m *InMemory }

func (s *memProfiles) Apply(_ context.Context, conversationID int64, patch map[string]any, source string) (*model.Profile, []model.ProfileChange, error) {
	defer s.m.guard.write()()

	current, exists := s.m.data.profiles[conversationID]
	before := current.Snapshot
	if before == nil {
		before = map[string]any{}
	}
	merged := model.DeepMerge(before, patch)
	diff := model.DiffLeaves(before, merged)
	if len(diff) == 0 && exists {
		return &current, nil, nil
	}

	now := time.Now().UTC()
	profile := model.Profile{ConversationID: conversationID, Snapshot: merged, UpdatedAt: now}
	s.m.data.profiles[conversationID] = profile

	changes := make([]model.ProfileChange, 0, len(diff))
	for _, c := range diff {
		changes = append(changes, model.ProfileChange{
			ID:             id.New(),
			ConversationID: conversationID,
			FieldPath:      c.Path,
			OldValue:       c.Old,
			NewValue:       c.New,
			Source:         source,
			ChangedAt:      now,
		})
	}
	s.m.data.changes[conversationID] = append(s.m.data.changes[conversationID], changes...)
	return &profile, changes, nil
}

func (s *memProfiles) Get(_ context.Context, conversationID int64) (*model.Profile, error) {
	defer s.m.guard.read()()

	p, ok := s.m.data.profiles[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *memProfiles) Changes(_ context.Context, conversationID int64, limit int) ([]model.ProfileChange, error) {
	defer s.m.guard.read()()

	changes := s.m.data.changes[conversationID]
	result := make([]model.ProfileChange, 0, len(changes))
	for i := len(changes) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, changes[i])
	}
	return result, nil
}

type memMemory struct{ m *InMemory }

func (s *memMemory) Upsert(_ context.Context, conversationID int64, key, value string) error {
	defer s.m.guard.write()()

	entries, ok := s.m.data.memory[conversationID]
	if !ok {
		entries = make(map[string]model.MemoryEntry)
		s.m.data.memory[conversationID] = entries
	}
	entries[key] = model.MemoryEntry{ConversationID: conversationID, Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return nil
}

func (s *memMemory) Get(_ context.Context, conversationID int64, key string) (*model.MemoryEntry, error) {
	defer s.m.guard.read()()

	entry, ok := s.m.data.memory[conversationID][key]
	if !ok {
		return nil, ErrNotFound
	}
	return &entry, nil
}

func (s *memMemory) List(_ context.Context, conversationID int64) ([]model.MemoryEntry, error) {
	defer s.m.guard.read()()

	entries := s.m.data.memory[conversationID]
	result := make([]model.MemoryEntry, 0, len(entries))
	for _, e := range entries {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

func (s *memMemory) Delete(_ context.Context, conversationID int64, key string) error {
	defer s.m.guard.write()()

	if _, ok := s.m.data.memory[conversationID][key]; !ok {
		return ErrNotFound
	}
	delete(s.m.data.memory[conversationID], key)
	return nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
