package brain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"basegraph.app/scambait/common/llm"
	"basegraph.app/scambait/internal/contract"
	"basegraph.app/scambait/internal/model"
	"basegraph.app/scambait/internal/store"
)

const directivesMarker = "[OPERATOR_DIRECTIVES]"

// promptContext is everything loaded from Store for one generation.
type promptContext struct {
	Events       []model.Event
	Profile      *model.Profile
	Memory       []model.MemoryEntry
	Directives   []model.Directive
	LastAnalysis map[string]any
}

// contextBuilder loads conversation state and renders it into the model thread.
type contextBuilder struct {
	stores       store.Provider
	historyLimit int
}

func (b *contextBuilder) load(ctx context.Context, conversationID int64) (promptContext, error) {
	var pc promptContext

	events, err := b.stores.Events().List(ctx, conversationID, b.historyLimit)
	if err != nil {
		return pc, fmt.Errorf("listing events: %w", err)
	}
	pc.Events = events

	profile, err := b.stores.Profiles().Get(ctx, conversationID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return pc, fmt.Errorf("fetching profile: %w", err)
	}
	pc.Profile = profile

	memory, err := b.stores.Memory().List(ctx, conversationID)
	if err != nil {
		return pc, fmt.Errorf("listing memory: %w", err)
	}
	pc.Memory = memory

	directives, err := b.stores.Directives().ListActive(ctx, conversationID)
	if err != nil {
		return pc, fmt.Errorf("listing directives: %w", err)
	}
	pc.Directives = directives

	turn, err := b.stores.Turns().Latest(ctx, conversationID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return pc, fmt.Errorf("fetching latest turn: %w", err)
	default:
		pc.LastAnalysis = turn.Analysis
	}

	return pc, nil
}

// build returns the thread in order: contract prompt, timing, directives, conversation.
func (b *contextBuilder) build(conversationID int64, pc promptContext, toolMode bool, now time.Time) []llm.Message {
	system := contract.TextModePrompt
	if toolMode {
		system = contract.ToolModePrompt
	}

	messages := make([]llm.Message, 0, 4)
	messages = append(messages,
		llm.Message{Role: llm.RoleSystem, Content: system + "\n" + contract.TimingPrompt},
		llm.Message{Role: llm.RoleUser, Content: mustJSON(map[string]any{"timing": ComputeTiming(pc.Events, now)})},
	)

	if block := directivesBlock(pc.Directives); block != "" {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: block})
	}

	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: mustJSON(conversationPayload(conversationID, pc)),
	})
	return messages
}

func directivesBlock(directives []model.Directive) string {
	if len(directives) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(directivesMarker)
	for _, d := range directives {
		text := strings.TrimSpace(d.Text)
		if text == "" {
			continue
		}
		sb.WriteString("\n#")
		sb.WriteString(strconv.FormatInt(d.ID, 10))
		sb.WriteString(": ")
		sb.WriteString(text)
	}
	return sb.String()
}

type promptEvent struct {
	ID        string          `json:"id"`
	Role      model.EventRole `json:"role"`
	EventType string          `json:"event_type"`
	Text      string          `json:"text,omitempty"`
	TsUTC     string          `json:"ts_utc"`
}

func conversationPayload(conversationID int64, pc promptContext) map[string]any {
	events := make([]promptEvent, 0, len(pc.Events))
	for _, e := range pc.Events {
		text := e.Text
		if text == "" && e.EventType != model.EventTypeMessage {
			text = "[" + e.EventType + "]"
		}
		events = append(events, promptEvent{
			ID:        e.ExternalID,
			Role:      e.Role,
			EventType: e.EventType,
			Text:      text,
			TsUTC:     e.At().UTC().Format(time.RFC3339),
		})
	}

	memory := make(map[string]string, len(pc.Memory))
	for _, m := range pc.Memory {
		memory[m.Key] = m.Value
	}

	payload := map[string]any{
		"conversation_id": conversationID,
		"events":          events,
		"memory":          memory,
	}
	if pc.Profile != nil {
		payload["profile"] = pc.Profile.Snapshot
	}
	if len(pc.LastAnalysis) > 0 {
		payload["previous_analysis"] = pc.LastAnalysis
	}
	return payload
}

// titleFor picks a display title for a conversation from its profile.
func titleFor(conversationID int64, profile *model.Profile) string {
	if profile != nil {
		if identity, ok := profile.Snapshot["identity"].(map[string]any); ok {
			if name, ok := identity["display_name"].(string); ok && strings.TrimSpace(name) != "" {
				return strings.TrimSpace(name)
			}
		}
	}
	return "Conversation " + strconv.FormatInt(conversationID, 10)
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
