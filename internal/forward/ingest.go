package forward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"basegraph.app/scambait/common/logger"
	"basegraph.app/scambait/internal/model"
	"basegraph.app/scambait/internal/store"
)

// IngestResult reports what a batch did to the timeline.
type IngestResult struct {
	Decision  MergeDecision `json:"decision"`
	Inserted  []model.Event `json:"inserted"`
	Duplicate int           `json:"duplicate"`
}

type Ingester struct {
	stores store.Provider
	limit  int
}

// NewIngester compares batches against at most limit stored events; limit <= 0 uses DefaultEventsLimit.
func NewIngester(stores store.Provider, limit int) *Ingester {
	if limit <= 0 {
		limit = DefaultEventsLimit
	}
	return &Ingester{stores: stores, limit: limit}
}

// Plan previews the merge decision for a batch without writing anything.
func (i *Ingester) Plan(ctx context.Context, target int64, payloads []Payload, allowPlaceholder bool) (MergeDecision, error) {
	return plan(ctx, i.stores.Events(), i.limit, target, payloads, allowPlaceholder)
}

// Ingest plans the batch and, when insertable, writes it in one unit of work.
// Profile patches from each payload's forward_profile are applied in order.
func (i *Ingester) Ingest(ctx context.Context, target int64, payloads []Payload, allowPlaceholder bool) (*IngestResult, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConversationID: logger.Ptr(target),
		Component:      "scambait.forward.ingester",
	})

	decision, err := i.Plan(ctx, target, payloads, allowPlaceholder)
	if err != nil {
		return nil, fmt.Errorf("planning forward merge: %w", err)
	}
	result := &IngestResult{Decision: decision, Inserted: []model.Event{}}
	if !decision.Insertable() {
		slog.InfoContext(ctx, "forward batch not inserted", "mode", decision.Mode, "reason", decision.Reason)
		return result, nil
	}

	err = i.stores.WithTx(ctx, func(tx store.Provider) error {
		for _, p := range decision.InsertPayloads {
			if p.SourceMessageID == "" {
				return errors.New("payload without source_message_id")
			}
			stored, created, err := tx.Events().Append(ctx, &model.Event{
				ConversationID: target,
				ExternalID:     p.SourceMessageID,
				EventType:      p.EventType,
				Role:           p.Role,
				Text:           p.Text,
				TsUTC:          p.TsUTC,
				Meta:           p.Meta,
			})
			if err != nil {
				return fmt.Errorf("appending %s: %w", p.SourceMessageID, err)
			}
			if !created {
				result.Duplicate++
				continue
			}
			result.Inserted = append(result.Inserted, *stored)

			profile, _ := p.Meta["forward_profile"].(map[string]any)
			if len(profile) == 0 {
				continue
			}
			patch := ProfilePatch(profile)
			if len(patch) == 0 {
				continue
			}
			if _, _, err := tx.Profiles().Apply(ctx, target, patch, model.ProfileSourceForward); err != nil {
				return fmt.Errorf("applying profile patch: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "forward batch ingested",
		"mode", decision.Mode,
		"inserted", len(result.Inserted),
		"duplicate", result.Duplicate)
	return result, nil
}

// ProfilePatch maps a forward_profile block onto the profile snapshot layout.
// Empty blocks are dropped.
func ProfilePatch(forwardProfile map[string]any) map[string]any {
	identity := map[string]any{}
	account := map[string]any{}

	if user, ok := forwardProfile["sender_user"].(map[string]any); ok {
		if id, ok := asInt64(user["id"]); ok {
			identity["telegram_user_id"] = id
		}
		putTrimmed(identity, "username", user["username"])
		putTrimmed(identity, "first_name", user["first_name"])
		putTrimmed(identity, "last_name", user["last_name"])
		if isBot, ok := user["is_bot"].(bool); ok {
			account["is_bot"] = isBot
		}
		putTrimmed(account, "lang_code", user["language_code"])
	}
	if chat, ok := forwardProfile["sender_chat"].(map[string]any); ok {
		if id, ok := asInt64(chat["id"]); ok {
			identity["telegram_chat_id"] = id
		}
		putTrimmed(identity, "display_name", chat["title"])
		putTrimmed(identity, "username", chat["username"])
	}
	putTrimmed(identity, "display_name", forwardProfile["sender_user_name"])

	if _, ok := identity["display_name"]; !ok {
		if first, ok := identity["first_name"].(string); ok {
			name := first
			if last, ok := identity["last_name"].(string); ok {
				name = strings.TrimSpace(first + " " + last)
			}
			identity["display_name"] = name
		}
	}

	patch := map[string]any{
		"provenance": map[string]any{"last_source": model.ProfileSourceForward},
	}
	if len(identity) > 0 {
		patch["identity"] = identity
	}
	if len(account) > 0 {
		patch["account"] = account
	}
	return patch
}

func putTrimmed(m map[string]any, key string, value any) {
	s, ok := value.(string)
	if !ok {
		return
	}
	if s = strings.TrimSpace(s); s != "" {
		m[key] = s
	}
}
