package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"basegraph.app/scambait/common/id"
	"basegraph.app/scambait/core/db"
	"basegraph.app/scambait/internal/model"
	"github.com/jackc/pgx/v5"
)

type profileStore struct {
	pg pgConn
}

func newProfileStore(pg pgConn) ProfileStore {
	return &profileStore{pg: pg}
}

func (s *profileStore) Apply(ctx context.Context, conversationID int64, patch map[string]any, source string) (*model.Profile, []model.ProfileChange, error) {
	defer s.pg.guard.write()()

	var (
		profile *model.Profile
		changes []model.ProfileChange
	)
	err := s.pg.tx(ctx, func(conn db.DBTX) error {
		current, err := getProfile(ctx, conn, conversationID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		before := map[string]any{}
		if current != nil {
			before = current.Snapshot
		}

		merged := model.DeepMerge(before, patch)
		diff := model.DiffLeaves(before, merged)
		if len(diff) == 0 && current != nil {
			profile = current
			return nil
		}

		snapshot, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("encoding profile: %w", err)
		}
		profile = &model.Profile{ConversationID: conversationID, Snapshot: merged}
		err = conn.QueryRow(ctx, `
			INSERT INTO profiles (conversation_id, snapshot, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (conversation_id) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = now()
			RETURNING updated_at`,
			conversationID, snapshot).Scan(&profile.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upserting profile: %w", err)
		}

		for _, c := range diff {
			change := model.ProfileChange{
				ID:             id.New(),
				ConversationID: conversationID,
				FieldPath:      c.Path,
				OldValue:       c.Old,
				NewValue:       c.New,
				Source:         source,
			}
			oldValue, _ := json.Marshal(c.Old)
			newValue, _ := json.Marshal(c.New)
			err := conn.QueryRow(ctx, `
				INSERT INTO profile_changes (id, conversation_id, field_path, old_value, new_value, source)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING changed_at`,
				change.ID, conversationID, c.Path, oldValue, newValue, source).Scan(&change.ChangedAt)
			if err != nil {
				return fmt.Errorf("recording profile change %s: %w", c.Path, err)
			}
			changes = append(changes, change)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return profile, changes, nil
}

func (s *profileStore) Get(ctx context.Context, conversationID int64) (*model.Profile, error) {
	defer s.pg.guard.read()()
	return getProfile(ctx, s.pg.conn, conversationID)
}

func (s *profileStore) Changes(ctx context.Context, conversationID int64, limit int) ([]model.ProfileChange, error) {
	defer s.pg.guard.read()()

	rows, err := s.pg.conn.Query(ctx, `
		SELECT id, conversation_id, field_path, old_value, new_value, source, changed_at
		FROM profile_changes
		WHERE conversation_id = $1
		ORDER BY id DESC
		LIMIT NULLIF($2, 0)`,
		conversationID, max(limit, 0))
	if err != nil {
		return nil, fmt.Errorf("listing profile changes: %w", err)
	}
	defer rows.Close()

	var result []model.ProfileChange
	for rows.Next() {
		var (
			c                  model.ProfileChange
			oldValue, newValue []byte
		)
		if err := rows.Scan(&c.ID, &c.ConversationID, &c.FieldPath, &oldValue, &newValue, &c.Source, &c.ChangedAt); err != nil {
			return nil, fmt.Errorf("scanning profile change: %w", err)
		}
		if len(oldValue) > 0 {
			_ = json.Unmarshal(oldValue, &c.OldValue)
		}
		if len(newValue) > 0 {
			_ = json.Unmarshal(newValue, &c.NewValue)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func getProfile(ctx context.Context, conn db.DBTX, conversationID int64) (*model.Profile, error) {
	var (
		p        model.Profile
		snapshot []byte
	)
	err := conn.QueryRow(ctx,
		`SELECT conversation_id, snapshot, updated_at FROM profiles WHERE conversation_id = $1`,
		conversationID).Scan(&p.ConversationID, &snapshot, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading profile: %w", err)
	}
	if err := json.Unmarshal(snapshot, &p.Snapshot); err != nil {
		return nil, fmt.Errorf("decoding profile: %w", err)
	}
	return &p, nil
}
