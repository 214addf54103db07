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

const turnColumns = `id, conversation_id, title, suggestion, analysis, actions, metadata, created_at`

type turnStore struct {
	pg pgConn
}

func newTurnStore(pg pgConn) TurnStore {
	return &turnStore{pg: pg}
}

func (s *turnStore) Save(ctx context.Context, t *model.Turn) (*model.Turn, error) {
	defer s.pg.guard.write()()

	var saved *model.Turn
	err := s.pg.tx(ctx, func(conn db.DBTX) error {
		previous := map[string]any{}
		prev, err := scanTurn(conn.QueryRow(ctx,
			`SELECT `+turnColumns+` FROM turns WHERE conversation_id = $1 ORDER BY id DESC LIMIT 1`,
			t.ConversationID))
		switch {
		case err == nil:
			previous = prev.Analysis
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("loading previous analysis: %w", err)
		}

		analysis, err := json.Marshal(model.DeepMerge(previous, t.Analysis))
		if err != nil {
			return fmt.Errorf("encoding analysis: %w", err)
		}
		metadata, err := json.Marshal(nonNilMap(t.Metadata))
		if err != nil {
			return fmt.Errorf("encoding metadata: %w", err)
		}
		actions := []byte(t.Actions)
		if len(actions) == 0 {
			actions = []byte("[]")
		}

		saved, err = scanTurn(conn.QueryRow(ctx, `
			INSERT INTO turns (id, conversation_id, title, suggestion, analysis, actions, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+turnColumns,
			id.New(), t.ConversationID, t.Title, t.Suggestion, analysis, actions, metadata))
		if err != nil {
			return fmt.Errorf("inserting turn: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *turnStore) Latest(ctx context.Context, conversationID int64) (*model.Turn, error) {
	defer s.pg.guard.read()()

	t, err := scanTurn(s.pg.conn.QueryRow(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE conversation_id = $1 ORDER BY id DESC LIMIT 1`,
		conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

func scanTurn(row pgx.Row) (*model.Turn, error) {
	var (
		t                  model.Turn
		analysis, metadata []byte
		actions            []byte
	)
	if err := row.Scan(&t.ID, &t.ConversationID, &t.Title, &t.Suggestion, &analysis, &actions, &metadata, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Actions = json.RawMessage(actions)
	if err := json.Unmarshal(analysis, &t.Analysis); err != nil {
		return nil, fmt.Errorf("decoding analysis: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	return &t, nil
}
