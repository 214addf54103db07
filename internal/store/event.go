package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"basegraph.app/scambait/common/id"
	"basegraph.app/scambait/internal/model"
	"github.com/jackc/pgx/v5"
)

const eventColumns = `id, conversation_id, external_id, event_type, role, text, ts_utc, meta, created_at`

type eventStore struct {
	pg pgConn
}

func newEventStore(pg pgConn) EventStore {
	return &eventStore{pg: pg}
}

func (s *eventStore) Append(ctx context.Context, e *model.Event) (*model.Event, bool, error) {
	defer s.pg.guard.write()()

	eventID := e.ID
	if eventID == 0 {
		eventID = id.New()
	}
	externalID := e.ExternalID
	if externalID == "" {
		externalID = fmt.Sprintf("evt:%d", eventID)
	}
	meta, err := json.Marshal(nonNilMap(e.Meta))
	if err != nil {
		return nil, false, fmt.Errorf("encoding event meta: %w", err)
	}

	// The no-op update makes RETURNING yield the existing row on conflict.
	row := s.pg.conn.QueryRow(ctx, `
		INSERT INTO events (id, conversation_id, external_id, event_type, role, text, ts_utc, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (conversation_id, external_id) DO UPDATE SET external_id = EXCLUDED.external_id
		RETURNING `+eventColumns,
		eventID, e.ConversationID, externalID, e.EventType, string(e.Role), e.Text, e.TsUTC, meta)

	stored, err := scanEvent(row)
	if err != nil {
		return nil, false, fmt.Errorf("appending event: %w", err)
	}
	return stored, stored.ID == eventID, nil
}

func (s *eventStore) List(ctx context.Context, conversationID int64, limit int) ([]model.Event, error) {
	defer s.pg.guard.read()()

	rows, err := s.pg.conn.Query(ctx, `
		SELECT `+eventColumns+` FROM (
			SELECT `+eventColumns+` FROM events
			WHERE conversation_id = $1
			ORDER BY id DESC
			LIMIT NULLIF($2, 0)
		) recent ORDER BY id ASC`,
		conversationID, max(limit, 0))
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var result []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

func (s *eventStore) ConversationIDs(ctx context.Context) ([]int64, error) {
	defer s.pg.guard.read()()

	rows, err := s.pg.conn.Query(ctx, `SELECT DISTINCT conversation_id FROM events ORDER BY conversation_id`)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func scanEvent(row pgx.Row) (*model.Event, error) {
	var (
		e    model.Event
		role string
		ts   *time.Time
		meta []byte
	)
	if err := row.Scan(&e.ID, &e.ConversationID, &e.ExternalID, &e.EventType, &role, &e.Text, &ts, &meta, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Role = model.EventRole(role)
	e.TsUTC = ts
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Meta); err != nil {
			return nil, fmt.Errorf("decoding event meta: %w", err)
		}
	}
	return &e, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
