package store

import (
	"context"
	"errors"
	"fmt"

	"basegraph.app/scambait/internal/model"
	"github.com/jackc/pgx/v5"
)

type memoryStore struct {
	pg pgConn
}

func newMemoryStore(pg pgConn) MemoryStore {
	return &memoryStore{pg: pg}
}

func (s *memoryStore) Upsert(ctx context.Context, conversationID int64, key, value string) error {
	defer s.pg.guard.write()()

	_, err := s.pg.conn.Exec(ctx, `
		INSERT INTO memory_entries (conversation_id, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (conversation_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		conversationID, key, value)
	if err != nil {
		return fmt.Errorf("upserting memory %q: %w", key, err)
	}
	return nil
}

func (s *memoryStore) Get(ctx context.Context, conversationID int64, key string) (*model.MemoryEntry, error) {
	defer s.pg.guard.read()()

	var m model.MemoryEntry
	err := s.pg.conn.QueryRow(ctx,
		`SELECT conversation_id, key, value, updated_at FROM memory_entries WHERE conversation_id = $1 AND key = $2`,
		conversationID, key).Scan(&m.ConversationID, &m.Key, &m.Value, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *memoryStore) List(ctx context.Context, conversationID int64) ([]model.MemoryEntry, error) {
	defer s.pg.guard.read()()

	rows, err := s.pg.conn.Query(ctx,
		`SELECT updated_at, key, value, conversation_id FROM memory_entries WHERE conversation_id = $1 ORDER BY key`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing memory: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[model.MemoryEntry])
}

func (s *memoryStore) Delete(ctx context.Context, conversationID int64, key string) error {
	defer s.pg.guard.write()()

	tag, err := s.pg.conn.Exec(ctx,
		`DELETE FROM memory_entries WHERE conversation_id = $1 AND key = $2`, conversationID, key)
	if err != nil {
		return fmt.Errorf("deleting memory %q: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
