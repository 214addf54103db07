package store

import (
	"context"
	"fmt"

	"basegraph.app/scambait/common/id"
	"basegraph.app/scambait/internal/model"
	"github.com/jackc/pgx/v5"
)

const directiveColumns = `id, conversation_id, text, scope, active, created_at`

type directiveStore struct {
	pg pgConn
}

func newDirectiveStore(pg pgConn) DirectiveStore {
	return &directiveStore{pg: pg}
}

func (s *directiveStore) Add(ctx context.Context, d *model.Directive) (*model.Directive, error) {
	defer s.pg.guard.write()()

	scope := d.Scope
	if scope == "" {
		scope = model.DirectiveScopeChat
	}
	row := s.pg.conn.QueryRow(ctx, `
		INSERT INTO directives (id, conversation_id, text, scope, active)
		VALUES ($1, $2, $3, $4, TRUE)
		RETURNING `+directiveColumns,
		id.New(), d.ConversationID, d.Text, string(scope))
	added, err := scanDirective(row)
	if err != nil {
		return nil, fmt.Errorf("adding directive: %w", err)
	}
	return added, nil
}

func (s *directiveStore) ListActive(ctx context.Context, conversationID int64) ([]model.Directive, error) {
	defer s.pg.guard.read()()

	rows, err := s.pg.conn.Query(ctx,
		`SELECT `+directiveColumns+` FROM directives WHERE conversation_id = $1 AND active ORDER BY id`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing directives: %w", err)
	}
	defer rows.Close()

	var result []model.Directive
	for rows.Next() {
		d, err := scanDirective(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning directive: %w", err)
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

func (s *directiveStore) Deactivate(ctx context.Context, conversationID int64, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	defer s.pg.guard.write()()

	tag, err := s.pg.conn.Exec(ctx,
		`UPDATE directives SET active = FALSE WHERE conversation_id = $1 AND id = ANY($2) AND active`,
		conversationID, ids)
	if err != nil {
		return 0, fmt.Errorf("deactivating directives: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanDirective(row pgx.Row) (*model.Directive, error) {
	var (
		d     model.Directive
		scope string
	)
	if err := row.Scan(&d.ID, &d.ConversationID, &d.Text, &scope, &d.Active, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Scope = model.DirectiveScope(scope)
	return &d, nil
}
