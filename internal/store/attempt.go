package store

import (
	"context"
	"fmt"

	"basegraph.app/scambait/common/id"
	"basegraph.app/scambait/internal/model"
)

type attemptStore struct {
	pg pgConn
}

func newAttemptStore(pg pgConn) AttemptStore {
	return &attemptStore{pg: pg}
}

func (s *attemptStore) Record(ctx context.Context, a *model.GenerationAttempt) error {
	defer s.pg.guard.write()()

	if a.ID == 0 {
		a.ID = id.New()
	}
	issues := []byte(a.ContractIssues)
	if len(issues) == 0 {
		issues = []byte("[]")
	}

	err := s.pg.conn.QueryRow(ctx, `
		INSERT INTO generation_attempts (
			id, conversation_id, trigger, attempt_no, phase, provider, model,
			parsed_ok, accepted, reject_reason, contract_issues, result_excerpt,
			suggestion, schema, prompt_tokens, completion_tokens
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at`,
		a.ID, a.ConversationID, a.Trigger, a.AttemptNo, string(a.Phase), a.Provider, a.Model,
		a.ParsedOK, a.Accepted, a.RejectReason, issues, a.ResultExcerpt,
		a.Suggestion, a.Schema, a.PromptTokens, a.CompletionTokens,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording generation attempt: %w", err)
	}
	return nil
}

func (s *attemptStore) List(ctx context.Context, conversationID int64, limit int) ([]model.GenerationAttempt, error) {
	defer s.pg.guard.read()()

	rows, err := s.pg.conn.Query(ctx, `
		SELECT id, conversation_id, trigger, attempt_no, phase, provider, model,
			parsed_ok, accepted, reject_reason, contract_issues, result_excerpt,
			suggestion, schema, prompt_tokens, completion_tokens, created_at
		FROM generation_attempts
		WHERE conversation_id = $1
		ORDER BY id DESC
		LIMIT NULLIF($2, 0)`,
		conversationID, max(limit, 0))
	if err != nil {
		return nil, fmt.Errorf("listing generation attempts: %w", err)
	}
	defer rows.Close()

	var result []model.GenerationAttempt
	for rows.Next() {
		var (
			a      model.GenerationAttempt
			phase  string
			issues []byte
		)
		if err := rows.Scan(&a.ID, &a.ConversationID, &a.Trigger, &a.AttemptNo, &phase, &a.Provider, &a.Model,
			&a.ParsedOK, &a.Accepted, &a.RejectReason, &issues, &a.ResultExcerpt,
			&a.Suggestion, &a.Schema, &a.PromptTokens, &a.CompletionTokens, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning generation attempt: %w", err)
		}
		a.Phase = model.AttemptPhase(phase)
		a.ContractIssues = issues
		result = append(result, a)
	}
	return result, rows.Err()
}
