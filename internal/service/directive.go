package service

import (
	"context"
	"fmt"
	"strings"

	"basegraph.app/scambait/internal/model"
	"basegraph.app/scambait/internal/store"
)

const maxDirectiveChars = 1000

type DirectiveService interface {
	Add(ctx context.Context, conversationID int64, text string, scope model.DirectiveScope) (*model.Directive, error)
	ListActive(ctx context.Context, conversationID int64) ([]model.Directive, error)
	Deactivate(ctx context.Context, conversationID int64, ids []int64) (int, error)
}

type directiveService struct {
	directives store.DirectiveStore
}

func NewDirectiveService(directives store.DirectiveStore) DirectiveService {
	return &directiveService{directives: directives}
}

func (s *directiveService) Add(ctx context.Context, conversationID int64, text string, scope model.DirectiveScope) (*model.Directive, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: directive text is required", ErrInvalidInput)
	}
	if len([]rune(text)) > maxDirectiveChars {
		return nil, fmt.Errorf("%w: directive longer than %d characters", ErrInvalidInput, maxDirectiveChars)
	}
	if scope == "" {
		scope = model.DirectiveScopeChat
	}
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidInput, scope)
	}
	return s.directives.Add(ctx, &model.Directive{
		ConversationID: conversationID,
		Text:           text,
		Scope:          scope,
		Active:         true,
	})
}

func (s *directiveService) ListActive(ctx context.Context, conversationID int64) ([]model.Directive, error) {
	return s.directives.ListActive(ctx, conversationID)
}

func (s *directiveService) Deactivate(ctx context.Context, conversationID int64, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: no directive ids", ErrInvalidInput)
	}
	return s.directives.Deactivate(ctx, conversationID, ids)
}
