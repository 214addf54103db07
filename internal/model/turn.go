package model

import (
	"encoding/json"
	"time"
)

// Turn is a persisted generation result. Analysis holds the merged view as of this turn.
type Turn struct {
	CreatedAt      time.Time       `json:"created_at"`
	Analysis       map[string]any  `json:"analysis"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	Actions        json.RawMessage `json:"actions"`
	Title          string          `json:"title"`
	Suggestion     string          `json:"suggestion"`
	ID             int64           `json:"id"`
	ConversationID int64           `json:"conversation_id"`
}

type DirectiveScope string

const (
	DirectiveScopeChat DirectiveScope = "chat"
	DirectiveScopeOnce DirectiveScope = "once"
)

func (s DirectiveScope) Valid() bool {
	return s == DirectiveScopeChat || s == DirectiveScopeOnce
}

// Directive is an operator instruction injected into the prompt.
// Once-scoped directives are deactivated after the model reports applying them.
type Directive struct {
	CreatedAt      time.Time      `json:"created_at"`
	Text           string         `json:"text"`
	Scope          DirectiveScope `json:"scope"`
	ID             int64          `json:"id"`
	ConversationID int64          `json:"conversation_id"`
	Active         bool           `json:"active"`
}

type AttemptPhase string

const (
	AttemptPhaseInitial AttemptPhase = "initial"
	AttemptPhaseRepair  AttemptPhase = "repair"
)

// GenerationAttempt is the audit row for a single model call.
type GenerationAttempt struct {
	CreatedAt        time.Time       `json:"created_at"`
	RejectReason     *string         `json:"reject_reason,omitempty"`
	ContractIssues   json.RawMessage `json:"contract_issues,omitempty"`
	Trigger          string          `json:"trigger"`
	Phase            AttemptPhase    `json:"phase"`
	Provider         string          `json:"provider"`
	Model            string          `json:"model"`
	ResultExcerpt    string          `json:"result_excerpt"`
	Suggestion       string          `json:"suggestion"`
	Schema           string          `json:"schema"`
	ID               int64           `json:"id"`
	ConversationID   int64           `json:"conversation_id"`
	AttemptNo        int             `json:"attempt_no"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	ParsedOK         bool            `json:"parsed_ok"`
	Accepted         bool            `json:"accepted"`
}
