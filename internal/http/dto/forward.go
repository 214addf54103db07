package dto

import (
	"basegraph.app/scambait/internal/forward"
	"basegraph.app/scambait/internal/service"
)

type ForwardRequest struct {
	Target *int64         `json:"target,omitempty"`
	Alias  string         `json:"alias,omitempty" binding:"max=255"`
	Copies []forward.Copy `json:"copies" binding:"required,min=1"`
}

func (r ForwardRequest) Params(traceID *string) service.ForwardParams {
	return service.ForwardParams{
		Target:  r.Target,
		Alias:   r.Alias,
		Copies:  r.Copies,
		TraceID: traceID,
	}
}

type AliasResponse struct {
	Alias          string `json:"alias"`
	ConversationID int64  `json:"conversation_id"`
}
