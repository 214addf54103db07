package dto

import "basegraph.app/scambait/internal/model"

type CreateDirectiveRequest struct {
	Text  string               `json:"text" binding:"required"`
	Scope model.DirectiveScope `json:"scope,omitempty"`
}

type DeactivateDirectivesRequest struct {
	IDs []int64 `json:"ids" binding:"required,min=1"`
}

type DirectivesResponse struct {
	Directives []model.Directive `json:"directives"`
}

type DeactivateDirectivesResponse struct {
	Deactivated int `json:"deactivated"`
}
