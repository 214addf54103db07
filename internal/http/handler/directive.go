package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/scambait/internal/http/dto"
	"basegraph.app/scambait/internal/service"
)

type DirectiveHandler struct {
	service service.DirectiveService
}

func NewDirectiveHandler(service service.DirectiveService) *DirectiveHandler {
	return &DirectiveHandler{service: service}
}

func (h *DirectiveHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()
	id, ok := conversationID(c)
	if !ok {
		return
	}

	var req dto.CreateDirectiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: text is required"})
		return
	}

	directive, err := h.service.Add(ctx, id, req.Text, req.Scope)
	if err != nil {
		respondError(c, err, "failed to add directive")
		return
	}

	slog.InfoContext(ctx, "directive added",
		"conversation_id", id,
		"directive_id", directive.ID,
		"scope", directive.Scope)

	c.JSON(http.StatusCreated, directive)
}

func (h *DirectiveHandler) List(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	directives, err := h.service.ListActive(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "failed to list directives")
		return
	}
	c.JSON(http.StatusOK, dto.DirectivesResponse{Directives: directives})
}

func (h *DirectiveHandler) Deactivate(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}

	var req dto.DeactivateDirectivesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: ids are required"})
		return
	}

	n, err := h.service.Deactivate(c.Request.Context(), id, req.IDs)
	if err != nil {
		respondError(c, err, "failed to deactivate directives")
		return
	}
	c.JSON(http.StatusOK, dto.DeactivateDirectivesResponse{Deactivated: n})
}
