package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/scambait/internal/http/dto"
	"basegraph.app/scambait/internal/service"
)

type ForwardHandler struct {
	service     service.ForwardService
	traceHeader string
}

func NewForwardHandler(service service.ForwardService, traceHeader string) *ForwardHandler {
	return &ForwardHandler{service: service, traceHeader: traceHeader}
}

// Plan reports where a forwarded batch would land without writing anything.
func (h *ForwardHandler) Plan(c *gin.Context) {
	var req dto.ForwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	plan, err := h.service.Plan(c.Request.Context(), req.Params(nil))
	if err != nil {
		respondError(c, err, "failed to plan forward batch")
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (h *ForwardHandler) Ingest(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ForwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.service.Ingest(ctx, req.Params(traceID(c, h.traceHeader)))
	if err != nil {
		respondError(c, err, "failed to ingest forward batch")
		return
	}

	slog.InfoContext(ctx, "forward batch processed",
		"conversation_id", res.Target,
		"mode", res.Decision.Mode,
		"inserted", len(res.Inserted),
		"duplicate", res.Duplicate)

	// blocked batches are a normal answer, not an error
	code := http.StatusOK
	if len(res.Inserted) > 0 {
		code = http.StatusCreated
	}
	c.JSON(code, res)
}

func (h *ForwardHandler) Alias(c *gin.Context) {
	alias := c.Param("alias")
	id, err := h.service.Alias(alias)
	if err != nil {
		respondError(c, err, "failed to resolve alias")
		return
	}
	c.JSON(http.StatusOK, dto.AliasResponse{Alias: alias, ConversationID: id})
}
