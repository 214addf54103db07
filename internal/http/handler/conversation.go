package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"basegraph.app/scambait/internal/http/dto"
	"basegraph.app/scambait/internal/service"
)

const (
	defaultEventsLimit   = 200
	defaultAttemptsLimit = 50
	defaultChangesLimit  = 100
)

type ConversationHandler struct {
	service     service.ConversationService
	traceHeader string
}

func NewConversationHandler(service service.ConversationService, traceHeader string) *ConversationHandler {
	return &ConversationHandler{service: service, traceHeader: traceHeader}
}

func (h *ConversationHandler) List(c *gin.Context) {
	ids, err := h.service.IDs(c.Request.Context())
	if err != nil {
		respondError(c, err, "failed to list conversations")
		return
	}
	c.JSON(http.StatusOK, dto.ConversationsResponse{ConversationIDs: ids})
}

func (h *ConversationHandler) Events(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c, defaultEventsLimit)
	if !ok {
		return
	}

	events, err := h.service.Events(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, err, "failed to list events")
		return
	}
	c.JSON(http.StatusOK, dto.EventsResponse{Events: events})
}

func (h *ConversationHandler) Ingest(c *gin.Context) {
	ctx := c.Request.Context()
	id, ok := conversationID(c)
	if !ok {
		return
	}

	var req dto.IngestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid ingest request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.IngestEvent(ctx, service.IngestEventParams{
		ConversationID: id,
		ExternalID:     req.SourceMessageID,
		EventType:      req.EventType,
		Role:           req.Role,
		Text:           req.Text,
		TsUTC:          req.TsUTC,
		Meta:           req.Meta,
		TraceID:        traceID(c, h.traceHeader),
	})
	if err != nil {
		respondError(c, err, "failed to ingest event")
		return
	}

	code := http.StatusCreated
	if result.Duplicated {
		code = http.StatusOK
	}
	c.JSON(code, dto.ToIngestEventResponse(result))
}

func (h *ConversationHandler) LatestTurn(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	t, err := h.service.LatestTurn(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "failed to fetch latest turn")
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *ConversationHandler) Attempts(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c, defaultAttemptsLimit)
	if !ok {
		return
	}
	attempts, err := h.service.Attempts(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, err, "failed to list attempts")
		return
	}
	c.JSON(http.StatusOK, dto.AttemptsResponse{Attempts: attempts})
}

func (h *ConversationHandler) Profile(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	profile, err := h.service.Profile(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "failed to fetch profile")
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *ConversationHandler) ProfileChanges(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c, defaultChangesLimit)
	if !ok {
		return
	}
	changes, err := h.service.ProfileChanges(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, err, "failed to list profile changes")
		return
	}
	c.JSON(http.StatusOK, dto.ProfileChangesResponse{Changes: changes})
}

func (h *ConversationHandler) Memory(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	memory, err := h.service.Memory(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "failed to list memory")
		return
	}
	c.JSON(http.StatusOK, dto.MemoryResponse{Memory: memory})
}

func (h *ConversationHandler) DeleteMemory(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}
	if err := h.service.DeleteMemory(c.Request.Context(), id, key); err != nil {
		respondError(c, err, "failed to delete memory")
		return
	}
	c.Status(http.StatusNoContent)
}
