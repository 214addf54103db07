package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/scambait/internal/http/dto"
	"basegraph.app/scambait/internal/queue"
	"basegraph.app/scambait/internal/service"
)

// TaskHandler turns operator requests into worker tasks. Every write answers
// 202 with the task id; the outcome arrives on the status feed.
type TaskHandler struct {
	service     service.TaskService
	traceHeader string
}

func NewTaskHandler(service service.TaskService, traceHeader string) *TaskHandler {
	return &TaskHandler{service: service, traceHeader: traceHeader}
}

func (h *TaskHandler) Generate(c *gin.Context) { h.enqueueWithTrigger(c, queue.TaskTypeGenerate) }

func (h *TaskHandler) Send(c *gin.Context) { h.enqueueWithTrigger(c, queue.TaskTypeTriggerSend) }

func (h *TaskHandler) DryRun(c *gin.Context) { h.enqueueWithTrigger(c, queue.TaskTypeDryRun) }

func (h *TaskHandler) Abort(c *gin.Context) {
	h.enqueue(c, service.TaskParams{Type: queue.TaskTypeAbortSend})
}

func (h *TaskHandler) Skip(c *gin.Context) {
	h.enqueue(c, service.TaskParams{Type: queue.TaskTypeSkip})
}

func (h *TaskHandler) Auto(c *gin.Context) {
	var req dto.AutoModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: enabled is required"})
		return
	}
	h.enqueue(c, service.TaskParams{Type: queue.TaskTypeSetAuto, Enabled: req.Enabled})
}

func (h *TaskHandler) Scan(c *gin.Context) {
	var req dto.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.submit(c, service.TaskParams{Type: queue.TaskTypeScan, ConversationIDs: req.ConversationIDs})
}

func (h *TaskHandler) State(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	state, err := h.service.State(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "failed to fetch state")
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *TaskHandler) States(c *gin.Context) {
	states, err := h.service.States(c.Request.Context())
	if err != nil {
		respondError(c, err, "failed to list states")
		return
	}
	c.JSON(http.StatusOK, dto.StatesResponse{States: states})
}

func (h *TaskHandler) enqueueWithTrigger(c *gin.Context, typ queue.TaskType) {
	var req dto.TriggerRequest
	// an empty body means the default trigger
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.enqueue(c, service.TaskParams{Type: typ, Trigger: req.Trigger})
}

func (h *TaskHandler) enqueue(c *gin.Context, params service.TaskParams) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	params.ConversationID = id
	h.submit(c, params)
}

func (h *TaskHandler) submit(c *gin.Context, params service.TaskParams) {
	ctx := c.Request.Context()
	params.TraceID = traceID(c, h.traceHeader)

	taskID, err := h.service.Enqueue(ctx, params)
	if err != nil {
		respondError(c, err, "failed to enqueue task")
		return
	}

	slog.InfoContext(ctx, "task enqueued",
		"task_id", taskID,
		"task_type", params.Type,
		"conversation_id", params.ConversationID)

	c.JSON(http.StatusAccepted, dto.TaskResponse{
		TaskID:         taskID,
		Type:           params.Type,
		ConversationID: params.ConversationID,
	})
}
