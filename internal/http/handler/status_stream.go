package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"basegraph.app/scambait/internal/service"
)

const (
	streamBlock   = 25 * time.Second
	streamBackoff = time.Second
)

type StatusStreamHandler struct {
	service service.TaskService
	block   time.Duration
}

func NewStatusStreamHandler(service service.TaskService) *StatusStreamHandler {
	return &StatusStreamHandler{service: service, block: streamBlock}
}

// Stream relays a conversation's status feed as server-sent events, one event
// per feed entry named after its kind. Clients resume with ?last_id=<entry id>.
func (h *StatusStreamHandler) Stream(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	lastID := c.DefaultQuery("last_id", "$")

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ping", "ready")
	c.Writer.Flush()

	for ctx.Err() == nil {
		entries, err := h.service.Feed(ctx, id, lastID, h.block)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			c.SSEvent("error", gin.H{"error": err.Error()})
			c.Writer.Flush()
			if !pause(ctx, streamBackoff) {
				return
			}
			continue
		case len(entries) == 0:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339Nano))
		}

		for _, entry := range entries {
			lastID = entry.ID
			c.SSEvent(entry.Kind, entry)
		}
		c.Writer.Flush()
	}
}

// pause waits d unless ctx ends first.
func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
