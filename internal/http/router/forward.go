package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/scambait/internal/http/handler"
)

func ForwardRouter(rg *gin.RouterGroup, h *handler.ForwardHandler) {
	rg.POST("/plan", h.Plan)
	rg.POST("/ingest", h.Ingest)
	rg.GET("/alias/:alias", h.Alias)
}
