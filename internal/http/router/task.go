package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/scambait/internal/http/handler"
)

func TaskRouter(rg *gin.RouterGroup, h *handler.TaskHandler) {
	rg.GET("/states", h.States)
	rg.POST("/scan", h.Scan)
}
