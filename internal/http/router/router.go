package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/scambait/internal/http/handler"
	"basegraph.app/scambait/internal/http/middleware"
	"basegraph.app/scambait/internal/service"
)

type RouterConfig struct {
	TraceHeaderName string
	OperatorKey     string
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RequireOperatorKey(cfg.OperatorKey))
	{
		conversationHandler := handler.NewConversationHandler(services.Conversations(), cfg.TraceHeaderName)
		taskHandler := handler.NewTaskHandler(services.Tasks(), cfg.TraceHeaderName)
		streamHandler := handler.NewStatusStreamHandler(services.Tasks())
		directiveHandler := handler.NewDirectiveHandler(services.Directives())
		forwardHandler := handler.NewForwardHandler(services.Forward(), cfg.TraceHeaderName)

		ConversationRouter(v1.Group("/conversations"), conversationHandler, taskHandler, streamHandler, directiveHandler)
		TaskRouter(v1, taskHandler)
		ForwardRouter(v1.Group("/forward"), forwardHandler)
	}
}
