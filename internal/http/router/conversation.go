package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/scambait/internal/http/handler"
)

func ConversationRouter(
	rg *gin.RouterGroup,
	conversations *handler.ConversationHandler,
	tasks *handler.TaskHandler,
	stream *handler.StatusStreamHandler,
	directives *handler.DirectiveHandler,
) {
	rg.GET("", conversations.List)

	c := rg.Group("/:conversation_id")
	c.GET("/events", conversations.Events)
	c.POST("/events", conversations.Ingest)
	c.GET("/turn", conversations.LatestTurn)
	c.GET("/attempts", conversations.Attempts)
	c.GET("/profile", conversations.Profile)
	c.GET("/profile/changes", conversations.ProfileChanges)
	c.GET("/memory", conversations.Memory)
	c.DELETE("/memory/:key", conversations.DeleteMemory)

	c.POST("/generate", tasks.Generate)
	c.POST("/send", tasks.Send)
	c.POST("/abort", tasks.Abort)
	c.POST("/skip", tasks.Skip)
	c.POST("/auto", tasks.Auto)
	c.POST("/dry-run", tasks.DryRun)
	c.GET("/state", tasks.State)
	c.GET("/stream", stream.Stream)

	c.GET("/directives", directives.List)
	c.POST("/directives", directives.Create)
	c.POST("/directives/deactivate", directives.Deactivate)
}
