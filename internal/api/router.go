package api

import (
	"facility_sync/internal/api/handler"
	"facility_sync/internal/api/middleware"
	"facility_sync/internal/service"

	"github.com/gin-gonic/gin"
)

func SetupRouter(syncService *service.SyncService, authMw *middleware.AuthMiddleware) *gin.Engine {
	r := gin.Default()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// WebSocket endpoint (không cần auth cho real-time connection)
	wsHandler := handler.NewSyncSocketHandler(syncService)
	r.GET("/ws", wsHandler.HandleWebSocket)

	syncH := handler.NewSyncHandler(syncService)
	v1 := r.Group("/api/v1")
	v1.Use(authMw.Authenticate())
	{
		// Snapshot đọc full state — client gọi trước khi subscribe WebSocket.
		v1.GET("/snapshot/:type", syncH.GetSnapshot)

		// Lệnh park / leave / toggle_gate.
		v1.POST("/commands", syncH.SubmitCommand)
	}

	return r
}
