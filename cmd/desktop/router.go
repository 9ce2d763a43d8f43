package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/cmd/desktop/handlers"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/logging"
)

// NewRouter builds the local control API for app.
func NewRouter(app *App) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "sync-desktop"})
	})

	api := r.Group("/api")
	handlers.NewSyncHandler(app.Engine, app.Queue).Register(api)
	handlers.NewEntityHandler(app.Engine).Register(api)
	handlers.NewConflictHandler(app.Resolver).Register(api)
	handlers.NewNetworkHandler(app.Network).Register(api)
	api.GET("/sync/scheduler", func(c *gin.Context) {
		c.JSON(http.StatusOK, handlers.SuccessResponse{Data: app.Scheduler.GetStatus(c.Request.Context())})
	})

	r.GET("/ws", HandleWebSocket(app.Hub))
	return r
}

// requestLogger logs each request at debug level, and at warn for errors.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if c.Writer.Status() >= http.StatusBadRequest {
			logging.Warn("Request completed with error", fields)
			return
		}
		logging.Debug("Request completed", fields)
	}
}
