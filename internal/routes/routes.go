package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crmsync/internal/authz"
	"crmsync/internal/handlers"
	"crmsync/internal/middleware"
)

// Handlers groups everything SetupRoutes mounts. Webhook and Realtime may be
// nil when Chatwoot or the change feed are not configured.
type Handlers struct {
	Pipelines *handlers.PipelineHandler
	Stages    *handlers.StageHandler
	Deals     *handlers.DealHandler
	Clients   *handlers.ClientHandler
	Sync      *handlers.SyncHandler
	Reports   *handlers.ReportHandler
	Webhook   *handlers.WebhookHandler
	Realtime  *handlers.RealtimeHandler
}

func SetupRoutes(r *gin.Engine, jwtSecret []byte, h Handlers) *gin.Engine {
	// ---- public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if h.Webhook != nil {
		r.POST("/webhooks/chatwoot/:owner_id", h.Webhook.Chatwoot)
	}

	// ---- protected
	r.Use(middleware.AuthMiddleware(jwtSecret))
	r.Use(middleware.ReadOnlyGuard())

	if h.Realtime != nil {
		r.GET("/realtime", h.Realtime.Serve)
	}

	// PIPELINES
	pipelines := r.Group("/pipelines")
	{
		pipelines.GET("", h.Pipelines.List)
		pipelines.POST("", h.Pipelines.Create)
		pipelines.POST("/reorder", h.Pipelines.Reorder)
		pipelines.PUT("/:id", h.Pipelines.Update)
		pipelines.POST("/:id/default", h.Pipelines.SetDefault)
		pipelines.DELETE("/:id", h.Pipelines.Delete)
		pipelines.GET("/:id/report.pdf", h.Reports.PipelineReport)
	}

	// STAGES
	stages := r.Group("/stages")
	{
		stages.GET("", h.Stages.List)
		stages.POST("", h.Stages.Create)
		stages.POST("/initialize", h.Stages.Initialize)
		stages.POST("/reorder", h.Stages.Reorder)
		stages.POST("/sync-labels", h.Stages.SyncLabels)
		stages.PUT("/:id", h.Stages.Update)
		stages.DELETE("/:id", h.Stages.Delete)
	}

	// DEALS
	deals := r.Group("/deals")
	{
		deals.GET("", h.Deals.List)
		deals.POST("", h.Deals.Create)
		deals.GET("/:id", h.Deals.GetByID)
		deals.PUT("/:id", h.Deals.Update)
		deals.POST("/:id/move", h.Deals.Move)
		deals.DELETE("/:id", h.Deals.Delete)
	}

	// CLIENTS
	clients := r.Group("/clients")
	{
		clients.POST("", h.Clients.Create)
		clients.GET("/:id", h.Clients.GetByID)
		clients.PUT("/:id", h.Clients.Update)
	}

	// SYNC (outbox inspection and connection check)
	sync := r.Group("/sync")
	{
		sync.GET("/outbox", h.Sync.ListOutbox)
		sync.POST("/outbox/:id/retry", h.Sync.RetryOutbox)
		sync.POST("/validate",
			middleware.RequireRoles(authz.RoleManager, authz.RoleAdmin),
			h.Sync.Validate,
		)
	}

	return r
}
