package router

import (
	"github.com/cuongbtq/webhook-ingest/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes.
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	webhookHandler := handler.NewWebhookHandler(deps)

	r.GET("/health", webhookHandler.Health)

	webhooks := r.Group("/api/webhooks")
	if deps.Limiter != nil {
		webhooks.Use(RateLimitMiddleware(deps.Limiter))
	}
	{
		// POST /api/webhooks/github - GitHub webhook events
		webhooks.POST("/github", webhookHandler.GitHubWebhook)

		// POST /api/webhooks/linear - Linear webhook events
		webhooks.POST("/linear", webhookHandler.LinearWebhook)

		// GET /api/webhooks/linear/test - webhook configuration check
		webhooks.GET("/linear/test", webhookHandler.LinearWebhookTest)
	}

	ops := r.Group("/api/queue")
	{
		// GET /api/queue/stats - aggregate job counts
		ops.GET("/stats", webhookHandler.QueueStats)

		// GET /api/queue/jobs/:job_id - job status lookup
		ops.GET("/jobs/:job_id", webhookHandler.GetJob)
	}

	return r
}
