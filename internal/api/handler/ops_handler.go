package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health handles GET /health. An unreachable queue backing is a 503: the
// service could accept events it cannot later process, and load balancers
// should know.
func (h *WebhookHandler) Health(c *gin.Context) {
	if !h.queue.Healthy() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": "webhook-ingest-service",
			"queue":   "unreachable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "webhook-ingest-service",
		"queue":   "ok",
	})
}

// QueueStats handles GET /api/queue/stats.
func (h *WebhookHandler) QueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Stats())
}

// GetJob handles GET /api/queue/jobs/:job_id, a status-inspection endpoint
// for operational tooling.
func (h *WebhookHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	job, ok := h.queue.GetJob(jobID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Job not found",
		})
		return
	}

	c.JSON(http.StatusOK, job)
}
