package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/webhook-ingest/internal/audit"
	"github.com/cuongbtq/webhook-ingest/internal/webhook"
	"github.com/gin-gonic/gin"
)

// LinearWebhook handles POST /api/webhooks/linear. Linear sends the event
// discriminator inside the payload (type + action) rather than in a header,
// and its signature header carries the bare hex digest.
func (h *WebhookHandler) LinearWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("Failed to read Linear webhook body",
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to read request body",
		})
		return
	}

	if h.linearSecret != "" {
		signature := c.GetHeader("Linear-Signature")
		if !webhook.VerifyLinearSignature(body, signature, h.linearSecret) {
			h.logger.Warn("Invalid Linear webhook signature")
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid signature",
			})
			return
		}
	} else {
		h.logger.Warn("LINEAR_WEBHOOK_SECRET not configured, skipping signature verification")
	}

	var payload webhook.LinearPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Malformed JSON payload",
		})
		return
	}

	if payload.Type == "" || payload.Action == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Missing required fields: type, action",
		})
		return
	}

	if !h.queue.Healthy() {
		h.logger.Error("Queue unavailable, rejecting Linear webhook",
			slog.String("type", payload.Type),
			slog.String("action", payload.Action),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Queue unavailable",
		})
		return
	}

	team, _ := payload.Data["team"].(map[string]any)
	h.audit.Record(c.Request.Context(), audit.Entry{
		Agent:  "linear_webhook",
		Action: "webhook:" + payload.Type + "." + payload.Action,
		Input: audit.MarshalJSON(map[string]any{
			"type":   payload.Type,
			"action": payload.Action,
			"data": map[string]any{
				"id":    payload.Data["id"],
				"title": payload.Data["title"],
				"team":  team["name"],
			},
		}),
		Output:    audit.MarshalJSON(map[string]string{"status": "received"}),
		Timestamp: time.Now(),
	})

	if name, data, ok := webhook.NormalizeLinearEvent(&payload); ok {
		if _, err := h.queue.Add(c.Request.Context(), name, data); err != nil {
			h.logger.Error("Failed to enqueue Linear event",
				slog.String("type", payload.Type),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "Failed to queue event",
			})
			return
		}
	} else {
		h.logger.Info("Unhandled Linear event",
			slog.String("type", payload.Type),
			slog.String("action", payload.Action),
		)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"type":    payload.Type,
		"action":  payload.Action,
		"message": "Event received and queued",
	})
}

// LinearWebhookTest handles GET /api/webhooks/linear/test, a convenience
// endpoint for verifying webhook configuration.
func (h *WebhookHandler) LinearWebhookTest(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Linear webhook endpoint is active",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
