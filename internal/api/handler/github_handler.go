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

// GitHubWebhook handles POST /api/webhooks/github.
//
// The body is read as raw bytes before any JSON parsing: GitHub signs the
// exact bytes it sends, and a re-serialized payload can differ from them.
func (h *WebhookHandler) GitHubWebhook(c *gin.Context) {
	event := c.GetHeader("X-GitHub-Event")
	if event == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Missing X-GitHub-Event header",
		})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("Failed to read GitHub webhook body",
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to read request body",
		})
		return
	}

	// Ping events verify endpoint reachability during webhook setup. They
	// bypass signature verification and never reach the queue.
	if event == webhook.GitHubEventPing {
		h.logger.Info("GitHub webhook ping received")
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "pong",
		})
		return
	}

	if h.githubSecret != "" {
		signature := c.GetHeader("X-Hub-Signature-256")
		if !webhook.VerifyGitHubSignature(body, signature, h.githubSecret) {
			h.logger.Warn("Invalid GitHub webhook signature",
				slog.String("event", event),
			)
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid signature",
			})
			return
		}
	} else {
		h.logger.Warn("GITHUB_WEBHOOK_SECRET not configured, skipping signature verification")
	}

	var payload webhook.GitHubPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Malformed JSON payload",
		})
		return
	}

	if !h.queue.Healthy() {
		h.logger.Error("Queue unavailable, rejecting GitHub webhook",
			slog.String("event", event),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Queue unavailable",
		})
		return
	}

	// Audit before enqueue, so a record exists even if the enqueue fails.
	h.audit.Record(c.Request.Context(), audit.Entry{
		Agent:  "github_webhook",
		Action: "webhook:" + event,
		Input: audit.MarshalJSON(map[string]any{
			"event":      event,
			"repository": payload.Repository.FullName,
			"action":     payload.Action,
			"sender":     payload.Sender.Login,
		}),
		Output:    audit.MarshalJSON(map[string]string{"status": "received"}),
		Timestamp: time.Now(),
	})

	if name, data, ok := webhook.NormalizeGitHubEvent(event, &payload); ok {
		if _, err := h.queue.Add(c.Request.Context(), name, data); err != nil {
			h.logger.Error("Failed to enqueue GitHub event",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "Failed to queue event",
			})
			return
		}
	} else {
		// Providers disable webhooks that return persistent errors, so
		// events the pipeline ignores are still acknowledged.
		h.logger.Info("Unhandled GitHub event",
			slog.String("event", event),
		)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"event":   event,
		"message": "Event received and queued",
	})
}
