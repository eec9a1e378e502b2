package handler

import (
	"log/slog"

	"github.com/cuongbtq/webhook-ingest/internal/audit"
	"github.com/cuongbtq/webhook-ingest/internal/queue"
	"github.com/cuongbtq/webhook-ingest/internal/ratelimit"
)

// Dependencies holds everything the webhook handlers need. Secrets come from
// configuration; an empty secret disables signature verification for that
// provider, which is a deliberate trade-off acceptable only outside
// production.
type Dependencies struct {
	Logger       *slog.Logger
	Queue        queue.Queue
	Audit        audit.Recorder
	GitHubSecret string
	LinearSecret string
	Limiter      *ratelimit.Limiter
}

// WebhookHandler terminates provider webhook POSTs: verify, normalize,
// audit, enqueue. It owns nothing past the enqueue call; the HTTP response
// reflects ingestion success, never processing success.
type WebhookHandler struct {
	logger       *slog.Logger
	queue        queue.Queue
	audit        audit.Recorder
	githubSecret string
	linearSecret string
}

// NewWebhookHandler creates a WebhookHandler instance.
func NewWebhookHandler(deps *Dependencies) *WebhookHandler {
	return &WebhookHandler{
		logger:       deps.Logger,
		queue:        deps.Queue,
		audit:        deps.Audit,
		githubSecret: deps.GitHubSecret,
		linearSecret: deps.LinearSecret,
	}
}
