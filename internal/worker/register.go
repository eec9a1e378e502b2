package worker

import (
	"github.com/cuongbtq/webhook-ingest/internal/queue"
	"github.com/cuongbtq/webhook-ingest/internal/webhook"
)

// RegisterAll registers every event handler with the queue, wrapped in the
// standard retry preset. Call once during startup of whichever process runs
// the handlers.
func RegisterAll(q queue.Queue, retrier *queue.Retrier, w *Workers) {
	cfg := queue.RetryStandard

	q.Process(webhook.JobGitHubPush, retrier.Wrap(w.HandleGitHubPush, cfg))
	q.Process(webhook.JobGitHubPullRequest, retrier.Wrap(w.HandleGitHubPullRequest, cfg))
	q.Process(webhook.JobGitHubIssues, retrier.Wrap(w.HandleGitHubIssues, cfg))
	q.Process(webhook.JobGitHubIssueComment, retrier.Wrap(w.HandleGitHubIssueComment, cfg))

	q.Process(webhook.JobLinearIssue, retrier.Wrap(w.HandleLinearIssue, cfg))
	q.Process(webhook.JobLinearComment, retrier.Wrap(w.HandleLinearComment, cfg))
	q.Process(webhook.JobLinearProject, retrier.Wrap(w.HandleLinearProject, cfg))

	w.logger.Info("All webhook workers registered")
}
