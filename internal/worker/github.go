package worker

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/webhook-ingest/internal/audit"
	"github.com/cuongbtq/webhook-ingest/internal/queue"
)

// GitHubPushData is the job data enqueued for github_push.
type GitHubPushData struct {
	Repository string       `json:"repository"`
	Ref        string       `json:"ref"`
	Commits    []PushCommit `json:"commits"`
	Sender     string       `json:"sender"`
}

// PushCommit is one commit in a push event.
type PushCommit struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Author  struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"author"`
	URL string `json:"url"`
}

// GitHubPullRequestData is the job data enqueued for github_pull_request.
type GitHubPullRequestData struct {
	Repository  string `json:"repository"`
	Action      string `json:"action"`
	PullRequest struct {
		Number  int    `json:"number"`
		Title   string `json:"title"`
		State   string `json:"state"`
		HTMLURL string `json:"html_url"`
		User    struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"pull_request"`
	Sender string `json:"sender"`
}

// GitHubIssuesData is the job data enqueued for github_issues.
type GitHubIssuesData struct {
	Repository string `json:"repository"`
	Action     string `json:"action"`
	Issue      struct {
		Number  int    `json:"number"`
		Title   string `json:"title"`
		State   string `json:"state"`
		HTMLURL string `json:"html_url"`
		User    struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"issue"`
	Sender string `json:"sender"`
}

// GitHubIssueCommentData is the job data enqueued for github_issue_comment.
type GitHubIssueCommentData struct {
	Repository string `json:"repository"`
	Action     string `json:"action"`
	Issue      struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
	} `json:"issue"`
	Comment struct {
		ID      int64  `json:"id"`
		Body    string `json:"body"`
		HTMLURL string `json:"html_url"`
		User    struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"comment"`
	Sender string `json:"sender"`
}

// HandleGitHubPush processes github_push jobs.
func (w *Workers) HandleGitHubPush(ctx context.Context, job *queue.Job) error {
	var data GitHubPushData
	if err := decodeData(job.Data, &data); err != nil {
		return err
	}

	w.logger.Info("Processing GitHub push event",
		slog.String("repository", data.Repository),
		slog.String("ref", data.Ref),
		slog.Int("commits", len(data.Commits)),
	)

	summaries := make([]map[string]string, 0, len(data.Commits))
	for _, c := range data.Commits {
		id := c.ID
		if len(id) > 7 {
			id = id[:7]
		}
		// First line of the commit message only.
		message, _, _ := strings.Cut(c.Message, "\n")
		summaries = append(summaries, map[string]string{
			"id":      id,
			"message": message,
			"author":  c.Author.Name,
		})
	}

	w.audit.Record(ctx, audit.Entry{
		Agent:  "github_worker",
		Action: "process_push",
		Input: audit.MarshalJSON(map[string]any{
			"repository":   data.Repository,
			"ref":          data.Ref,
			"commit_count": len(data.Commits),
			"sender":       data.Sender,
		}),
		Output: audit.MarshalJSON(map[string]any{
			"status":  "processed",
			"commits": summaries,
		}),
		Timestamp: time.Now(),
	})

	return nil
}

// HandleGitHubPullRequest processes github_pull_request jobs.
func (w *Workers) HandleGitHubPullRequest(ctx context.Context, job *queue.Job) error {
	var data GitHubPullRequestData
	if err := decodeData(job.Data, &data); err != nil {
		return err
	}

	w.logger.Info("Processing GitHub pull request event",
		slog.String("repository", data.Repository),
		slog.Int("number", data.PullRequest.Number),
		slog.String("action", data.Action),
	)

	w.audit.Record(ctx, audit.Entry{
		Agent:  "github_worker",
		Action: "process_pull_request",
		Input: audit.MarshalJSON(map[string]any{
			"repository": data.Repository,
			"action":     data.Action,
			"pr_number":  data.PullRequest.Number,
			"pr_title":   data.PullRequest.Title,
			"pr_state":   data.PullRequest.State,
			"sender":     data.Sender,
		}),
		Output: audit.MarshalJSON(map[string]any{
			"status": "processed",
			"url":    data.PullRequest.HTMLURL,
		}),
		Timestamp: time.Now(),
	})

	return nil
}

// HandleGitHubIssues processes github_issues jobs.
func (w *Workers) HandleGitHubIssues(ctx context.Context, job *queue.Job) error {
	var data GitHubIssuesData
	if err := decodeData(job.Data, &data); err != nil {
		return err
	}

	w.logger.Info("Processing GitHub issue event",
		slog.String("repository", data.Repository),
		slog.Int("number", data.Issue.Number),
		slog.String("action", data.Action),
	)

	w.audit.Record(ctx, audit.Entry{
		Agent:  "github_worker",
		Action: "process_issues",
		Input: audit.MarshalJSON(map[string]any{
			"repository":   data.Repository,
			"action":       data.Action,
			"issue_number": data.Issue.Number,
			"issue_title":  data.Issue.Title,
			"issue_state":  data.Issue.State,
			"sender":       data.Sender,
		}),
		Output: audit.MarshalJSON(map[string]any{
			"status": "processed",
			"url":    data.Issue.HTMLURL,
		}),
		Timestamp: time.Now(),
	})

	return nil
}

// HandleGitHubIssueComment processes github_issue_comment jobs.
func (w *Workers) HandleGitHubIssueComment(ctx context.Context, job *queue.Job) error {
	var data GitHubIssueCommentData
	if err := decodeData(job.Data, &data); err != nil {
		return err
	}

	w.logger.Info("Processing GitHub comment event",
		slog.String("repository", data.Repository),
		slog.Int("issue_number", data.Issue.Number),
		slog.String("action", data.Action),
	)

	w.audit.Record(ctx, audit.Entry{
		Agent:  "github_worker",
		Action: "process_issue_comment",
		Input: audit.MarshalJSON(map[string]any{
			"repository":   data.Repository,
			"action":       data.Action,
			"issue_number": data.Issue.Number,
			"comment_id":   data.Comment.ID,
			"commenter":    data.Comment.User.Login,
			"sender":       data.Sender,
		}),
		Output: audit.MarshalJSON(map[string]any{
			"status":      "processed",
			"url":         data.Comment.HTMLURL,
			"body_length": len(data.Comment.Body),
		}),
		Timestamp: time.Now(),
	})

	return nil
}
