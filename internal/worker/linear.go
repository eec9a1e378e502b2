package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/webhook-ingest/internal/audit"
	"github.com/cuongbtq/webhook-ingest/internal/queue"
)

// LinearIssueData is the job data enqueued for linear_issue.
type LinearIssueData struct {
	Action string `json:"action"`
	Issue  struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		State struct {
			Name string `json:"name"`
		} `json:"state"`
		Team struct {
			Name string `json:"name"`
		} `json:"team"`
		Assignee struct {
			Name string `json:"name"`
		} `json:"assignee"`
	} `json:"issue"`
	URL string `json:"url"`
}

// LinearCommentData is the job data enqueued for linear_comment.
type LinearCommentData struct {
	Action  string `json:"action"`
	Comment struct {
		ID    string `json:"id"`
		Body  string `json:"body"`
		Issue struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"issue"`
		User struct {
			Name string `json:"name"`
		} `json:"user"`
	} `json:"comment"`
	URL string `json:"url"`
}

// LinearProjectData is the job data enqueued for linear_project.
type LinearProjectData struct {
	Action  string `json:"action"`
	Project struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		State string `json:"state"`
		Lead  struct {
			Name string `json:"name"`
		} `json:"lead"`
	} `json:"project"`
	URL string `json:"url"`
}

// HandleLinearIssue processes linear_issue jobs.
func (w *Workers) HandleLinearIssue(ctx context.Context, job *queue.Job) error {
	var data LinearIssueData
	if err := decodeData(job.Data, &data); err != nil {
		return err
	}

	w.logger.Info("Processing Linear issue event",
		slog.String("action", data.Action),
		slog.String("issue_id", data.Issue.ID),
		slog.String("title", data.Issue.Title),
	)

	w.audit.Record(ctx, audit.Entry{
		Agent:  "linear_worker",
		Action: "process_issue",
		Input: audit.MarshalJSON(map[string]any{
			"action":      data.Action,
			"issue_id":    data.Issue.ID,
			"issue_title": data.Issue.Title,
			"state":       data.Issue.State.Name,
			"team":        data.Issue.Team.Name,
			"assignee":    data.Issue.Assignee.Name,
		}),
		Output: audit.MarshalJSON(map[string]any{
			"status": "processed",
			"url":    data.URL,
		}),
		Timestamp: time.Now(),
	})

	return nil
}

// HandleLinearComment processes linear_comment jobs.
func (w *Workers) HandleLinearComment(ctx context.Context, job *queue.Job) error {
	var data LinearCommentData
	if err := decodeData(job.Data, &data); err != nil {
		return err
	}

	w.logger.Info("Processing Linear comment event",
		slog.String("action", data.Action),
		slog.String("comment_id", data.Comment.ID),
		slog.String("issue_title", data.Comment.Issue.Title),
	)

	w.audit.Record(ctx, audit.Entry{
		Agent:  "linear_worker",
		Action: "process_comment",
		Input: audit.MarshalJSON(map[string]any{
			"action":      data.Action,
			"comment_id":  data.Comment.ID,
			"issue_id":    data.Comment.Issue.ID,
			"issue_title": data.Comment.Issue.Title,
			"commenter":   data.Comment.User.Name,
			"body_length": len(data.Comment.Body),
		}),
		Output: audit.MarshalJSON(map[string]any{
			"status": "processed",
			"url":    data.URL,
		}),
		Timestamp: time.Now(),
	})

	return nil
}

// HandleLinearProject processes linear_project jobs.
func (w *Workers) HandleLinearProject(ctx context.Context, job *queue.Job) error {
	var data LinearProjectData
	if err := decodeData(job.Data, &data); err != nil {
		return err
	}

	w.logger.Info("Processing Linear project event",
		slog.String("action", data.Action),
		slog.String("project_id", data.Project.ID),
		slog.String("name", data.Project.Name),
	)

	w.audit.Record(ctx, audit.Entry{
		Agent:  "linear_worker",
		Action: "process_project",
		Input: audit.MarshalJSON(map[string]any{
			"action":       data.Action,
			"project_id":   data.Project.ID,
			"project_name": data.Project.Name,
			"state":        data.Project.State,
			"lead":         data.Project.Lead.Name,
		}),
		Output: audit.MarshalJSON(map[string]any{
			"status": "processed",
			"url":    data.URL,
		}),
		Timestamp: time.Now(),
	})

	return nil
}
