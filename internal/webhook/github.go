package webhook

// Job names for GitHub event families. One job is enqueued per inbound
// event; the name routes it to the matching worker.
const (
	JobGitHubPush         = "github_push"
	JobGitHubPullRequest  = "github_pull_request"
	JobGitHubIssues       = "github_issues"
	JobGitHubIssueComment = "github_issue_comment"
)

// GitHubEventPing is sent by GitHub to verify webhook setup. It is exempt
// from signature verification and never reaches the queue.
const GitHubEventPing = "ping"

// GitHubPayload is the subset of a GitHub webhook body the pipeline cares
// about. Event-specific sections stay as raw maps; workers decode them into
// typed shapes on their side of the queue.
type GitHubPayload struct {
	Action     string `json:"action"`
	Repository struct {
		ID       int64  `json:"id"`
		Name     string `json:"name"`
		FullName string `json:"full_name"`
		Owner    struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
	Ref         string           `json:"ref"`
	Commits     []map[string]any `json:"commits"`
	PullRequest map[string]any   `json:"pull_request"`
	Issue       map[string]any   `json:"issue"`
	Comment     map[string]any   `json:"comment"`
}

// NormalizeGitHubEvent maps an event type and payload onto a job name and
// job data. Returns ok=false for event types the pipeline does not act on;
// those are acknowledged to GitHub but never enqueued.
func NormalizeGitHubEvent(event string, p *GitHubPayload) (string, map[string]any, bool) {
	switch event {
	case "push":
		return JobGitHubPush, map[string]any{
			"repository": p.Repository.FullName,
			"ref":        p.Ref,
			"commits":    p.Commits,
			"sender":     p.Sender.Login,
		}, true
	case "pull_request":
		return JobGitHubPullRequest, map[string]any{
			"repository":   p.Repository.FullName,
			"action":       p.Action,
			"pull_request": p.PullRequest,
			"sender":       p.Sender.Login,
		}, true
	case "issues":
		return JobGitHubIssues, map[string]any{
			"repository": p.Repository.FullName,
			"action":     p.Action,
			"issue":      p.Issue,
			"sender":     p.Sender.Login,
		}, true
	case "issue_comment":
		return JobGitHubIssueComment, map[string]any{
			"repository": p.Repository.FullName,
			"action":     p.Action,
			"issue":      p.Issue,
			"comment":    p.Comment,
			"sender":     p.Sender.Login,
		}, true
	default:
		return "", nil, false
	}
}
