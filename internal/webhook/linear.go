package webhook

// Job names for Linear event families.
const (
	JobLinearIssue   = "linear_issue"
	JobLinearComment = "linear_comment"
	JobLinearProject = "linear_project"
)

// LinearPayload is the subset of a Linear webhook body the pipeline cares
// about. Type and Action are required; a payload missing either is rejected
// at the HTTP boundary.
type LinearPayload struct {
	Action           string         `json:"action"`
	Type             string         `json:"type"`
	Data             map[string]any `json:"data"`
	URL              string         `json:"url"`
	CreatedAt        string         `json:"createdAt"`
	WebhookTimestamp int64          `json:"webhookTimestamp"`
	WebhookID        string         `json:"webhookId"`
}

// NormalizeLinearEvent maps a Linear payload onto a job name and job data.
// Returns ok=false for entity types the pipeline does not act on (Cycle,
// Label, User, ...); those are acknowledged but never enqueued.
func NormalizeLinearEvent(p *LinearPayload) (string, map[string]any, bool) {
	switch p.Type {
	case "Issue":
		return JobLinearIssue, map[string]any{
			"action": p.Action,
			"issue":  p.Data,
			"url":    p.URL,
		}, true
	case "Comment":
		return JobLinearComment, map[string]any{
			"action":  p.Action,
			"comment": p.Data,
			"url":     p.URL,
		}, true
	case "Project":
		return JobLinearProject, map[string]any{
			"action":  p.Action,
			"project": p.Data,
			"url":     p.URL,
		}, true
	default:
		return "", nil, false
	}
}
