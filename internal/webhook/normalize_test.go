package webhook

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeGitHubEvent(t *testing.T) {
	raw := `{
		"action": "opened",
		"ref": "refs/heads/main",
		"repository": {"id": 42, "name": "api", "full_name": "acme/api", "owner": {"login": "acme"}},
		"sender": {"login": "octocat"},
		"commits": [{"id": "abc123", "message": "fix build"}],
		"pull_request": {"number": 7, "title": "Add feature"},
		"issue": {"number": 3, "title": "Broken"},
		"comment": {"id": 99, "body": "LGTM"}
	}`

	var payload GitHubPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))

	tests := []struct {
		event    string
		wantName string
		wantOK   bool
		wantKeys []string
	}{
		{
			event:    "push",
			wantName: JobGitHubPush,
			wantOK:   true,
			wantKeys: []string{"repository", "ref", "commits", "sender"},
		},
		{
			event:    "pull_request",
			wantName: JobGitHubPullRequest,
			wantOK:   true,
			wantKeys: []string{"repository", "action", "pull_request", "sender"},
		},
		{
			event:    "issues",
			wantName: JobGitHubIssues,
			wantOK:   true,
			wantKeys: []string{"repository", "action", "issue", "sender"},
		},
		{
			event:    "issue_comment",
			wantName: JobGitHubIssueComment,
			wantOK:   true,
			wantKeys: []string{"repository", "action", "issue", "comment", "sender"},
		},
		{
			event:  "workflow_run",
			wantOK: false,
		},
		{
			event:  "ping",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			name, data, ok := NormalizeGitHubEvent(tt.event, &payload)

			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				assert.Empty(t, name)
				assert.Nil(t, data)
				return
			}

			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, "acme/api", data["repository"])
			for _, key := range tt.wantKeys {
				assert.Contains(t, data, key)
			}
			assert.Len(t, data, len(tt.wantKeys))
		})
	}
}

func TestNormalizeLinearEvent(t *testing.T) {
	tests := []struct {
		typ      string
		wantName string
		wantKey  string
		wantOK   bool
	}{
		{typ: "Issue", wantName: JobLinearIssue, wantKey: "issue", wantOK: true},
		{typ: "Comment", wantName: JobLinearComment, wantKey: "comment", wantOK: true},
		{typ: "Project", wantName: JobLinearProject, wantKey: "project", wantOK: true},
		{typ: "Cycle", wantOK: false},
		{typ: "Label", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			payload := &LinearPayload{
				Action: "create",
				Type:   tt.typ,
				Data:   map[string]any{"id": "abc", "title": "Something"},
				URL:    "https://linear.app/acme/issue/ABC-1",
			}

			name, data, ok := NormalizeLinearEvent(payload)

			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}

			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, "create", data["action"])
			assert.Equal(t, payload.Data, data[tt.wantKey])
			assert.Equal(t, payload.URL, data["url"])
		})
	}
}
