package handler_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/webhook-ingest/internal/api/handler"
	"github.com/cuongbtq/webhook-ingest/internal/api/router"
	"github.com/cuongbtq/webhook-ingest/internal/audit"
	"github.com/cuongbtq/webhook-ingest/internal/queue"
	"github.com/cuongbtq/webhook-ingest/internal/ratelimit"
	"github.com/cuongbtq/webhook-ingest/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	githubSecret = "github-test-secret"
	linearSecret = "linear-test-secret"
)

type fixture struct {
	engine  *gin.Engine
	queue   *queue.MemoryQueue
	audit   *audit.Memory
	retrier *queue.Retrier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.NewMemoryQueue(logger)
	auditMem := audit.NewMemory()

	retrier := queue.NewRetrier(q, queue.NewMemorySink(), logger)
	t.Cleanup(retrier.Stop)
	worker.RegisterAll(q, retrier, worker.New(auditMem, logger))

	engine := router.SetupRouter(&handler.Dependencies{
		Logger:       logger,
		Queue:        q,
		Audit:        auditMem,
		GitHubSecret: githubSecret,
		LinearSecret: linearSecret,
	})

	return &fixture{engine: engine, queue: q, audit: auditMem, retrier: retrier}
}

func sign(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func (f *fixture) post(path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func findAudit(entries []audit.Entry, agent, action string) (audit.Entry, bool) {
	for _, e := range entries {
		if e.Agent == agent && e.Action == action {
			return e, true
		}
	}
	return audit.Entry{}, false
}

func TestGitHubWebhook_PushEndToEnd(t *testing.T) {
	f := newFixture(t)

	body := `{
		"ref": "refs/heads/main",
		"repository": {"full_name": "acme/api"},
		"sender": {"login": "octocat"},
		"commits": [
			{"id": "0123456789abcdef", "message": "fix build\n\ndetails", "author": {"name": "Octo Cat"}}
		]
	}`

	w := f.post("/api/webhooks/github", body, map[string]string{
		"X-GitHub-Event":      "push",
		"X-Hub-Signature-256": "sha256=" + sign(body, githubSecret),
	})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "push", resp["event"])

	// Ingress audit entry, written before the enqueue.
	entries := f.audit.Entries()
	received, ok := findAudit(entries, "github_webhook", "webhook:push")
	require.True(t, ok)
	assert.Contains(t, received.Input, `"repository":"acme/api"`)
	assert.Contains(t, received.Output, `"status":"received"`)

	// The memory queue dispatches synchronously, so the worker already ran.
	processed, ok := findAudit(entries, "github_worker", "process_push")
	require.True(t, ok)
	assert.Contains(t, processed.Input, `"repository":"acme/api"`)
	assert.Contains(t, processed.Output, `"status":"processed"`)
	assert.Contains(t, processed.Output, `"0123456"`)
	assert.Contains(t, processed.Output, `"fix build"`)

	stats := f.queue.Stats()
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 0, stats.Failed)
}

func TestGitHubWebhook_PingBypassesSignature(t *testing.T) {
	f := newFixture(t)

	w := f.post("/api/webhooks/github", `{"zen": "Design for failure."}`, map[string]string{
		"X-GitHub-Event": "ping",
	})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "pong", resp["message"])

	// Pings never reach the queue or the audit trail.
	assert.Equal(t, queue.Stats{}, f.queue.Stats())
	assert.Empty(t, f.audit.Entries())
}

func TestGitHubWebhook_MissingEventHeader(t *testing.T) {
	f := newFixture(t)

	w := f.post("/api/webhooks/github", `{}`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "Missing X-GitHub-Event header", resp["error"])
}

func TestGitHubWebhook_InvalidSignature(t *testing.T) {
	f := newFixture(t)

	body := `{"ref": "refs/heads/main", "repository": {"full_name": "acme/api"}}`

	tests := []struct {
		name      string
		signature string
	}{
		{name: "missing header", signature: ""},
		{name: "wrong secret", signature: "sha256=" + sign(body, "wrong-secret")},
		{name: "bare hex without prefix", signature: sign(body, githubSecret)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{"X-GitHub-Event": "push"}
			if tt.signature != "" {
				headers["X-Hub-Signature-256"] = tt.signature
			}

			w := f.post("/api/webhooks/github", body, headers)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, queue.Stats{}, f.queue.Stats())
		})
	}
}

func TestGitHubWebhook_MalformedJSON(t *testing.T) {
	f := newFixture(t)

	body := `{"ref": "refs/heads/main",`

	w := f.post("/api/webhooks/github", body, map[string]string{
		"X-GitHub-Event":      "push",
		"X-Hub-Signature-256": "sha256=" + sign(body, githubSecret),
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "Malformed JSON payload", resp["error"])
}

func TestGitHubWebhook_UnknownEventAcknowledgedNotEnqueued(t *testing.T) {
	f := newFixture(t)

	body := `{"action": "created", "repository": {"full_name": "acme/api"}, "sender": {"login": "octocat"}}`

	w := f.post("/api/webhooks/github", body, map[string]string{
		"X-GitHub-Event":      "star",
		"X-Hub-Signature-256": "sha256=" + sign(body, githubSecret),
	})

	// Returning an error would make GitHub disable the webhook.
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, queue.Stats{}, f.queue.Stats())

	// Still audited as received.
	_, ok := findAudit(f.audit.Entries(), "github_webhook", "webhook:star")
	assert.True(t, ok)
}

func TestGitHubWebhook_UnhealthyQueue(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.queue.Close())

	body := `{"ref": "refs/heads/main", "repository": {"full_name": "acme/api"}}`

	w := f.post("/api/webhooks/github", body, map[string]string{
		"X-GitHub-Event":      "push",
		"X-Hub-Signature-256": "sha256=" + sign(body, githubSecret),
	})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "Queue unavailable", resp["error"])
}

func TestLinearWebhook_IssueEndToEnd(t *testing.T) {
	f := newFixture(t)

	body := `{
		"type": "Issue",
		"action": "create",
		"data": {"id": "iss-1", "title": "Fix login", "team": {"name": "Platform"}},
		"url": "https://linear.app/acme/issue/ABC-1"
	}`

	w := f.post("/api/webhooks/linear", body, map[string]string{
		"Linear-Signature": sign(body, linearSecret),
	})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "Issue", resp["type"])
	assert.Equal(t, "create", resp["action"])

	entries := f.audit.Entries()
	received, ok := findAudit(entries, "linear_webhook", "webhook:Issue.create")
	require.True(t, ok)
	assert.Contains(t, received.Input, `"team":"Platform"`)

	processed, ok := findAudit(entries, "linear_worker", "process_issue")
	require.True(t, ok)
	assert.Contains(t, processed.Input, `"issue_title":"Fix login"`)

	stats := f.queue.Stats()
	assert.Equal(t, 1, stats.Completed)
}

func TestLinearWebhook_MissingRequiredFields(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "missing type", body: `{"action": "create", "data": {}}`},
		{name: "missing action", body: `{"type": "Issue", "data": {}}`},
		{name: "missing both", body: `{"data": {}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.post("/api/webhooks/linear", tt.body, map[string]string{
				"Linear-Signature": sign(tt.body, linearSecret),
			})

			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := decodeBody(t, w)
			assert.Equal(t, "Missing required fields: type, action", resp["error"])
		})
	}
}

func TestLinearWebhook_InvalidSignature(t *testing.T) {
	f := newFixture(t)

	body := `{"type": "Issue", "action": "create", "data": {}}`

	w := f.post("/api/webhooks/linear", body, map[string]string{
		"Linear-Signature": sign(body, "wrong-secret"),
	})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, queue.Stats{}, f.queue.Stats())
}

func TestLinearWebhook_UnknownTypeAcknowledged(t *testing.T) {
	f := newFixture(t)

	body := `{"type": "Cycle", "action": "create", "data": {"id": "cyc-1"}}`

	w := f.post("/api/webhooks/linear", body, map[string]string{
		"Linear-Signature": sign(body, linearSecret),
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, queue.Stats{}, f.queue.Stats())
}

func TestLinearWebhookTest(t *testing.T) {
	f := newFixture(t)

	w := f.get("/api/webhooks/linear/test")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, true, resp["success"])
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	w := f.get("/health")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "healthy", resp["status"])

	require.NoError(t, f.queue.Close())

	w = f.get("/health")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp = decodeBody(t, w)
	assert.Equal(t, "unhealthy", resp["status"])
}

func TestQueueStatsAndJobLookup(t *testing.T) {
	f := newFixture(t)

	body := `{
		"ref": "refs/heads/main",
		"repository": {"full_name": "acme/api"},
		"sender": {"login": "octocat"},
		"commits": []
	}`
	w := f.post("/api/webhooks/github", body, map[string]string{
		"X-GitHub-Event":      "push",
		"X-Hub-Signature-256": "sha256=" + sign(body, githubSecret),
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.get("/api/queue/stats")
	require.Equal(t, http.StatusOK, w.Code)
	stats := decodeBody(t, w)
	assert.Equal(t, float64(1), stats["completed"])

	w = f.get("/api/queue/jobs/no-such-job")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.NewMemoryQueue(logger)
	limiter := ratelimit.New(2, time.Minute)
	t.Cleanup(limiter.Stop)

	engine := router.SetupRouter(&handler.Dependencies{
		Logger:  logger,
		Queue:   q,
		Audit:   audit.NewMemory(),
		Limiter: limiter,
	})

	do := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/github", strings.NewReader(`{}`))
		req.Header.Set("X-GitHub-Event", "ping")
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do())
	assert.Equal(t, http.StatusOK, do())
	assert.Equal(t, http.StatusTooManyRequests, do())

	// The limiter guards only the webhook group.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
