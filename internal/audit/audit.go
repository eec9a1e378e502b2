// Package audit provides the append-only trail written by the webhook
// pipeline: one entry per webhook receipt at the HTTP boundary, one
// outcome-bearing entry per processed job.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// Entry is a single audit record. Input and Output are JSON strings so the
// trail stays schema-free across agents.
type Entry struct {
	Agent     string    `db:"agent" json:"agent"`
	Action    string    `db:"action" json:"action"`
	Input     string    `db:"input" json:"input"`
	Output    string    `db:"output" json:"output"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}

// Recorder accepts audit entries fire-and-forget. The pipeline never
// consults an outcome; a lost audit write must not fail ingestion or
// processing.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

// MarshalJSON renders v as a compact JSON string for an entry's Input or
// Output field. Marshal failures degrade to "{}" rather than dropping the
// entry.
func MarshalJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Store persists entries to the audit_entries table.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

func (s *Store) Record(ctx context.Context, entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	query := `
		INSERT INTO audit_entries (agent, action, input, output, timestamp)
		VALUES (:agent, :action, :input, :output, :timestamp)
	`

	if _, err := s.db.NamedExecContext(ctx, query, entry); err != nil {
		s.logger.Error("Failed to write audit entry",
			slog.String("agent", entry.Agent),
			slog.String("action", entry.Action),
			slog.String("error", err.Error()),
		)
	}
}

// Memory is an in-memory Recorder for tests.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(_ context.Context, entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

// Entries returns a snapshot of everything recorded so far.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
