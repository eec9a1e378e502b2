package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// DeadLetterSink receives jobs whose retry budget is exhausted. It is the
// terminal failure boundary: a first-class, pluggable seam rather than a log
// line buried in the retry path.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, job *Job, finalErr error)
}

// LogSink records dead-lettered jobs to the structured log only. Suitable
// for development; production deployments should prefer StoreSink so
// operators can inspect and replay failures.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) DeadLetter(_ context.Context, job *Job, finalErr error) {
	s.logger.Error("Dead-lettered job",
		slog.String("job_id", job.ID),
		slog.String("job_name", job.Name),
		slog.Any("data", job.Data),
		slog.String("final_error", finalErr.Error()),
	)
}

// StoreSink persists dead-lettered jobs to the dead_letters table for later
// inspection. Persistence failures are logged, never propagated: the job is
// already terminally failed and the caller has nothing left to do with an
// error.
type StoreSink struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func NewStoreSink(db *sqlx.DB, logger *slog.Logger) *StoreSink {
	return &StoreSink{db: db, logger: logger}
}

func (s *StoreSink) DeadLetter(ctx context.Context, job *Job, finalErr error) {
	data, err := json.Marshal(job.Data)
	if err != nil {
		data = []byte("{}")
	}

	query := `
		INSERT INTO dead_letters (job_id, job_name, data, final_error, failed_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := s.db.ExecContext(ctx, query, job.ID, job.Name, data, finalErr.Error(), time.Now()); err != nil {
		s.logger.Error("Failed to persist dead-lettered job",
			slog.String("job_id", job.ID),
			slog.String("job_name", job.Name),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Warn("Job dead-lettered",
		slog.String("job_id", job.ID),
		slog.String("job_name", job.Name),
		slog.String("final_error", finalErr.Error()),
	)
}

// DeadLetter is one captured entry in a MemorySink.
type DeadLetter struct {
	Job      Job
	FinalErr error
}

// MemorySink captures dead-lettered jobs in memory for tests.
type MemorySink struct {
	mu      sync.Mutex
	entries []DeadLetter
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) DeadLetter(_ context.Context, job *Job, finalErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, DeadLetter{Job: *job, FinalErr: finalErr})
}

// Entries returns a snapshot of everything dead-lettered so far.
func (s *MemorySink) Entries() []DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeadLetter, len(s.entries))
	copy(out, s.entries)
	return out
}
