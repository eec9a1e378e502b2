package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is the in-process reference backing. Dispatch happens
// synchronously inside Add, which keeps the single-binary deployment simple;
// callers hold no assumptions about timing either way, per the Queue
// contract. State is owned by the instance, so tests can run independent
// queues side by side.
//
// A single process is the hard limit here: multi-instance deployments need
// one of the durable backings or events will be processed twice or lost.
type MemoryQueue struct {
	logger   *slog.Logger
	registry *handlerRegistry
	table    *jobTable

	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue(logger *slog.Logger) *MemoryQueue {
	return &MemoryQueue{
		logger:   logger,
		registry: newHandlerRegistry(logger),
		table:    newJobTable(),
	}
}

// Add enqueues a job and dispatches it to the registered handler. A job with
// no registered handler stays pending; it is not an error, enqueue and
// registration order are decoupled.
func (q *MemoryQueue) Add(ctx context.Context, name string, data map[string]any) (string, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	q.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		Name:      name,
		Data:      data,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	q.table.insert(job)

	handler, ok := q.registry.lookup(name)
	if !ok {
		q.logger.Warn("No handler registered for job",
			slog.String("job_id", job.ID),
			slog.String("job_name", name),
		)
		return job.ID, nil
	}

	q.dispatch(ctx, job, handler)
	return job.ID, nil
}

// dispatch runs the handler outside the queue lock so handlers may enqueue
// follow-up jobs.
func (q *MemoryQueue) dispatch(ctx context.Context, job *Job, handler Handler) {
	q.table.setStatus(job.ID, StatusProcessing)

	if err := handler(ctx, job); err != nil {
		q.table.setStatus(job.ID, StatusFailed)
		q.logger.Error("Job failed",
			slog.String("job_id", job.ID),
			slog.String("job_name", job.Name),
			slog.String("error", err.Error()),
		)
		return
	}

	q.table.setStatus(job.ID, StatusCompleted)
	q.logger.Debug("Job completed",
		slog.String("job_id", job.ID),
		slog.String("job_name", job.Name),
	)
}

// Process registers a handler for a job name. Last registration wins.
func (q *MemoryQueue) Process(name string, handler Handler) {
	q.registry.register(name, handler)
}

// GetJob returns a copy of the job for status inspection.
func (q *MemoryQueue) GetJob(id string) (*Job, bool) {
	return q.table.get(id)
}

// Stats returns aggregate job counts.
func (q *MemoryQueue) Stats() Stats {
	return q.table.stats()
}

// Healthy reports true until the queue is closed; there is no transport to
// lose.
func (q *MemoryQueue) Healthy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.closed
}

// Close marks the queue closed. Subsequent Adds return ErrQueueClosed.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
