package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Job statuses. Lifecycle: pending -> processing -> completed or failed.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

var (
	// ErrQueueClosed is returned by Add after Close.
	ErrQueueClosed = errors.New("queue is closed")
)

// Job is a unit of asynchronous work enqueued under a name with a data
// payload. The queue owns a job for its whole lifetime; a retry is a new
// job, never a resurrection of a failed one.
type Job struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Data        map[string]any `json:"data"`
	Status      string         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	ProcessedAt time.Time      `json:"processed_at,omitempty"`
}

// Handler processes all jobs of a given name. Returning an error marks the
// job failed and propagates to whatever wrapped the handler; the queue
// itself never retries.
type Handler func(ctx context.Context, job *Job) error

// Stats holds aggregate job counts for observability.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Queue decouples producers from consumers via named, asynchronous job
// dispatch. Add returns as soon as the job is accepted; callers must not
// assume when, or on which goroutine, the handler runs. Implementations:
// MemoryQueue (in-process reference), AMQPQueue (RabbitMQ), RedisQueue
// (Redis Streams).
type Queue interface {
	// Add enqueues a job and returns its id. It does not fail per-job when
	// the backing transport is degraded; transport trouble surfaces through
	// Healthy instead.
	Add(ctx context.Context, name string, data map[string]any) (string, error)

	// Process registers the handler for a job name. Registering the same
	// name twice replaces the previous handler (last registration wins) and
	// logs a warning; two handlers never both run.
	Process(name string, handler Handler)

	// GetJob looks up a job for status inspection. Operational tooling and
	// tests only, not business logic.
	GetJob(id string) (*Job, bool)

	// Stats returns aggregate counts by status.
	Stats() Stats

	// Healthy reports whether the backing transport is reachable.
	Healthy() bool

	// Close releases the backing transport.
	Close() error
}

// handlerRegistry is the per-name handler table shared by all backings.
type handlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

func newHandlerRegistry(logger *slog.Logger) *handlerRegistry {
	return &handlerRegistry{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

func (r *handlerRegistry) register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		r.logger.Warn("Replacing existing job handler",
			slog.String("job_name", name),
		)
	}
	r.handlers[name] = h
}

func (r *handlerRegistry) lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	return h, ok
}

// jobTable is the process-local job bookkeeping shared by all backings. For
// the durable backings it only reflects jobs seen by this process; spanning
// instances requires inspecting the broker itself.
type jobTable struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func newJobTable() *jobTable {
	return &jobTable{jobs: make(map[string]*Job)}
}

func (t *jobTable) insert(job *Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[job.ID] = job
}

// setStatus transitions a job and stamps ProcessedAt on terminal states.
func (t *jobTable) setStatus(id, status string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return
	}
	job.Status = status
	if status == StatusCompleted || status == StatusFailed {
		job.ProcessedAt = time.Now()
	}
}

// get returns a copy so callers can inspect a job without racing dispatch.
func (t *jobTable) get(id string) (*Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	job, ok := t.jobs[id]
	if !ok {
		return nil, false
	}
	copied := *job
	return &copied, true
}

func (t *jobTable) stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var s Stats
	for _, job := range t.jobs {
		switch job.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}
