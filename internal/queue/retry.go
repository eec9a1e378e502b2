package queue

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

// retryKey is the data key carrying retry metadata between attempts. A retry
// is enqueued as a brand-new job; this is the only thread connecting it to
// the attempt it supersedes.
const retryKey = "_retry"

// RetryConfig bounds the exponential backoff applied around a handler.
// Effective delay for attempt n (0-indexed) is
// min(InitialDelay * BackoffMultiplier^n, MaxDelay).
type RetryConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// Presets covering common trade-offs. Plain values, no hidden state; callers
// may also build their own RetryConfig.
var (
	// RetryAggressive suits critical operations worth hammering on.
	RetryAggressive = RetryConfig{
		MaxRetries:        5,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
	}

	// RetryStandard is the default for webhook event processing.
	RetryStandard = RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          time.Minute,
		BackoffMultiplier: 2,
	}

	// RetryConservative backs off hard for expensive operations.
	RetryConservative = RetryConfig{
		MaxRetries:        2,
		InitialDelay:      5 * time.Second,
		MaxDelay:          2 * time.Minute,
		BackoffMultiplier: 3,
	}

	// RetryNone fails fast.
	RetryNone = RetryConfig{
		MaxRetries:        0,
		InitialDelay:      0,
		MaxDelay:          0,
		BackoffMultiplier: 1,
	}
)

// RetryDelay returns the capped backoff delay before the given 0-indexed
// attempt. Never negative, never above MaxDelay.
func RetryDelay(attempt int, cfg RetryConfig) time.Duration {
	if attempt < 0 || cfg.InitialDelay <= 0 {
		return 0
	}

	d := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffMultiplier, float64(attempt))
	if d < 0 || d > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(d)
}

// RetryInfo is the metadata forwarded on a re-enqueued job.
type RetryInfo struct {
	Count         int    `json:"count"`
	LastError     string `json:"last_error"`
	PreviousJobID string `json:"previous_job_id"`
	NextRetryAt   string `json:"next_retry_at"`
}

// RetryMetadata extracts retry metadata from a job's data, if present.
// Numbers survive a JSON round trip through the durable backings as
// float64, so both encodings are accepted.
func RetryMetadata(job *Job) (RetryInfo, bool) {
	raw, ok := job.Data[retryKey].(map[string]any)
	if !ok {
		return RetryInfo{}, false
	}

	info := RetryInfo{}
	switch n := raw["count"].(type) {
	case int:
		info.Count = n
	case float64:
		info.Count = int(n)
	}
	info.LastError, _ = raw["last_error"].(string)
	info.PreviousJobID, _ = raw["previous_job_id"].(string)
	info.NextRetryAt, _ = raw["next_retry_at"].(string)
	return info, true
}

// Retrier decorates job handlers with bounded exponential-backoff retry. It
// owns the pending-retry timers, so a shutdown can revoke them instead of
// letting them fire into a torn-down queue. Exhausted retry budgets
// terminate at the dead-letter sink.
type Retrier struct {
	queue  Queue
	sink   DeadLetterSink
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewRetrier creates a Retrier that re-enqueues onto q and hands permanently
// failed jobs to sink.
func NewRetrier(q Queue, sink DeadLetterSink, logger *slog.Logger) *Retrier {
	return &Retrier{
		queue:  q,
		sink:   sink,
		logger: logger,
		timers: make(map[string]*time.Timer),
	}
}

// Wrap returns a handler that runs h and, on failure, schedules a new
// enqueue of the same job name with forwarded retry metadata. The original
// error is always returned so the current job is marked failed; the retry is
// a distinct future job. Once the budget is exhausted the job goes to the
// dead-letter sink and no further attempt is scheduled.
func (r *Retrier) Wrap(h Handler, cfg RetryConfig) Handler {
	return func(ctx context.Context, job *Job) error {
		attempt := 0
		if info, ok := RetryMetadata(job); ok {
			attempt = info.Count
		}

		err := h(ctx, job)
		if err == nil {
			if attempt > 0 {
				r.logger.Info("Job recovered after retries",
					slog.String("job_id", job.ID),
					slog.String("job_name", job.Name),
					slog.Int("retries", attempt),
				)
			}
			return nil
		}

		if attempt < cfg.MaxRetries {
			r.schedule(job, attempt, err, cfg)
			return err
		}

		r.logger.Error("Job failed permanently, retry budget exhausted",
			slog.String("job_id", job.ID),
			slog.String("job_name", job.Name),
			slog.Int("retries", attempt),
			slog.String("error", err.Error()),
			slog.Any("data", job.Data),
		)
		r.sink.DeadLetter(ctx, job, err)
		return err
	}
}

// schedule arms a timer that re-enqueues the job as a new job after the
// backoff delay.
func (r *Retrier) schedule(job *Job, attempt int, cause error, cfg RetryConfig) {
	delay := RetryDelay(attempt, cfg)
	nextRetryAt := time.Now().Add(delay).Format(time.RFC3339)

	data := make(map[string]any, len(job.Data)+1)
	for k, v := range job.Data {
		data[k] = v
	}
	data[retryKey] = map[string]any{
		"count":           attempt + 1,
		"last_error":      cause.Error(),
		"previous_job_id": job.ID,
		"next_retry_at":   nextRetryAt,
	}

	r.logger.Warn("Job failed, scheduling retry",
		slog.String("job_id", job.ID),
		slog.String("job_name", job.Name),
		slog.Int("attempt", attempt+1),
		slog.Int("max_retries", cfg.MaxRetries),
		slog.Duration("delay", delay),
		slog.String("error", cause.Error()),
	)

	jobID, name := job.ID, job.Name

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.timers[jobID] = time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.timers, jobID)
		r.mu.Unlock()

		if _, err := r.queue.Add(context.Background(), name, data); err != nil {
			r.logger.Error("Failed to enqueue retry",
				slog.String("superseded_job_id", jobID),
				slog.String("job_name", name),
				slog.String("error", err.Error()),
			)
		}
	})
}

// Cancel revokes the pending retry scheduled for a job id, if any. Useful
// when the underlying resource is gone and the retry would only fail again.
func (r *Retrier) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer, ok := r.timers[jobID]
	if !ok {
		return false
	}
	delete(r.timers, jobID)
	return timer.Stop()
}

// Stop revokes every pending retry. Called on shutdown.
func (r *Retrier) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for id, timer := range r.timers {
		timer.Stop()
		delete(r.timers, id)
	}
}
