package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection and stream settings for the Redis Streams
// queue backing.
type RedisConfig struct {
	Addr          string
	DB            int
	Stream        string
	ConsumerGroup string
	ConsumerName  string
	ReadBlock     time.Duration
}

// RedisQueue is the Redis Streams-backed Queue. Producers XADD job
// envelopes; a consumer-group reader started with Start dispatches them by
// job name and acknowledges each entry after the handler returns. Job status
// is mirrored to a per-job hash so other processes can inspect it.
type RedisQueue struct {
	client   *redis.Client
	config   *RedisConfig
	logger   *slog.Logger
	registry *handlerRegistry
	table    *jobTable
}

// NewRedisQueue connects to Redis and ensures the stream and consumer group
// exist.
func NewRedisQueue(cfg *RedisConfig, logger *slog.Logger) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.ConsumerGroup, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	logger.Info("Redis queue initialized",
		slog.String("stream", cfg.Stream),
		slog.String("consumer_group", cfg.ConsumerGroup),
	)

	return &RedisQueue{
		client:   client,
		config:   cfg,
		logger:   logger,
		registry: newHandlerRegistry(logger),
		table:    newJobTable(),
	}, nil
}

// Add appends a job envelope to the stream and returns the assigned id.
func (q *RedisQueue) Add(ctx context.Context, name string, data map[string]any) (string, error) {
	job := &Job{
		ID:        uuid.New().String(),
		Name:      name,
		Data:      data,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	body, err := json.Marshal(envelope{
		ID:         job.ID,
		Name:       job.Name,
		Data:       job.Data,
		EnqueuedAt: job.CreatedAt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal job envelope: %w", err)
	}

	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.config.Stream,
		Values: map[string]interface{}{"job": string(body)},
	}).Err()
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.table.insert(job)
	q.setRemoteStatus(ctx, job.ID, StatusPending)
	return job.ID, nil
}

// Process registers a handler for a job name. Last registration wins.
func (q *RedisQueue) Process(name string, handler Handler) {
	q.registry.register(name, handler)
}

// Start reads job envelopes from the consumer group until ctx is canceled.
// Entries are acknowledged after the handler returns, success or failure;
// redelivery on failure belongs to the Retrier.
func (q *RedisQueue) Start(ctx context.Context) error {
	block := q.config.ReadBlock
	if block <= 0 {
		block = 5 * time.Second
	}
	consumer := q.config.ConsumerName
	if consumer == "" {
		consumer = "worker-1"
	}

	q.logger.Info("Redis consumer started",
		slog.String("stream", q.config.Stream),
		slog.String("consumer", consumer),
	)

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("Redis consumer stopped, context canceled")
			return nil
		default:
		}

		entries, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.config.ConsumerGroup,
			Consumer: consumer,
			Streams:  []string{q.config.Stream, ">"},
			Block:    block,
			Count:    8,
		}).Result()

		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			q.logger.Error("XREADGROUP failed",
				slog.String("error", err.Error()),
			)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range entries {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg)
			}
		}
	}
}

func (q *RedisQueue) handleMessage(ctx context.Context, msg redis.XMessage) {
	defer func() {
		if err := q.client.XAck(ctx, q.config.Stream, q.config.ConsumerGroup, msg.ID).Err(); err != nil {
			q.logger.Error("XACK failed",
				slog.String("message_id", msg.ID),
				slog.String("error", err.Error()),
			)
		}
	}()

	raw, ok := msg.Values["job"].(string)
	if !ok {
		q.logger.Error("Bad stream entry format",
			slog.String("message_id", msg.ID),
		)
		return
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		q.logger.Error("Failed to parse job envelope",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	job := &Job{
		ID:        env.ID,
		Name:      env.Name,
		Data:      env.Data,
		Status:    StatusProcessing,
		CreatedAt: env.EnqueuedAt,
	}
	q.table.insert(job)
	q.setRemoteStatus(ctx, job.ID, StatusProcessing)

	handler, ok := q.registry.lookup(env.Name)
	if !ok {
		q.logger.Warn("No handler registered for job, discarding",
			slog.String("job_id", env.ID),
			slog.String("job_name", env.Name),
		)
		q.table.setStatus(job.ID, StatusFailed)
		q.setRemoteStatus(ctx, job.ID, StatusFailed)
		return
	}

	if err := handler(ctx, job); err != nil {
		q.table.setStatus(job.ID, StatusFailed)
		q.setRemoteStatus(ctx, job.ID, StatusFailed)
		q.logger.Error("Job failed",
			slog.String("job_id", job.ID),
			slog.String("job_name", job.Name),
			slog.String("error", err.Error()),
		)
		return
	}

	q.table.setStatus(job.ID, StatusCompleted)
	q.setRemoteStatus(ctx, job.ID, StatusCompleted)
}

// setRemoteStatus mirrors the job status to a hash keyed by job id so the
// status is visible outside this process. Best effort only.
func (q *RedisQueue) setRemoteStatus(ctx context.Context, jobID, status string) {
	err := q.client.HSet(ctx, "job:"+jobID, map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().Unix(),
	}).Err()
	if err != nil {
		q.logger.Warn("Failed to update job status hash",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// GetJob returns a copy of a job seen by this process.
func (q *RedisQueue) GetJob(id string) (*Job, bool) {
	return q.table.get(id)
}

// Stats returns aggregate counts for jobs seen by this process.
func (q *RedisQueue) Stats() Stats {
	return q.table.stats()
}

// Healthy reports whether Redis answers a ping.
func (q *RedisQueue) Healthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return q.client.Ping(ctx).Err() == nil
}

// Close shuts down the Redis client.
func (q *RedisQueue) Close() error {
	q.logger.Info("Closing Redis queue")
	return q.client.Close()
}
