package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConfig holds RabbitMQ connection and topology settings for the durable
// queue backing.
type AMQPConfig struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	RoutingKey         string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	PrefetchCount      int
}

// envelope is the wire format for a job on a durable broker.
type envelope struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Data       map[string]any `json:"data"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// AMQPQueue is the RabbitMQ-backed Queue. Producers publish persistent job
// envelopes; a consumer started with Start dispatches them by job name to
// registered handlers with manual acknowledgment.
//
// GetJob and Stats reflect only jobs this process has seen. Cross-instance
// inspection goes through the broker's own tooling.
type AMQPQueue struct {
	config   *AMQPConfig
	conn     *amqp.Connection
	channel  *amqp.Channel
	logger   *slog.Logger
	registry *handlerRegistry
	table    *jobTable
}

// NewAMQPQueue connects to RabbitMQ with retry and declares the exchange,
// queue, and binding.
func NewAMQPQueue(cfg *AMQPConfig, logger *slog.Logger) (*AMQPQueue, error) {
	q := &AMQPQueue{
		config:   cfg,
		logger:   logger,
		registry: newHandlerRegistry(logger),
		table:    newJobTable(),
	}

	if err := q.connect(); err != nil {
		return nil, fmt.Errorf("failed to create AMQP queue: %w", err)
	}
	return q, nil
}

func (q *AMQPQueue) connect() error {
	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		q.config.User,
		q.config.Password,
		q.config.Host,
		q.config.Port,
		q.config.VHost,
	)

	amqpConfig := amqp.Config{
		Heartbeat: q.config.Heartbeat,
		Locale:    "en_US",
	}

	attempts := q.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		q.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		q.conn, err = amqp.DialConfig(dsn, amqpConfig)
		if err == nil {
			break
		}

		q.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)
		if attempt < attempts {
			time.Sleep(q.config.RetryInterval)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	q.channel, err = q.conn.Channel()
	if err != nil {
		q.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := q.declareTopology(); err != nil {
		q.channel.Close()
		q.conn.Close()
		return err
	}

	q.logger.Info("AMQP queue initialized",
		slog.String("exchange", q.config.ExchangeName),
		slog.String("queue", q.config.QueueName),
	)
	return nil
}

func (q *AMQPQueue) declareTopology() error {
	err := q.channel.ExchangeDeclare(
		q.config.ExchangeName,
		q.config.ExchangeType,
		q.config.ExchangeDurable,
		q.config.ExchangeAutoDelete,
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = q.channel.QueueDeclare(
		q.config.QueueName,
		q.config.QueueDurable,
		q.config.QueueAutoDelete,
		q.config.QueueExclusive,
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = q.channel.QueueBind(
		q.config.QueueName,
		q.config.RoutingKey,
		q.config.ExchangeName,
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}

// Add publishes a persistent job envelope and returns the assigned id.
func (q *AMQPQueue) Add(ctx context.Context, name string, data map[string]any) (string, error) {
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

	err = q.channel.PublishWithContext(
		ctx,
		q.config.ExchangeName,
		q.config.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    job.CreatedAt,
			MessageId:    job.ID,
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to publish job: %w", err)
	}

	q.table.insert(job)
	q.logger.Debug("Job published",
		slog.String("job_id", job.ID),
		slog.String("job_name", name),
	)
	return job.ID, nil
}

// Process registers a handler for a job name. Last registration wins.
func (q *AMQPQueue) Process(name string, handler Handler) {
	q.registry.register(name, handler)
}

// Start consumes job envelopes until ctx is canceled, dispatching each to
// its registered handler. Messages are acknowledged after the handler
// returns, success or failure; redelivery on failure is the Retrier's job,
// acking here keeps the broker from double-driving retries.
func (q *AMQPQueue) Start(ctx context.Context) error {
	prefetch := q.config.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := q.channel.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := q.channel.Consume(
		q.config.QueueName,
		"", // generated consumer tag
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	q.logger.Info("AMQP consumer started",
		slog.String("queue", q.config.QueueName),
		slog.Int("prefetch_count", prefetch),
	)

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("AMQP consumer stopped, context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				q.logger.Warn("AMQP delivery channel closed")
				return nil
			}
			q.handleDelivery(ctx, delivery)
		}
	}
}

func (q *AMQPQueue) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var env envelope
	if err := json.Unmarshal(delivery.Body, &env); err != nil {
		q.logger.Error("Failed to parse job envelope",
			slog.String("error", err.Error()),
		)
		// Malformed envelopes can never succeed; drop without requeue.
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			q.logger.Error("Failed to NACK malformed envelope",
				slog.String("error", nackErr.Error()),
			)
		}
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

	handler, ok := q.registry.lookup(env.Name)
	if !ok {
		q.logger.Warn("No handler registered for job, discarding",
			slog.String("job_id", env.ID),
			slog.String("job_name", env.Name),
		)
		q.table.setStatus(job.ID, StatusFailed)
		q.ack(delivery, env.ID)
		return
	}

	if err := handler(ctx, job); err != nil {
		q.table.setStatus(job.ID, StatusFailed)
		q.logger.Error("Job failed",
			slog.String("job_id", job.ID),
			slog.String("job_name", job.Name),
			slog.String("error", err.Error()),
		)
	} else {
		q.table.setStatus(job.ID, StatusCompleted)
	}

	q.ack(delivery, env.ID)
}

func (q *AMQPQueue) ack(delivery amqp.Delivery, jobID string) {
	if err := delivery.Ack(false); err != nil {
		q.logger.Error("Failed to ACK message",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// GetJob returns a copy of a job seen by this process.
func (q *AMQPQueue) GetJob(id string) (*Job, bool) {
	return q.table.get(id)
}

// Stats returns aggregate counts for jobs seen by this process.
func (q *AMQPQueue) Stats() Stats {
	return q.table.stats()
}

// Healthy reports whether the broker connection is open.
func (q *AMQPQueue) Healthy() bool {
	return q.conn != nil && !q.conn.IsClosed()
}

// Close shuts down the channel and connection.
func (q *AMQPQueue) Close() error {
	q.logger.Info("Closing AMQP queue")

	if q.channel != nil {
		if err := q.channel.Close(); err != nil {
			q.logger.Error("Failed to close AMQP channel",
				slog.Any("error", err),
			)
		}
	}
	if q.conn != nil {
		if err := q.conn.Close(); err != nil {
			return fmt.Errorf("failed to close AMQP connection: %w", err)
		}
	}
	return nil
}
