package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/webhook-ingest/internal/audit"
	"github.com/cuongbtq/webhook-ingest/internal/config"
	"github.com/cuongbtq/webhook-ingest/internal/queue"
	"github.com/cuongbtq/webhook-ingest/internal/worker"
	"github.com/cuongbtq/webhook-ingest/shared/logger"
	"github.com/cuongbtq/webhook-ingest/shared/postgresql"
	"github.com/joho/godotenv"
)

// consumerQueue is a queue backing that delivers jobs from a broker.
type consumerQueue interface {
	queue.Queue
	Start(ctx context.Context) error
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("queue_driver", cfg.Queue.Driver),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	q, err := buildConsumerQueue(cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}

	auditStore := audit.NewStore(dbClient.GetDB(), appLogger.Logger)
	sink := queue.NewStoreSink(dbClient.GetDB(), appLogger.Logger)
	retrier := queue.NewRetrier(q, sink, appLogger.Logger)
	workers := worker.New(auditStore, appLogger.Logger)
	worker.RegisterAll(q, retrier, workers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Start(ctx)
	}()

	appLogger.Info("Worker service is running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down worker service...",
			slog.String("signal", sig.String()),
		)
	case err := <-errCh:
		if err != nil {
			appLogger.Error("Consumer stopped unexpectedly",
				slog.Any("error", err),
			)
			retrier.Stop()
			q.Close()
			return err
		}
	}

	cancel()

	// Give in-flight handlers a chance to finish before tearing down.
	shutdownTimeout := cfg.Worker.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	select {
	case <-errCh:
	case <-time.After(shutdownTimeout):
		appLogger.Warn("Timed out waiting for consumer to stop")
	}

	retrier.Stop()
	if err := q.Close(); err != nil {
		appLogger.Error("Failed to close queue", slog.Any("error", err))
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// buildConsumerQueue constructs the durable queue backing selected by
// configuration. The memory driver has no broker to consume from, so it is
// rejected here.
func buildConsumerQueue(cfg *config.Config, logger *slog.Logger) (consumerQueue, error) {
	switch cfg.Queue.Driver {
	case config.DriverRabbitMQ:
		return queue.NewAMQPQueue(&queue.AMQPConfig{
			Host:               cfg.RabbitMQ.Host,
			Port:               cfg.RabbitMQ.Port,
			User:               cfg.RabbitMQ.User,
			Password:           cfg.RabbitMQ.Password,
			VHost:              cfg.RabbitMQ.VHost,
			ExchangeName:       cfg.RabbitMQ.Exchange.Name,
			ExchangeType:       cfg.RabbitMQ.Exchange.Type,
			ExchangeDurable:    cfg.RabbitMQ.Exchange.Durable,
			ExchangeAutoDelete: cfg.RabbitMQ.Exchange.AutoDelete,
			QueueName:          cfg.RabbitMQ.Queue.Name,
			QueueDurable:       cfg.RabbitMQ.Queue.Durable,
			QueueAutoDelete:    cfg.RabbitMQ.Queue.AutoDelete,
			QueueExclusive:     cfg.RabbitMQ.Queue.Exclusive,
			RoutingKey:         cfg.RabbitMQ.RoutingKey,
			RetryAttempts:      cfg.RabbitMQ.Connection.RetryAttempts,
			RetryInterval:      cfg.RabbitMQ.Connection.RetryInterval,
			Heartbeat:          cfg.RabbitMQ.Connection.Heartbeat,
			PrefetchCount:      cfg.RabbitMQ.Consumer.PrefetchCount,
		}, logger)

	case config.DriverRedis:
		return queue.NewRedisQueue(&queue.RedisConfig{
			Addr:          cfg.Redis.Addr,
			DB:            cfg.Redis.DB,
			Stream:        cfg.Redis.Stream,
			ConsumerGroup: cfg.Redis.ConsumerGroup,
			ConsumerName:  cfg.Redis.ConsumerName,
			ReadBlock:     cfg.Redis.ReadBlock,
		}, logger)

	case config.DriverMemory:
		return nil, fmt.Errorf("the memory queue driver cannot be consumed by a separate worker process; use rabbitmq or redis")

	default:
		return nil, fmt.Errorf("unknown queue driver: %q", cfg.Queue.Driver)
	}
}
