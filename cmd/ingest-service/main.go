package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/webhook-ingest/internal/api/handler"
	"github.com/cuongbtq/webhook-ingest/internal/api/router"
	"github.com/cuongbtq/webhook-ingest/internal/audit"
	"github.com/cuongbtq/webhook-ingest/internal/config"
	"github.com/cuongbtq/webhook-ingest/internal/queue"
	"github.com/cuongbtq/webhook-ingest/internal/ratelimit"
	"github.com/cuongbtq/webhook-ingest/internal/worker"
	"github.com/cuongbtq/webhook-ingest/shared/logger"
	"github.com/cuongbtq/webhook-ingest/shared/postgresql"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

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

	defaultConfigPath := os.Getenv("INGEST_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/ingest-service/config.yaml"
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

	appLogger.Info("Starting ingest service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("queue_driver", cfg.Queue.Driver),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	auditStore := audit.NewStore(dbClient.GetDB(), appLogger.Logger)

	q, err := buildQueue(cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}

	// With the memory driver the ingest process runs the event handlers
	// itself. Durable drivers only publish here; the worker service consumes.
	var retrier *queue.Retrier
	if cfg.Queue.Driver == config.DriverMemory {
		sink := queue.NewStoreSink(dbClient.GetDB(), appLogger.Logger)
		retrier = queue.NewRetrier(q, sink, appLogger.Logger)
		workers := worker.New(auditStore, appLogger.Logger)
		worker.RegisterAll(q, retrier, workers)
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.MaxRequests > 0 {
		limiter = ratelimit.New(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
	}

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	deps := &handler.Dependencies{
		Logger:       appLogger.Logger,
		Queue:        q,
		Audit:        auditStore,
		GitHubSecret: cfg.Webhooks.GitHubSecret,
		LinearSecret: cfg.Webhooks.LinearSecret,
		Limiter:      limiter,
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router.SetupRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("Ingest service is running",
		slog.String("address", addr),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	err = srv.Shutdown(ctx)

	if retrier != nil {
		retrier.Stop()
	}
	if limiter != nil {
		limiter.Stop()
	}
	if cerr := q.Close(); cerr != nil {
		appLogger.Error("Failed to close queue", slog.Any("error", cerr))
	}
	dbClient.Close()

	if err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
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

// buildQueue constructs the queue backing selected by configuration.
func buildQueue(cfg *config.Config, logger *slog.Logger) (queue.Queue, error) {
	switch cfg.Queue.Driver {
	case config.DriverMemory:
		return queue.NewMemoryQueue(logger), nil

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

	default:
		return nil, fmt.Errorf("unknown queue driver: %q", cfg.Queue.Driver)
	}
}
