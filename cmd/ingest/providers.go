package main

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/septivank/fleet-telemetry-ingest/internal/alert"
	"github.com/septivank/fleet-telemetry-ingest/internal/anomaly"
	"github.com/septivank/fleet-telemetry-ingest/internal/config"
	"github.com/septivank/fleet-telemetry-ingest/internal/credential"
	"github.com/septivank/fleet-telemetry-ingest/internal/db"
	httpserver "github.com/septivank/fleet-telemetry-ingest/internal/http"
	"github.com/septivank/fleet-telemetry-ingest/internal/http/handlers"
	"github.com/septivank/fleet-telemetry-ingest/internal/http/middleware"
	"github.com/septivank/fleet-telemetry-ingest/internal/lock"
	"github.com/septivank/fleet-telemetry-ingest/internal/mq"
	"github.com/septivank/fleet-telemetry-ingest/internal/repository"
	"github.com/septivank/fleet-telemetry-ingest/internal/service"
	"github.com/septivank/fleet-telemetry-ingest/internal/validator"
)

const queuedReadingTimeout = 30 * time.Second

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL, cfg.Database.AutoMigrate)
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideResolver resolves device credentials against the repository
func ProvideResolver(repo *repository.Repository) *credential.Resolver {
	return credential.NewResolver(repo)
}

// ProvideValidator creates a new validator instance
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Validation.TimestampToleranceMinutes)
}

// ProvideAnomalyDetector creates a new anomaly detector instance
func ProvideAnomalyDetector(cfg *config.Config) *anomaly.Detector {
	return anomaly.NewDetector(
		anomaly.Mode(cfg.Anomaly.Mode),
		cfg.Anomaly.IgnitionRPM,
		cfg.Anomaly.FuelDropThreshold,
		cfg.Anomaly.FuelDropRatePerHour,
	)
}

// ProvideLocker returns a Redis-backed per-device lock, or a no-op lock when
// REDIS_ADDR is unset.
func ProvideLocker(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (lock.Locker, error) {
	if cfg.Redis.Addr == "" {
		logger.Info("redis not configured, per-device locking disabled")
		return lock.NoopLocker{}, nil
	}

	client, err := lock.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password)
	if err != nil {
		logger.Error("redis connection failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	logger.Info("per-device locking enabled", zap.String("addr", cfg.Redis.Addr))
	return lock.NewRedisLocker(client,
		time.Duration(cfg.Redis.LockTTLMs)*time.Millisecond,
		time.Duration(cfg.Redis.LockWaitMs)*time.Millisecond,
	), nil
}

// ProvideMQConnection creates a new RabbitMQ connection instance. It returns
// nil when RABBITMQ_URL is unset.
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	if !cfg.BrokerEnabled() {
		logger.Info("rabbitmq not configured, broker notifications and queued ingest disabled")
		return nil, nil
	}
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvidePublisher creates the anomaly publisher, or nil without a broker
func ProvidePublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	if conn == nil {
		return nil, nil
	}

	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.AlertExchange, cfg.RabbitMQ.AlertRoutingKey, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

// ProvideAlertSink fans anomalies out to the log, the fuel_alerts table and,
// when configured, the broker.
func ProvideAlertSink(repo *repository.Repository, publisher *mq.Publisher, logger *zap.Logger) alert.Sink {
	sinks := []alert.Sink{
		alert.NewLogSink(logger),
		alert.NewTableSink(repo),
	}
	if publisher != nil {
		sinks = append(sinks, publisher)
	}
	return alert.NewFanout(sinks...)
}

// ProvideIngestService creates the ingestion pipeline
func ProvideIngestService(
	resolver *credential.Resolver,
	validator *validator.Validator,
	detector *anomaly.Detector,
	repo *repository.Repository,
	alerts alert.Sink,
	locker lock.Locker,
	logger *zap.Logger,
) *service.IngestService {
	return service.NewIngestService(resolver, validator, detector, repo, alerts, locker, logger)
}

// ProvideHTTPServer wires routes and middleware
func ProvideHTTPServer(cfg *config.Config, svc *service.IngestService, repo *repository.Repository, logger *zap.Logger) *httpserver.Server {
	router := httpserver.NewRouter(httpserver.Routes{
		IngestPath: cfg.HTTP.IngestPath,
		Ingest:     handlers.NewIngestHandler(svc, logger),
		Health:     handlers.NewHealthHandler(),
		Ready:      handlers.NewReadyHandler(repo, logger),
	})

	return httpserver.NewServer(cfg.HTTPAddress(), router, logger,
		middleware.RequestID,
		middleware.Logging(logger),
		middleware.Recovery(logger),
		middleware.MaxBodyBytes(cfg.HTTP.MaxBodyBytes),
	)
}

func startHTTPServer(lc fx.Lifecycle, server *httpserver.Server) {
	lc.Append(fx.Hook{
		OnStart: server.Start,
		OnStop:  server.Stop,
	})
}

// startQueueIngest consumes readings that gateways publish to the ingest
// queue. Transient failures are requeued a bounded number of times, the rest
// are dead-lettered.
func startQueueIngest(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	svc *service.IngestService,
) error {
	if !cfg.RabbitMQ.IngestEnabled || conn == nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:      conn,
		Queue:           cfg.RabbitMQ.IngestQueue,
		DLQQueue:        cfg.RabbitMQ.DLQQueue,
		Exchange:        cfg.RabbitMQ.IngestExchange,
		RoutingKey:      cfg.RabbitMQ.IngestRoutingKey,
		PrefetchCount:   cfg.RabbitMQ.PrefetchCount,
		HandlerTimeout:  queuedReadingTimeout,
		MaxRedeliveries: cfg.RabbitMQ.MaxRedeliveries,
		Logger:          logger,
		Handler:         svc.ProcessMessage,
	})
	if err != nil {
		cancel()
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("starting queued ingest consumer",
				zap.String("queue", cfg.RabbitMQ.IngestQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			return consumer.Start(ctx)
		},
		OnStop: func(context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("queued ingest consumer stopped")
			return nil
		},
	})

	return nil
}
