// Package main provides the stream converter entry point.
// Consumes HL7 messages from hl7.inbound and writes bundles through the outbox.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fhirhub/go-fhirhub/internal/api/handlers"
	"github.com/fhirhub/go-fhirhub/internal/config"
	"github.com/fhirhub/go-fhirhub/internal/conversion"
	"github.com/fhirhub/go-fhirhub/internal/conversionlog"
	"github.com/fhirhub/go-fhirhub/internal/converter"
	"github.com/fhirhub/go-fhirhub/internal/infrastructure/postgres"
	"github.com/fhirhub/go-fhirhub/internal/infrastructure/redpanda"
	"github.com/fhirhub/go-fhirhub/internal/observability/metrics"
	"github.com/fhirhub/go-fhirhub/internal/observability/tracing"
	"github.com/fhirhub/go-fhirhub/internal/stream"
	"github.com/fhirhub/go-fhirhub/pkg/idempotency"
	"github.com/fhirhub/go-fhirhub/pkg/workerpool"
)

const (
	serviceName = "stream-converter"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if err := cfg.RequireDatabase(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx := context.Background()

	tcfg := tracing.DefaultConfig(serviceName)
	tcfg.Enabled = cfg.TracingEnabled
	tcfg.Environment = cfg.Env
	tcfg.OTLPEndpoint = cfg.OTLPEndpoint
	tp, err := tracing.Init(ctx, tcfg)
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	m := metrics.New(nil)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	inbox := idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), logger)
	if err := conversionlog.NewRepository(pool, logger).Migrate(ctx); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	if err := postgres.MigrateOutbox(ctx, pool); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	if err := inbox.Migrate(ctx); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	inbox.StartCleanup()
	defer inbox.Stop()

	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	if err := admin.EnsureTopics(ctx); err != nil {
		logger.Warn("could not ensure topics", zap.Error(err))
	}
	admin.Close()

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, m, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	var memo *conversion.Memo
	if cfg.CacheMaxEntries > 0 {
		if memo, err = conversion.NewMemo(cfg.CacheMaxEntries, cfg.CacheTTL); err != nil {
			logger.Fatal("cache init failed", zap.Error(err))
		}
		defer memo.Close()
	}

	// The handler persists outcomes itself, inside the outbox transaction.
	svc := conversion.NewService(converter.New(cfg.ConverterOptions(), logger), memo, nil, m, logger)

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.Workers
	handler, workers, err := stream.NewHandler(svc, inbox, stream.NewPGStore(pool), poolCfg, m, logger)
	if err != nil {
		logger.Fatal("worker pool creation failed", zap.Error(err))
	}
	workers.Start()
	defer workers.Stop()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers
	consumerCfg.GroupID = serviceName
	consumerCfg.IsPermanent = stream.IsPermanent

	consumer, err := redpanda.NewConsumer(consumerCfg, handler.Handle, producer, m, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}
	consumer.Start()

	health := handlers.NewHealthHandler(serviceName, version, map[string]handlers.Pinger{
		"database": pool,
		"kafka":    redpanda.Pinger(cfg.KafkaBrokers),
	})
	r := chi.NewRouter()
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	r.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", zap.Error(err))
		}
	}()

	logger.Info("stream converter started",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.Strings("topics", consumerCfg.Topics),
		zap.Int("workers", cfg.Workers))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	consumer.Stop()

	stats := consumer.Stats()
	logger.Info("stream converter stopped",
		zap.Int64("messages", stats.MessagesRead),
		zap.Int64("errors", stats.ErrorCount),
		zap.Int64("dead_lettered", stats.DeadLettered))
}
