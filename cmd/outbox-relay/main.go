// Package main provides the outbox relay service entry point.
// Publishes committed conversion events to the broker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fhirhub/go-fhirhub/internal/config"
	"github.com/fhirhub/go-fhirhub/internal/infrastructure/postgres"
	"github.com/fhirhub/go-fhirhub/internal/infrastructure/redpanda"
	"github.com/fhirhub/go-fhirhub/internal/observability/metrics"
	"github.com/fhirhub/go-fhirhub/internal/observability/tracing"
	"github.com/fhirhub/go-fhirhub/pkg/circuitbreaker"
)

const serviceName = "outbox-relay"

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

	if err := postgres.MigrateOutbox(ctx, pool); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	logger.Info("connected to database")

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, m, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.KafkaBrokers))

	breakerCfg := circuitbreaker.DefaultConfig("")
	breakerCfg.OnStateChange = func(name string, to circuitbreaker.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(to.Value())
	}
	breakers := circuitbreaker.NewManager(breakerCfg, logger)

	outboxCfg := postgres.DefaultOutboxConfig()
	outboxCfg.DeadLetterTopic = redpanda.TopicDeadLetter
	outbox := postgres.NewOutbox(pool, producer, breakers, m, outboxCfg, logger)

	outbox.Start()
	logger.Info("outbox relay started")

	// Exhausted entries move to the dead letter topic once a minute.
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			n, err := outbox.MoveToDeadLetter(ctx)
			if err != nil {
				logger.Error("dead letter sweep failed", zap.Error(err))
			} else if n > 0 {
				logger.Warn("outbox entries dead lettered", zap.Int64("count", n))
			}
		case <-sigChan:
			logger.Info("shutting down")
			outbox.Stop()
			for _, h := range breakers.Health() {
				logger.Info("circuit breaker",
					zap.String("name", h.Name),
					zap.String("state", string(h.State)),
					zap.Uint32("requests", h.Requests),
					zap.Uint32("failures", h.Failures))
			}
			logger.Info("outbox relay stopped")
			return
		}
	}
}
