// Package main provides the conversion API service entry point.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fhirhub/go-fhirhub/internal/api"
	"github.com/fhirhub/go-fhirhub/internal/api/handlers"
	"github.com/fhirhub/go-fhirhub/internal/config"
	"github.com/fhirhub/go-fhirhub/internal/conversion"
	"github.com/fhirhub/go-fhirhub/internal/conversionlog"
	"github.com/fhirhub/go-fhirhub/internal/converter"
	"github.com/fhirhub/go-fhirhub/internal/observability/metrics"
	"github.com/fhirhub/go-fhirhub/internal/observability/tracing"
)

const (
	serviceName = "convert-api"
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
	apiKeys, _ := cfg.APIKeyMap()
	if len(apiKeys) == 0 {
		logger.Warn("API_KEYS is empty, /api/v1 is open")
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

	m := metrics.New(nil)

	var memo *conversion.Memo
	if cfg.CacheMaxEntries > 0 {
		memo, err = conversion.NewMemo(cfg.CacheMaxEntries, cfg.CacheTTL)
		if err != nil {
			logger.Fatal("cache init failed", zap.Error(err))
		}
		defer memo.Close()
	}

	deps := map[string]handlers.Pinger{}
	var sink conversion.Sink = conversion.NewLogSink(logger)
	var logHandler *handlers.ConversionsHandler
	var retention *conversionlog.Retention

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("database ping failed", zap.Error(err))
		}
		logger.Info("connected to database")

		repo := conversionlog.NewRepository(pool, logger)
		if err := repo.Migrate(ctx); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
		sink = repo
		logHandler = handlers.NewConversionsHandler(repo, logger)
		deps["database"] = pool

		retention, err = conversionlog.NewRetention(repo, cfg.LogRetention, cfg.RetentionSchedule, m, logger)
		if err != nil {
			logger.Fatal("retention init failed", zap.Error(err))
		}
		retention.Start()
	} else {
		logger.Warn("DATABASE_URL is empty, conversions are only logged")
	}

	engine := converter.New(cfg.ConverterOptions(), logger)
	svc := conversion.NewService(engine, memo, sink, m, logger)

	router := api.NewRouter(api.RouterConfig{
		ServiceName: serviceName,
		APIKeys:     apiKeys,
		Convert:     handlers.NewConvertHandler(svc, logger),
		Log:         logHandler,
		Health:      handlers.NewHealthHandler(serviceName, version, deps),
		Logger:      logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		if retention != nil {
			retention.Stop()
		}
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("tracer shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting conversion API", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
	<-done

	logger.Info("server stopped")
}
