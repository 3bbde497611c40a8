package conversionlog

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fhirhub/go-fhirhub/internal/observability/metrics"
)

// Purger removes log rows older than a window.
type Purger interface {
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Retention runs Purge on a cron schedule.
type Retention struct {
	purger  Purger
	window  time.Duration
	cron    *cron.Cron
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRetention schedules purges of rows older than window. schedule accepts
// standard five-field expressions and descriptors such as "@daily".
func NewRetention(p Purger, window time.Duration, schedule string, m *metrics.Metrics, logger *zap.Logger) (*Retention, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if window <= 0 {
		return nil, fmt.Errorf("retention window must be positive, got %s", window)
	}

	r := &Retention{
		purger:  p,
		window:  window,
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		metrics: m,
		logger:  logger,
	}
	if _, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_, _ = r.RunOnce(ctx)
	}); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	return r, nil
}

// RunOnce purges immediately.
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	n, err := r.purger.Purge(ctx, r.window)
	if err != nil {
		r.logger.Error("conversion log purge failed", zap.Error(err))
		return 0, err
	}
	if r.metrics != nil {
		r.metrics.LogEntriesPurged.Add(float64(n))
	}
	r.logger.Info("conversion log purged",
		zap.Int64("rows", n),
		zap.Duration("older_than", r.window))
	return n, nil
}

func (r *Retention) Start() {
	r.cron.Start()
	r.logger.Info("retention job started", zap.Duration("window", r.window))
}

// Stop waits for a running purge to finish.
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
}
