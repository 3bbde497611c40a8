package conversionlog

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fhirhub/go-fhirhub/internal/conversion"
	"github.com/fhirhub/go-fhirhub/internal/observability/metrics"
)

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		page, size         int
		wantPage, wantSize int
	}{
		{0, 0, 0, DefaultPageSize},
		{-3, 10, 0, 10},
		{2, 500, 2, MaxPageSize},
		{1, 50, 1, 50},
	}
	for _, tt := range tests {
		p, s := NormalizePage(tt.page, tt.size)
		if p != tt.wantPage || s != tt.wantSize {
			t.Errorf("NormalizePage(%d, %d) = %d, %d", tt.page, tt.size, p, s)
		}
	}
}

func TestSuccessRate(t *testing.T) {
	if SuccessRate(0, 0) != 0 {
		t.Error("empty log should have rate 0")
	}
	if got := SuccessRate(2, 3); got != 66.67 {
		t.Errorf("expected 66.67, got %v", got)
	}
	if got := SuccessRate(5, 5); got != 100 {
		t.Errorf("expected 100, got %v", got)
	}
}

type fakePurger struct {
	rows int64
	err  error
	got  time.Duration
}

func (f *fakePurger) Purge(_ context.Context, olderThan time.Duration) (int64, error) {
	f.got = olderThan
	return f.rows, f.err
}

func TestRetentionRunOnce(t *testing.T) {
	p := &fakePurger{rows: 4}
	m := metrics.New(prometheus.NewRegistry())
	r, err := NewRetention(p, 48*time.Hour, "@daily", m, nil)
	if err != nil {
		t.Fatal(err)
	}

	n, err := r.RunOnce(context.Background())
	if err != nil || n != 4 {
		t.Fatalf("expected 4 rows, got %d (%v)", n, err)
	}
	if p.got != 48*time.Hour {
		t.Errorf("window not passed, got %v", p.got)
	}
	if testutil.ToFloat64(m.LogEntriesPurged) != 4 {
		t.Error("purged rows not counted")
	}

	p.err = errors.New("boom")
	if _, err := r.RunOnce(context.Background()); err == nil {
		t.Error("expected purge error")
	}
}

func TestRetentionRejectsBadSchedule(t *testing.T) {
	if _, err := NewRetention(&fakePurger{}, time.Hour, "not a schedule", nil, nil); err == nil {
		t.Error("expected schedule error")
	}
	if _, err := NewRetention(&fakePurger{}, 0, "@daily", nil, nil); err == nil {
		t.Error("expected window error")
	}
}

func TestRetentionStartStop(t *testing.T) {
	r, err := NewRetention(&fakePurger{}, time.Hour, "@every 1h", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	r.Start()
	r.Stop()
}

// TestRepositoryRoundTrip needs a live database.
func TestRepositoryRoundTrip(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	repo := NewRepository(pool, nil)
	if err := repo.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	o := conversion.Outcome{
		ID:               uuid.New().String(),
		Status:           conversion.StatusSuccess,
		ProcessingTimeMs: 12,
		MessageType:      "ADT^A01",
		ControlID:        "MSG1",
		ResourceCount:    3,
		SourceType:       conversion.SourceAPI,
		CreatedAt:        time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := repo.Record(ctx, o); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Get(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ControlID != "MSG1" || got.ResourceCount != 3 || got.Status != conversion.StatusSuccess {
		t.Errorf("unexpected row %+v", got)
	}

	if _, err := repo.Get(ctx, uuid.New().String()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	page, err := repo.List(ctx, 0, 5)
	if err != nil || len(page.Items) == 0 {
		t.Fatalf("list: %v", err)
	}

	stats, err := repo.Stats(ctx)
	if err != nil || stats.Total < 1 || stats.Last24h < 1 {
		t.Fatalf("stats: %+v %v", stats, err)
	}
}
