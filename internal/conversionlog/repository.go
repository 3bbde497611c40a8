// Package conversionlog persists conversion outcomes in PostgreSQL and
// serves the listing and statistics endpoints.
package conversionlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/fhirhub/go-fhirhub/internal/conversion"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("conversion not found")

// Schema creates the conversion log table.
const Schema = `
CREATE TABLE IF NOT EXISTS conversion_log (
	id                 UUID PRIMARY KEY,
	status             TEXT        NOT NULL,
	processing_time_ms BIGINT      NOT NULL,
	error_message      TEXT        NOT NULL DEFAULT '',
	message_type       TEXT        NOT NULL DEFAULT '',
	control_id         TEXT        NOT NULL DEFAULT '',
	patient_id         TEXT        NOT NULL DEFAULT '',
	resource_count     INT         NOT NULL DEFAULT 0,
	source_type        TEXT        NOT NULL,
	input_name         TEXT        NOT NULL DEFAULT '',
	output_name        TEXT        NOT NULL DEFAULT '',
	cached             BOOLEAN     NOT NULL DEFAULT FALSE,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS conversion_log_created_at_idx ON conversion_log (created_at DESC);
`

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Page is one page of the log, newest first.
type Page struct {
	Items []conversion.Outcome `json:"items"`
	Total int64                `json:"total"`
	Page  int                  `json:"page"`
	Size  int                  `json:"size"`
}

// Stats summarizes the log.
type Stats struct {
	Total       int64   `json:"total"`
	Successful  int64   `json:"successful"`
	Failed      int64   `json:"failed"`
	SuccessRate float64 `json:"successRate"`
	Last24h     int64   `json:"last24h"`
	AvgTimeMs   float64 `json:"averageProcessingTimeMs"`
}

// Repository stores outcomes. It implements conversion.Sink.
type Repository struct {
	db     DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db DB, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, logger: logger}
}

// Migrate creates the table when missing.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate conversion_log: %w", err)
	}
	return nil
}

const insertQuery = `
	INSERT INTO conversion_log
	(id, status, processing_time_ms, error_message, message_type, control_id,
	 patient_id, resource_count, source_type, input_name, output_name, cached, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`

func insertArgs(o conversion.Outcome) []any {
	return []any{
		o.ID, o.Status, o.ProcessingTimeMs, o.ErrorMessage, o.MessageType, o.ControlID,
		o.PatientID, o.ResourceCount, o.SourceType, o.InputName, o.OutputName, o.Cached, o.CreatedAt,
	}
}

// Record saves an outcome.
func (r *Repository) Record(ctx context.Context, o conversion.Outcome) error {
	if _, err := r.db.Exec(ctx, insertQuery, insertArgs(o)...); err != nil {
		return fmt.Errorf("insert conversion log: %w", err)
	}
	return nil
}

// RecordTx saves an outcome inside tx, next to the outbox entry for the
// same conversion.
func RecordTx(ctx context.Context, tx pgx.Tx, o conversion.Outcome) error {
	if _, err := tx.Exec(ctx, insertQuery, insertArgs(o)...); err != nil {
		return fmt.Errorf("insert conversion log: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, status, processing_time_ms, error_message, message_type, control_id,
	       patient_id, resource_count, source_type, input_name, output_name, cached, created_at
	FROM conversion_log
`

func scanOutcome(row pgx.Row) (conversion.Outcome, error) {
	var o conversion.Outcome
	err := row.Scan(
		&o.ID, &o.Status, &o.ProcessingTimeMs, &o.ErrorMessage, &o.MessageType, &o.ControlID,
		&o.PatientID, &o.ResourceCount, &o.SourceType, &o.InputName, &o.OutputName, &o.Cached,
		&o.CreatedAt,
	)
	return o, err
}

// Get retrieves one outcome by id.
func (r *Repository) Get(ctx context.Context, id string) (conversion.Outcome, error) {
	o, err := scanOutcome(r.db.QueryRow(ctx, selectColumns+" WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return o, ErrNotFound
	}
	if err != nil {
		return o, fmt.Errorf("get conversion %s: %w", id, err)
	}
	return o, nil
}

// List returns a page of outcomes, newest first. page is zero based.
func (r *Repository) List(ctx context.Context, page, size int) (*Page, error) {
	page, size = NormalizePage(page, size)

	result := &Page{Page: page, Size: size, Items: []conversion.Outcome{}}
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM conversion_log").Scan(&result.Total); err != nil {
		return nil, fmt.Errorf("count conversions: %w", err)
	}

	rows, err := r.db.Query(ctx, selectColumns+" ORDER BY created_at DESC LIMIT $1 OFFSET $2", size, page*size)
	if err != nil {
		return nil, fmt.Errorf("list conversions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversion: %w", err)
		}
		result.Items = append(result.Items, o)
	}
	return result, rows.Err()
}

// Stats computes totals over the whole log.
func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'SUCCESS'),
		       COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '24 hours'),
		       COALESCE(AVG(processing_time_ms), 0)
		FROM conversion_log
	`
	s := &Stats{}
	if err := r.db.QueryRow(ctx, query).Scan(&s.Total, &s.Successful, &s.Last24h, &s.AvgTimeMs); err != nil {
		return nil, fmt.Errorf("conversion stats: %w", err)
	}
	s.Failed = s.Total - s.Successful
	s.SuccessRate = SuccessRate(s.Successful, s.Total)
	return s, nil
}

// Purge deletes outcomes older than the retention window.
func (r *Repository) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx,
		"DELETE FROM conversion_log WHERE created_at < $1",
		time.Now().Add(-olderThan).UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("purge conversion log: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Paging limits.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// NormalizePage clamps paging parameters.
func NormalizePage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

// SuccessRate is a percentage rounded to two decimals.
func SuccessRate(successful, total int64) float64 {
	if total == 0 {
		return 0
	}
	rate := float64(successful) * 100 / float64(total)
	return float64(int64(rate*100+0.5)) / 100
}
