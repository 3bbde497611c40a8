package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fhirhub/go-fhirhub/pkg/circuitbreaker"
)

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeRows struct {
	pgx.Rows
	entries []*OutboxEntry
	i       int
}

func (r *fakeRows) Next() bool {
	r.i++
	return r.i <= len(r.entries)
}

func (r *fakeRows) Scan(dest ...any) error {
	e := r.entries[r.i-1]
	*dest[0].(*int64) = e.ID
	*dest[1].(*string) = e.AggregateID
	*dest[2].(*string) = e.AggregateType
	*dest[3].(*string) = e.EventType
	*dest[4].(*json.RawMessage) = e.Payload
	*dest[5].(*string) = e.KafkaTopic
	*dest[6].(*string) = e.KafkaKey
	*dest[7].(*time.Time) = e.CreatedAt
	*dest[8].(*int) = e.RetryCount
	*dest[9].(**string) = e.LastError
	return nil
}

func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return nil }

type fakeTx struct {
	pgx.Tx
	locked    bool
	entries   []*OutboxEntry
	execs     []string
	committed bool
}

func (t *fakeTx) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	return fakeRow{scan: func(dest ...any) error {
		*dest[0].(*bool) = t.locked
		return nil
	}}
}

func (t *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return &fakeRows{entries: t.entries}, nil
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, sql)
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error { return nil }

type fakeDB struct {
	tx *fakeTx
}

func (d *fakeDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("DELETE 0"), nil
}

func (d *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return fakeRow{scan: func(dest ...any) error {
		*dest[0].(*int64) = 0
		return nil
	}}
}

func (d *fakeDB) Begin(context.Context) (pgx.Tx, error) { return d.tx, nil }

type fakePublisher struct {
	mu   sync.Mutex
	fail map[string]bool
	sent []string
}

func (p *fakePublisher) Publish(_ context.Context, topic, key string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[topic] {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, topic+"/"+key)
	return nil
}

func entry(id int64, topic string) *OutboxEntry {
	return &OutboxEntry{
		ID:            id,
		AggregateID:   "conv-" + topic,
		AggregateType: AggregateConversion,
		EventType:     EventBundleConverted,
		Payload:       json.RawMessage(`{"resourceType":"Bundle"}`),
		KafkaTopic:    topic,
		KafkaKey:      "key",
		CreatedAt:     time.Now(),
	}
}

func countPrefix(execs []string, prefix string) int {
	n := 0
	for _, sql := range execs {
		if strings.HasPrefix(strings.TrimSpace(sql), prefix) {
			n++
		}
	}
	return n
}

func TestProcessBatchPublishesAndMarks(t *testing.T) {
	tx := &fakeTx{locked: true, entries: []*OutboxEntry{entry(1, "fhir.bundles"), entry(2, "fhir.bundles")}}
	pub := &fakePublisher{}
	o := NewOutbox(&fakeDB{tx: tx}, pub, nil, nil, DefaultOutboxConfig(), nil)

	n, err := o.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if n != 2 || len(pub.sent) != 2 {
		t.Fatalf("published %d, sent %v", n, pub.sent)
	}
	if got := countPrefix(tx.execs, "UPDATE outbox SET processed_at"); got != 2 {
		t.Errorf("processed updates = %d, want 2", got)
	}
	if !tx.committed {
		t.Error("transaction not committed")
	}
}

func TestProcessBatchSkipsWithoutLock(t *testing.T) {
	tx := &fakeTx{locked: false, entries: []*OutboxEntry{entry(1, "fhir.bundles")}}
	pub := &fakePublisher{}
	o := NewOutbox(&fakeDB{tx: tx}, pub, nil, nil, DefaultOutboxConfig(), nil)

	n, err := o.ProcessBatch(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if len(pub.sent) != 0 {
		t.Errorf("published without lock: %v", pub.sent)
	}
}

func TestProcessBatchRecordsFailures(t *testing.T) {
	tx := &fakeTx{locked: true, entries: []*OutboxEntry{entry(1, "conversion.failed"), entry(2, "fhir.bundles")}}
	pub := &fakePublisher{fail: map[string]bool{"conversion.failed": true}}
	o := NewOutbox(&fakeDB{tx: tx}, pub, nil, nil, DefaultOutboxConfig(), nil)

	n, err := o.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if n != 1 {
		t.Errorf("published = %d, want 1", n)
	}
	if got := countPrefix(tx.execs, "UPDATE outbox SET retry_count"); got != 1 {
		t.Errorf("retry updates = %d, want 1", got)
	}
}

func TestProcessBatchHoldsTopicWhileCircuitOpen(t *testing.T) {
	base := circuitbreaker.DefaultConfig("")
	base.FailureThreshold = 1
	base.Timeout = time.Minute
	breakers := circuitbreaker.NewManager(base, nil)

	tx := &fakeTx{locked: true, entries: []*OutboxEntry{
		entry(1, "fhir.bundles"),
		entry(2, "fhir.bundles"),
		entry(3, "fhir.bundles"),
	}}
	pub := &fakePublisher{fail: map[string]bool{"fhir.bundles": true}}
	o := NewOutbox(&fakeDB{tx: tx}, pub, breakers, nil, DefaultOutboxConfig(), nil)

	if _, err := o.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	// The first failure opens the circuit; the rest wait without a retry charge.
	if got := countPrefix(tx.execs, "UPDATE outbox SET retry_count"); got != 1 {
		t.Errorf("retry updates = %d, want 1", got)
	}
	cb, _ := breakers.For("fhir.bundles")
	if !cb.IsOpen() {
		t.Error("circuit should be open")
	}
}
