package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fhirhub/go-fhirhub/internal/conversion"
	"github.com/fhirhub/go-fhirhub/internal/converter"
	"github.com/fhirhub/go-fhirhub/internal/infrastructure/postgres"
	"github.com/fhirhub/go-fhirhub/internal/infrastructure/redpanda"
	"github.com/fhirhub/go-fhirhub/internal/observability/metrics"
	"github.com/fhirhub/go-fhirhub/pkg/idempotency"
	"github.com/fhirhub/go-fhirhub/pkg/workerpool"
)

const sampleADT = "MSH|^~\\&|SIH|CHU|RECV|FAC|20240301120000||ADT^A01|MSG0001|P|2.5\r" +
	"PID|1||123456^^^CHU&1.2.250.1.71.4.2.2&ISO^PI||DUPONT^JEAN||19800115|M\r" +
	"PV1|1|I|CARDIO^101^A"

// memInbox mimics the inbox state machine in memory.
type memInbox struct {
	mu      sync.Mutex
	results map[string]json.RawMessage
	failed  map[string]bool
	keys    []string
}

func newMemInbox() *memInbox {
	return &memInbox{results: map[string]json.RawMessage{}, failed: map[string]bool{}}
}

func (i *memInbox) Process(ctx context.Context, key, _ string, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error) {
	i.mu.Lock()
	i.keys = append(i.keys, key)
	if i.failed[key] {
		i.mu.Unlock()
		return nil, idempotency.ErrPreviouslyFailed
	}
	if r, ok := i.results[key]; ok {
		i.mu.Unlock()
		return &idempotency.ProcessResult{IsNew: false, Result: r}, nil
	}
	i.mu.Unlock()

	r, err := fn(ctx)
	if err != nil {
		if idempotency.IsTerminal(err) {
			i.mu.Lock()
			i.failed[key] = true
			i.mu.Unlock()
		}
		return nil, err
	}
	i.mu.Lock()
	i.results[key] = r
	i.mu.Unlock()
	return &idempotency.ProcessResult{IsNew: true, Result: r}, nil
}

type memStore struct {
	mu       sync.Mutex
	outcomes []conversion.Outcome
	entries  []*postgres.OutboxEntry
	err      error
}

func (s *memStore) Persist(_ context.Context, o conversion.Outcome, e *postgres.OutboxEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.outcomes = append(s.outcomes, o)
	s.entries = append(s.entries, e)
	return nil
}

func newHandler(t *testing.T, inbox Inbox, store Store) (*Handler, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	svc := conversion.NewService(converter.New(converter.DefaultOptions(), nil), nil, nil, m, nil)
	cfg := workerpool.DefaultConfig()
	cfg.Workers = 2
	h, pool, err := NewHandler(svc, inbox, store, cfg, m, nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	pool.Start()
	t.Cleanup(func() { _ = pool.Stop() })
	return h, m
}

func message(value string, offset int64) *redpanda.ConsumedMessage {
	return &redpanda.ConsumedMessage{
		Topic:     redpanda.TopicHL7Inbound,
		Partition: 1,
		Offset:    offset,
		Key:       []byte("lab"),
		Value:     []byte(value),
	}
}

func TestHandleWritesBundleEvent(t *testing.T) {
	store := &memStore{}
	h, _ := newHandler(t, newMemInbox(), store)

	if err := h.Handle(context.Background(), message(sampleADT, 7)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(store.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(store.entries))
	}
	e, o := store.entries[0], store.outcomes[0]
	if e.KafkaTopic != redpanda.TopicFHIRBundles || e.EventType != postgres.EventBundleConverted {
		t.Errorf("unexpected entry %s/%s", e.KafkaTopic, e.EventType)
	}
	if e.KafkaKey != "123456" {
		t.Errorf("key = %q, want patient id", e.KafkaKey)
	}
	if e.AggregateID != o.ID {
		t.Errorf("aggregate %q does not match conversion %q", e.AggregateID, o.ID)
	}
	if o.SourceType != conversion.SourceStream || o.InputName != "hl7.inbound/1/7" {
		t.Errorf("unexpected outcome %+v", o)
	}

	var ev BundleEvent
	if err := json.Unmarshal(e.Payload, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Bundle["resourceType"] != "Bundle" || ev.ControlID != "MSG0001" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestHandleWritesFailureEvent(t *testing.T) {
	store := &memStore{}
	h, _ := newHandler(t, newMemInbox(), store)

	if err := h.Handle(context.Background(), message("   ", 3)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	e := store.entries[0]
	if e.KafkaTopic != redpanda.TopicConversionFailed || e.EventType != postgres.EventConversionFailed {
		t.Errorf("unexpected entry %s/%s", e.KafkaTopic, e.EventType)
	}
	if store.outcomes[0].Status != conversion.StatusError {
		t.Errorf("status = %s", store.outcomes[0].Status)
	}
	var ev FailureEvent
	if err := json.Unmarshal(e.Payload, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Error == "" || ev.Source != "hl7.inbound/1/3" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestHandleSkipsDuplicates(t *testing.T) {
	store := &memStore{}
	inbox := newMemInbox()
	h, m := newHandler(t, inbox, store)
	ctx := context.Background()

	// Same sender and control id at a different offset is a redelivery.
	if err := h.Handle(ctx, message(sampleADT, 1)); err != nil {
		t.Fatal(err)
	}
	if err := h.Handle(ctx, message(sampleADT, 2)); err != nil {
		t.Fatal(err)
	}

	if len(store.entries) != 1 {
		t.Errorf("entries = %d, want 1", len(store.entries))
	}
	if inbox.keys[0] != inbox.keys[1] {
		t.Error("redelivery produced a different key")
	}
	if got := testutil.ToFloat64(m.DuplicatesSkipped); got != 1 {
		t.Errorf("duplicates = %v, want 1", got)
	}
}

func TestHandleReturnsStoreErrors(t *testing.T) {
	store := &memStore{err: errors.New("database down")}
	inbox := newMemInbox()
	h, _ := newHandler(t, inbox, store)

	err := h.Handle(context.Background(), message(sampleADT, 1))
	if err == nil {
		t.Fatal("expected error")
	}
	if IsPermanent(err) {
		t.Error("store errors should be retried")
	}

	// A retry after recovery goes through.
	store.err = nil
	if err := h.Handle(context.Background(), message(sampleADT, 1)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(store.entries) != 1 {
		t.Errorf("entries = %d, want 1", len(store.entries))
	}
}

func TestHandleIgnoresPreviouslyFailed(t *testing.T) {
	inbox := newMemInbox()
	h, _ := newHandler(t, inbox, &memStore{})

	msg := message(sampleADT, 1)
	key := idempotency.GenerateKey("SIH", "CHU", "MSG0001", msg.Value)
	inbox.failed[key] = true

	if err := h.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
}

func TestEventKeyFallbacks(t *testing.T) {
	out := conversion.Outcome{ID: "conv-1", ControlID: "CTRL"}
	e, err := Event(converter.Result{Success: true, FHIRData: map[string]any{}}, out, "rec")
	if err != nil {
		t.Fatal(err)
	}
	if e.KafkaKey != "CTRL" {
		t.Errorf("key = %q, want control id", e.KafkaKey)
	}

	e, _ = Event(converter.Result{Success: false, Message: "x"}, conversion.Outcome{ID: "conv-2"}, "")
	if e.KafkaKey != "conv-2" {
		t.Errorf("key = %q, want conversion id", e.KafkaKey)
	}
}

func TestIsPermanent(t *testing.T) {
	if !IsPermanent(idempotency.Terminal(errors.New("bad"))) {
		t.Error("terminal errors are permanent")
	}
	if !IsPermanent(idempotency.ErrPreviouslyFailed) {
		t.Error("previously failed is permanent")
	}
	if IsPermanent(errors.New("timeout")) {
		t.Error("plain errors are retryable")
	}
}
