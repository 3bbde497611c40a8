// Package stream converts HL7 messages consumed from the broker. Each message
// is deduplicated through the inbox, converted on the worker pool, and its
// log row and outbox event are committed in one transaction.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/fhirhub/go-fhirhub/internal/conversion"
	"github.com/fhirhub/go-fhirhub/internal/conversionlog"
	"github.com/fhirhub/go-fhirhub/internal/converter"
	"github.com/fhirhub/go-fhirhub/internal/hl7"
	"github.com/fhirhub/go-fhirhub/internal/infrastructure/postgres"
	"github.com/fhirhub/go-fhirhub/internal/infrastructure/redpanda"
	"github.com/fhirhub/go-fhirhub/internal/observability/metrics"
	"github.com/fhirhub/go-fhirhub/pkg/idempotency"
	"github.com/fhirhub/go-fhirhub/pkg/workerpool"
)

// HandlerName identifies this consumer in the inbox.
const HandlerName = "stream-converter"

// Converter is the part of conversion.Service the handler needs.
type Converter interface {
	Convert(ctx context.Context, req conversion.Request) (converter.Result, conversion.Outcome)
}

// Inbox deduplicates messages; *idempotency.Inbox satisfies it.
type Inbox interface {
	Process(ctx context.Context, key, handlerName string, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error)
}

// Store commits an outcome and its event atomically.
type Store interface {
	Persist(ctx context.Context, o conversion.Outcome, entry *postgres.OutboxEntry) error
}

// BundleEvent is published on the bundles topic.
type BundleEvent struct {
	ConversionID  string         `json:"conversionId"`
	MessageType   string         `json:"messageType,omitempty"`
	ControlID     string         `json:"controlId,omitempty"`
	PatientID     string         `json:"patientId,omitempty"`
	ResourceCount int            `json:"resourceCount"`
	Bundle        map[string]any `json:"bundle"`
}

// FailureEvent is published on the failed topic.
type FailureEvent struct {
	ConversionID string `json:"conversionId"`
	MessageType  string `json:"messageType,omitempty"`
	ControlID    string `json:"controlId,omitempty"`
	Error        string `json:"error"`
	Source       string `json:"source"`
}

type job struct {
	req conversion.Request
}

type converted struct {
	res converter.Result
	out conversion.Outcome
}

// Handler processes consumed messages.
type Handler struct {
	inbox   Inbox
	store   Store
	pool    *workerpool.Pool
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHandler creates a handler. The returned pool must be started by the
// caller and stopped after the consumer.
func NewHandler(conv Converter, inbox Inbox, store Store, poolCfg workerpool.Config, m *metrics.Metrics, logger *zap.Logger) (*Handler, *workerpool.Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Conversion is deterministic; retrying it gains nothing.
	poolCfg.MaxRetries = 0
	pool, err := workerpool.New(poolCfg, func(ctx context.Context, task *workerpool.Task) *workerpool.Result {
		j := task.Payload.(*job)
		res, out := conv.Convert(ctx, j.req)
		return &workerpool.Result{Success: true, Data: converted{res: res, out: out}}
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return &Handler{inbox: inbox, store: store, pool: pool, metrics: m, logger: logger}, pool, nil
}

// Handle is a redpanda.MessageHandler.
func (h *Handler) Handle(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	raw := string(msg.Value)
	hdr, _ := hl7.ParseHeader(hl7.Split(raw))
	key := idempotency.GenerateKey(hdr.SendingApp, hdr.SendingFac, hdr.ControlID, msg.Value)

	result, err := h.inbox.Process(ctx, key, HandlerName, func(ctx context.Context) (json.RawMessage, error) {
		return h.convert(ctx, msg)
	})
	switch {
	case errors.Is(err, idempotency.ErrPreviouslyFailed):
		h.logger.Warn("skipping message that failed permanently",
			zap.String("control_id", hdr.ControlID),
			zap.String("key", key))
		return nil
	case err != nil:
		return err
	}

	if !result.IsNew && !result.WasRecovered {
		h.skipped()
		h.logger.Info("duplicate message skipped",
			zap.String("control_id", hdr.ControlID),
			zap.String("key", key))
	}
	return nil
}

func (h *Handler) convert(ctx context.Context, msg *redpanda.ConsumedMessage) (json.RawMessage, error) {
	req := conversion.Request{
		Message:   string(msg.Value),
		Source:    conversion.SourceStream,
		InputName: Position(msg),
	}
	r, err := h.pool.SubmitWait(ctx, &workerpool.Task{ID: req.InputName, Payload: &job{req: req}})
	if err != nil {
		return nil, err
	}
	if r.Error != nil {
		return nil, r.Error
	}
	c := r.Data.(converted)

	entry, err := Event(c.res, c.out, string(msg.Key))
	if err != nil {
		return nil, idempotency.Terminal(err)
	}
	if err := h.store.Persist(ctx, c.out, entry); err != nil {
		return nil, fmt.Errorf("persist conversion %s: %w", c.out.ID, err)
	}

	h.logger.Info("message converted",
		zap.String("conversion_id", c.out.ID),
		zap.String("status", string(c.out.Status)),
		zap.String("message_type", c.out.MessageType),
		zap.String("control_id", c.out.ControlID),
		zap.Int("resources", c.out.ResourceCount))

	return json.Marshal(map[string]string{"conversionId": c.out.ID, "status": string(c.out.Status)})
}

func (h *Handler) skipped() {
	if h.metrics != nil {
		h.metrics.DuplicatesSkipped.Inc()
	}
}

// Position names a record by topic, partition and offset.
func Position(msg *redpanda.ConsumedMessage) string {
	return msg.Topic + "/" + strconv.Itoa(int(msg.Partition)) + "/" + strconv.FormatInt(msg.Offset, 10)
}

// Event builds the outbox entry for a conversion. Successful bundles are
// keyed by patient so one patient's bundles stay ordered.
func Event(res converter.Result, out conversion.Outcome, recordKey string) (*postgres.OutboxEntry, error) {
	entry := &postgres.OutboxEntry{
		AggregateID:   out.ID,
		AggregateType: postgres.AggregateConversion,
	}

	var payload any
	if res.Success {
		entry.EventType = postgres.EventBundleConverted
		entry.KafkaTopic = redpanda.TopicFHIRBundles
		entry.KafkaKey = firstNonEmpty(out.PatientID, out.ControlID, recordKey, out.ID)
		payload = BundleEvent{
			ConversionID:  out.ID,
			MessageType:   out.MessageType,
			ControlID:     out.ControlID,
			PatientID:     out.PatientID,
			ResourceCount: out.ResourceCount,
			Bundle:        res.FHIRData,
		}
	} else {
		entry.EventType = postgres.EventConversionFailed
		entry.KafkaTopic = redpanda.TopicConversionFailed
		entry.KafkaKey = firstNonEmpty(out.ControlID, recordKey, out.ID)
		payload = FailureEvent{
			ConversionID: out.ID,
			MessageType:  out.MessageType,
			ControlID:    out.ControlID,
			Error:        out.ErrorMessage,
			Source:       out.InputName,
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	entry.Payload = data
	return entry, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// IsPermanent reports errors the consumer should not retry.
func IsPermanent(err error) bool {
	return idempotency.IsTerminal(err) || errors.Is(err, idempotency.ErrPreviouslyFailed)
}

// PGStore writes the log row and the outbox entry in one transaction.
type PGStore struct {
	db interface {
		Begin(ctx context.Context) (pgx.Tx, error)
	}
}

// NewPGStore creates a store over a pgx pool.
func NewPGStore(db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}) *PGStore {
	return &PGStore{db: db}
}

// Persist implements Store.
func (s *PGStore) Persist(ctx context.Context, o conversion.Outcome, entry *postgres.OutboxEntry) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := conversionlog.RecordTx(ctx, tx, o); err != nil {
			return err
		}
		return postgres.WriteEntry(ctx, tx, entry)
	})
}
