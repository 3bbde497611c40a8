// Package conversion wraps the engine with the memo cache, the outcome sink,
// metrics and tracing shared by every entry point.
package conversion

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fhirhub/go-fhirhub/internal/converter"
	"github.com/fhirhub/go-fhirhub/internal/hl7"
	"github.com/fhirhub/go-fhirhub/internal/observability/metrics"
)

// Request is one message to convert.
type Request struct {
	Message    string
	Options    *converter.Options
	Source     SourceType
	InputName  string
	OutputName string
}

// Service runs conversions. Memo, sink and metrics are optional.
type Service struct {
	engine  *converter.Converter
	memo    *Memo
	sink    Sink
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewService creates a conversion service.
func NewService(engine *converter.Converter, memo *Memo, sink Sink, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		engine:  engine,
		memo:    memo,
		sink:    sink,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("conversion"),
	}
}

// Convert converts req.Message and records the outcome. The envelope is
// returned unchanged from the engine or the memo.
func (s *Service) Convert(ctx context.Context, req Request) (converter.Result, Outcome) {
	if req.Source == "" {
		req.Source = SourceAPI
	}
	ctx, span := s.tracer.Start(ctx, "convert",
		trace.WithAttributes(
			attribute.String("source", string(req.Source)),
			attribute.Int("message_bytes", len(req.Message)),
		))
	defer span.End()

	start := time.Now()
	engine := s.engine
	if req.Options != nil {
		engine = engine.WithOptions(*req.Options)
	}

	key := Key(req.Message, engine.Options())
	res, cached := s.lookup(key)
	if !cached {
		res = engine.Convert(req.Message)
		if s.memo != nil {
			s.memo.Set(key, res)
		}
	}
	elapsed := time.Since(start)

	out := s.outcome(req, res, elapsed)
	out.Cached = cached

	span.SetAttributes(
		attribute.String("conversion_id", out.ID),
		attribute.String("message_type", out.MessageType),
		attribute.Int("resource_count", out.ResourceCount),
		attribute.Bool("cached", cached),
	)
	if !res.Success {
		span.SetStatus(codes.Error, res.Message)
	}

	s.observe(out, elapsed)

	if s.sink != nil {
		if err := s.sink.Record(ctx, out); err != nil {
			s.logger.Warn("failed to record conversion",
				zap.String("id", out.ID),
				zap.Error(err),
			)
		}
	}

	return res, out
}

func (s *Service) lookup(key string) (converter.Result, bool) {
	if s.memo == nil {
		return converter.Result{}, false
	}
	res, ok := s.memo.Get(key)
	if s.metrics != nil {
		if ok {
			s.metrics.CacheHits.Inc()
		} else {
			s.metrics.CacheMisses.Inc()
		}
	}
	return res, ok
}

func (s *Service) outcome(req Request, res converter.Result, elapsed time.Duration) Outcome {
	out := Outcome{
		ID:               uuid.New().String(),
		Status:           StatusSuccess,
		ProcessingTimeMs: elapsed.Milliseconds(),
		SourceType:       req.Source,
		InputName:        req.InputName,
		CreatedAt:        time.Now().UTC(),
	}
	if h, ok := hl7.ParseHeader(hl7.Split(req.Message)); ok {
		out.MessageType = h.MessageType
		out.ControlID = h.ControlID
	}
	if !res.Success {
		out.Status = StatusError
		out.ErrorMessage = res.Message
		return out
	}
	out.OutputName = req.OutputName
	out.ResourceCount, out.PatientID, out.byType = summarize(res.FHIRData)
	return out
}

func (s *Service) observe(out Outcome, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.Conversions.WithLabelValues(string(out.Status), string(out.SourceType)).Inc()
	s.metrics.ConversionDuration.Observe(elapsed.Seconds())
	for rt, n := range out.byType {
		s.metrics.ResourcesProduced.WithLabelValues(rt).Add(float64(n))
	}
}

// summarize counts bundle entries and reads the first Patient identifier.
func summarize(data map[string]any) (count int, patientID string, byType map[string]int) {
	byType = make(map[string]int)
	entries, _ := data["entry"].([]any)
	for _, e := range entries {
		entry, _ := e.(map[string]any)
		res, _ := entry["resource"].(map[string]any)
		if res == nil {
			continue
		}
		count++
		rt, _ := res["resourceType"].(string)
		byType[rt]++
		if patientID != "" || res["resourceType"] != "Patient" {
			continue
		}
		ids, _ := res["identifier"].([]any)
		if len(ids) > 0 {
			if id, ok := ids[0].(map[string]any); ok {
				patientID, _ = id["value"].(string)
			}
		}
		if patientID == "" {
			patientID, _ = res["id"].(string)
		}
	}
	return count, patientID, byType
}
