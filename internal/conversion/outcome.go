package conversion

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SourceType identifies where a message came from.
type SourceType string

const (
	SourceAPI    SourceType = "API"
	SourceFile   SourceType = "FILE"
	SourceUpload SourceType = "UPLOAD"
	SourceStream SourceType = "STREAM"
)

// Status of a recorded conversion.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
)

// Outcome describes one conversion call for the log sink.
type Outcome struct {
	ID               string     `json:"id"`
	Status           Status     `json:"status"`
	ProcessingTimeMs int64      `json:"processingTimeMs"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
	MessageType      string     `json:"messageType,omitempty"`
	ControlID        string     `json:"controlId,omitempty"`
	PatientID        string     `json:"patientId,omitempty"`
	ResourceCount    int        `json:"resourceCount"`
	SourceType       SourceType `json:"sourceType"`
	InputName        string     `json:"inputName,omitempty"`
	OutputName       string     `json:"outputName,omitempty"`
	Cached           bool       `json:"cached"`
	CreatedAt        time.Time  `json:"createdAt"`

	byType map[string]int
}

// Success reports whether the conversion produced a bundle.
func (o Outcome) Success() bool {
	return o.Status == StatusSuccess
}

// Sink receives an Outcome for every conversion.
type Sink interface {
	Record(ctx context.Context, o Outcome) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, o Outcome) error

func (f SinkFunc) Record(ctx context.Context, o Outcome) error {
	return f(ctx, o)
}

// LogSink writes outcomes to a zap logger. Used when no database is configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(_ context.Context, o Outcome) error {
	s.logger.Info("conversion recorded",
		zap.String("id", o.ID),
		zap.String("status", string(o.Status)),
		zap.String("source", string(o.SourceType)),
		zap.String("message_type", o.MessageType),
		zap.String("control_id", o.ControlID),
		zap.Int("resources", o.ResourceCount),
		zap.Int64("processing_ms", o.ProcessingTimeMs),
		zap.String("error", o.ErrorMessage),
	)
	return nil
}
