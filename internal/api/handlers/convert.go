// Package handlers provides HTTP handlers for the conversion API.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fhirhub/go-fhirhub/internal/api/middleware"
	"github.com/fhirhub/go-fhirhub/internal/conversion"
	"github.com/fhirhub/go-fhirhub/internal/converter"
)

// MaxUploadBytes bounds multipart uploads.
const MaxUploadBytes = 10 << 20

// Converter is the conversion service as seen by the handlers.
type Converter interface {
	Convert(ctx context.Context, req conversion.Request) (converter.Result, conversion.Outcome)
}

// ConvertHandler serves the convert and upload endpoints.
type ConvertHandler struct {
	svc    Converter
	logger *zap.Logger
}

// NewConvertHandler creates a new handler
func NewConvertHandler(svc Converter, logger *zap.Logger) *ConvertHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConvertHandler{svc: svc, logger: logger}
}

// Register adds the handler routes to r.
func (h *ConvertHandler) Register(r chi.Router) {
	r.Post("/convert", h.Convert)
	r.Post("/upload", h.Upload)
}

// ConvertRequest is the body of POST /convert. Message is forwarded to the
// engine unchanged, blank or not.
type ConvertRequest struct {
	Message  string             `json:"message"`
	Options  *converter.Options `json:"options,omitempty"`
	Filename string             `json:"filename,omitempty"`
}

// ConvertResponse is the engine envelope plus the id of the log entry.
type ConvertResponse struct {
	converter.Result
	ConversionID string `json:"conversionId"`
}

// Convert handles POST /convert
func (h *ConvertHandler) Convert(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("convert-handler").Start(r.Context(), "convert_message")
	defer span.End()

	var req ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Filename == "" {
		req.Filename = "manual_input_" + uuid.New().String() + ".hl7"
	}

	h.respond(ctx, w, conversion.Request{
		Message:   req.Message,
		Options:   req.Options,
		Source:    conversion.SourceAPI,
		InputName: req.Filename,
	})
}

// Upload handles POST /upload with a multipart "file" field.
func (h *ConvertHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("convert-handler").Start(r.Context(), "convert_upload")
	defer span.End()

	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		jsonError(w, "invalid multipart body", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, MaxUploadBytes))
	if err != nil {
		jsonError(w, "failed to read upload", http.StatusBadRequest)
		return
	}

	name := header.Filename
	if name == "" {
		name = "uploaded_file_" + uuid.New().String() + ".hl7"
	}
	span.SetAttributes(attribute.String("filename", name))

	h.respond(ctx, w, conversion.Request{
		Message:   string(content),
		Source:    conversion.SourceUpload,
		InputName: name,
	})
}

func (h *ConvertHandler) respond(ctx context.Context, w http.ResponseWriter, req conversion.Request) {
	res, out := h.svc.Convert(ctx, req)

	h.logger.Info("conversion request handled",
		zap.String("conversion_id", out.ID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
		zap.String("client_id", middleware.GetClientID(ctx)),
		zap.String("source", string(req.Source)),
		zap.Bool("success", res.Success),
		zap.Bool("cached", out.Cached),
	)

	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, ConvertResponse{Result: res, ConversionID: out.ID})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}
