package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fhirhub/go-fhirhub/internal/conversion"
	"github.com/fhirhub/go-fhirhub/internal/conversionlog"
)

// LogStore reads the conversion log.
type LogStore interface {
	Get(ctx context.Context, id string) (conversion.Outcome, error)
	List(ctx context.Context, page, size int) (*conversionlog.Page, error)
	Stats(ctx context.Context) (*conversionlog.Stats, error)
}

// ConversionsHandler serves the log listing and statistics.
type ConversionsHandler struct {
	store  LogStore
	logger *zap.Logger
}

func NewConversionsHandler(store LogStore, logger *zap.Logger) *ConversionsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversionsHandler{store: store, logger: logger}
}

// Register adds the handler routes to r.
func (h *ConversionsHandler) Register(r chi.Router) {
	r.Get("/conversions", h.List)
	r.Get("/conversions/{id}", h.Get)
	r.Get("/stats", h.Stats)
}

// ListResponse is one page of the conversion log.
type ListResponse struct {
	Data        []conversion.Outcome `json:"data"`
	CurrentPage int                  `json:"currentPage"`
	PageSize    int                  `json:"pageSize"`
	TotalItems  int64                `json:"totalItems"`
	TotalPages  int64                `json:"totalPages"`
}

// List handles GET /conversions?page=&size=
func (h *ConversionsHandler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))

	p, err := h.store.List(r.Context(), page, size)
	if err != nil {
		h.logger.Error("list conversions failed", zap.Error(err))
		jsonError(w, "failed to list conversions", http.StatusInternalServerError)
		return
	}

	resp := ListResponse{
		Data:        p.Items,
		CurrentPage: p.Page,
		PageSize:    p.Size,
		TotalItems:  p.Total,
	}
	if p.Size > 0 {
		resp.TotalPages = (p.Total + int64(p.Size) - 1) / int64(p.Size)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /conversions/{id}
func (h *ConversionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		jsonError(w, "invalid conversion id", http.StatusBadRequest)
		return
	}

	o, err := h.store.Get(r.Context(), id)
	if errors.Is(err, conversionlog.ErrNotFound) {
		jsonError(w, "conversion not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("get conversion failed", zap.String("id", id), zap.Error(err))
		jsonError(w, "failed to get conversion", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Stats handles GET /stats
func (h *ConversionsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error("conversion stats failed", zap.Error(err))
		jsonError(w, "failed to compute stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
