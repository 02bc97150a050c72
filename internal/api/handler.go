// Package api provides the HTTP entry points for the recommendation
// service.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/pantryio/pantrymatch/internal/health"
	"github.com/pantryio/pantrymatch/internal/observability"
	"github.com/pantryio/pantrymatch/internal/pipeline"
	"github.com/pantryio/pantrymatch/pkg/errors"
	"github.com/pantryio/pantrymatch/pkg/types"
)

const maxRequestBody = 1 << 20 // 1 MiB

// Handler serves the recommendation endpoints.
type Handler struct {
	pipeline *pipeline.Pipeline
	tracker  *health.Tracker
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(p *pipeline.Pipeline, tracker *health.Tracker, logger *slog.Logger) *Handler {
	return &Handler{
		pipeline: p,
		tracker:  tracker,
		logger:   logger,
	}
}

// Recommend handles POST /v1/recommendations.
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	logger := observability.WithRequestID(r.Context(), h.logger)

	var req types.RecommendRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}

	resp, err := h.pipeline.Recommend(r.Context(), &req)
	if err != nil {
		logger.Warn("recommendation request failed",
			"user_id", req.UserID, "store_id", req.StoreID, "error", err)
		h.writePipelineError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// History handles GET /v1/queries/{user_id}.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	logger := observability.WithRequestID(r.Context(), h.logger)

	userID := r.PathValue("user_id")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	records, err := h.pipeline.History(r.Context(), userID)
	if err != nil {
		logger.Error("history read failed", "user_id", userID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "history_unavailable", "could not read query history")
		return
	}

	h.writeJSON(w, http.StatusOK, types.HistoryResponse{Queries: records})
}

// Categories handles GET /v1/categories.
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	logger := observability.WithRequestID(r.Context(), h.logger)

	storeID := r.URL.Query().Get("store_id")
	if storeID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "store_id is required")
		return
	}

	cats, err := h.pipeline.Categories(r.Context(), storeID)
	if err != nil {
		logger.Warn("category listing failed", "store_id", storeID, "error", err)
		h.writePipelineError(w, err)
		return
	}

	out := make([]types.WireCategory, 0, len(cats))
	for _, c := range cats {
		out = append(out, types.WireCategory{ID: c.ID, Name: c.Name})
	}
	h.writeJSON(w, http.StatusOK, map[string][]types.WireCategory{"categories": out})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	snap := h.tracker.Snapshot(ctx)
	status := http.StatusOK
	if snap.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, snap)
}

func (h *Handler) writePipelineError(w http.ResponseWriter, err error) {
	if pe, ok := errors.AsPipelineError(err); ok {
		h.writeError(w, pe.HTTPStatusCode(), pe.Kind, pe.Message)
		return
	}
	h.writeError(w, http.StatusInternalServerError, "internal", "internal error")
}

func (h *Handler) writeError(w http.ResponseWriter, status int, kind, message string) {
	h.writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Message: message, Kind: kind}})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("response encode failed", "error", err)
	}
}
