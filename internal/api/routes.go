package api

import "net/http"

// RegisterRoutes wires the handler's endpoints onto the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/recommendations", h.Recommend)
	mux.HandleFunc("GET /v1/queries/{user_id}", h.History)
	mux.HandleFunc("GET /v1/categories", h.Categories)
	mux.HandleFunc("GET /health", h.Health)
}
