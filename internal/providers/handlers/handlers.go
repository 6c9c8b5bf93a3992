// Package handlers provides HTTP handlers for provider management.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/providers"
)

// Handler handles provider HTTP requests
type Handler struct {
	registry *providers.Registry
	log      zerolog.Logger
}

// NewHandler creates a new providers handler
func NewHandler(registry *providers.Registry, log zerolog.Logger) *Handler {
	return &Handler{
		registry: registry,
		log:      log.With().Str("handler", "providers").Logger(),
	}
}

// HandleList handles GET /api/providers
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.registry.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list providers")
		http.Error(w, "Failed to list providers", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, statuses)
}

// SetEnabledRequest is the body for PUT /api/providers/{name}.
type SetEnabledRequest struct {
	IsEnabled bool `json:"is_enabled"`
}

// HandleSetEnabled handles PUT /api/providers/{name}
func (h *Handler) HandleSetEnabled(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.registry.SetEnabled(name, req.IsEnabled); err != nil {
		if strings.Contains(err.Error(), "not registered") {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("provider", name).Msg("Failed to update provider")
		http.Error(w, "Failed to update provider", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, providers.Status{Name: name, IsEnabled: req.IsEnabled})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
