// Package handlers provides HTTP handlers for investment returns.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/modules/returns"
)

// Handler handles returns HTTP requests
type Handler struct {
	service *returns.Service
	log     zerolog.Logger
}

// NewHandler creates a new returns handler
func NewHandler(service *returns.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "returns").Logger(),
	}
}

// HandleGetReturns handles GET /api/returns
//
// Query parameters: scope (all | portfolio | an account ID, default all)
// and periods (comma-separated period codes, default the standard set).
func (h *Handler) HandleGetReturns(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = returns.ScopeAll
	}

	periods := returns.DefaultPeriods
	if raw := r.URL.Query().Get("periods"); raw != "" {
		periods = periods[:0:0]
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				periods = append(periods, p)
			}
		}
		if len(periods) == 0 {
			http.Error(w, "No valid periods requested", http.StatusBadRequest)
			return
		}
	}

	resp, err := h.service.GetReturns(scope, periods)
	if err != nil {
		switch {
		case strings.Contains(err.Error(), "unknown period"):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case strings.Contains(err.Error(), "not found"):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			h.log.Error().Err(err).Str("scope", scope).Msg("Failed to compute returns")
			http.Error(w, "Failed to compute returns", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
