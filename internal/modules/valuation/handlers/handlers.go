// Package handlers provides HTTP handlers for valuation maintenance.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/modules/valuation"
)

// Handler handles valuation HTTP requests
type Handler struct {
	service *valuation.Service
	log     zerolog.Logger
}

// NewHandler creates a new valuation handler
func NewHandler(service *valuation.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "valuation").Logger(),
	}
}

// BackfillRequest is the body for POST /api/valuation/backfill. Full
// recomputes from the earliest snapshot; repair overwrites existing rows.
type BackfillRequest struct {
	Full   bool `json:"full"`
	Repair bool `json:"repair"`
}

// HandleBackfill handles POST /api/valuation/backfill
func (h *Handler) HandleBackfill(w http.ResponseWriter, r *http.Request) {
	var req BackfillRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	var result *valuation.Result
	var err error
	if req.Full {
		result, err = h.service.FullBackfill(r.Context(), req.Repair)
	} else {
		result, err = h.service.Backfill(r.Context())
	}
	if err != nil {
		h.log.Error().Err(err).Bool("full", req.Full).Msg("Valuation backfill failed")
		http.Error(w, "Valuation backfill failed", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// HandleGaps handles GET /api/valuation/gaps
func (h *Handler) HandleGaps(w http.ResponseWriter, r *http.Request) {
	reports, err := h.service.DiagnoseGaps()
	if err != nil {
		h.log.Error().Err(err).Msg("Gap diagnosis failed")
		http.Error(w, "Gap diagnosis failed", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, reports)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
