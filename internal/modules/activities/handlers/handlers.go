// Package handlers provides HTTP handlers for activity operations.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/moneta/internal/domain"
	"github.com/aristath/moneta/internal/modules/activities"
)

// Handler handles activity HTTP requests
type Handler struct {
	service *activities.Service
	loc     *time.Location
	log     zerolog.Logger
}

// NewHandler creates a new activities handler
func NewHandler(service *activities.Service, loc *time.Location, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		loc:     loc,
		log:     log.With().Str("handler", "activities").Logger(),
	}
}

// UpdateActivityRequest is the body for PATCH /api/activities/{id}. Absent
// fields are left unchanged.
type UpdateActivityRequest struct {
	ActivityDate *string          `json:"activity_date,omitempty"`
	Type         *string          `json:"type,omitempty"`
	Amount       *decimal.Decimal `json:"amount,omitempty"`
	Ticker       *string          `json:"ticker,omitempty"`
	Units        *decimal.Decimal `json:"units,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	Fee          *decimal.Decimal `json:"fee,omitempty"`
	Description  *string          `json:"description,omitempty"`
	IsReviewed   *bool            `json:"is_reviewed,omitempty"`
}

// HandleUpdate handles PATCH /api/activities/{id}
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	patch := activities.UpdatePatch{
		Amount:      req.Amount,
		Ticker:      req.Ticker,
		Units:       req.Units,
		Price:       req.Price,
		Fee:         req.Fee,
		Description: req.Description,
		IsReviewed:  req.IsReviewed,
	}
	if req.Type != nil {
		t := domain.ActivityType(*req.Type)
		patch.Type = &t
	}
	if req.ActivityDate != nil {
		day, err := domain.ParseDate(*req.ActivityDate)
		if err != nil {
			http.Error(w, "Invalid activity_date", http.StatusBadRequest)
			return
		}
		t := time.Date(day.Year, day.Month, day.Day, 0, 0, 0, 0, h.loc).UTC()
		patch.ActivityDate = &t
	}

	act, err := h.service.Update(id, patch)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.log.Warn().Err(err).Str("activity_id", id).Msg("Failed to update activity")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.writeJSON(w, http.StatusOK, act)
}

// HandleDelete handles DELETE /api/activities/{id}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Delete(id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.log.Warn().Err(err).Str("activity_id", id).Msg("Failed to delete activity")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
