// Package handlers provides HTTP handlers for securities and asset classes.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/moneta/internal/domain"
	"github.com/aristath/moneta/internal/modules/allocation"
	"github.com/aristath/moneta/internal/modules/securities"
)

// Handler handles security, asset class, and allocation HTTP requests
type Handler struct {
	repo  *securities.Repository
	alloc *allocation.Service
	log   zerolog.Logger
}

// NewHandler creates a new securities handler
func NewHandler(repo *securities.Repository, alloc *allocation.Service, log zerolog.Logger) *Handler {
	return &Handler{
		repo:  repo,
		alloc: alloc,
		log:   log.With().Str("handler", "securities").Logger(),
	}
}

// PatchSecurityRequest is the body for PATCH /api/securities/{id}. A null
// asset_class_id clears the manual assignment.
type PatchSecurityRequest struct {
	AssetClassID *string `json:"asset_class_id"`
}

// HandlePatchSecurity handles PATCH /api/securities/{id}
func (h *Handler) HandlePatchSecurity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sec, err := h.repo.GetByID(id)
	if err != nil {
		h.log.Error().Err(err).Str("security_id", id).Msg("Failed to load security")
		http.Error(w, "Failed to load security", http.StatusInternalServerError)
		return
	}
	if sec == nil {
		http.Error(w, "Security not found", http.StatusNotFound)
		return
	}

	var req PatchSecurityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.AssetClassID != nil {
		ac, err := h.repo.GetAssetClassByID(*req.AssetClassID)
		if err != nil {
			h.log.Error().Err(err).Msg("Failed to load asset class")
			http.Error(w, "Failed to load asset class", http.StatusInternalServerError)
			return
		}
		if ac == nil {
			http.Error(w, "Asset class not found", http.StatusBadRequest)
			return
		}
	}

	if err := h.repo.SetAssetClass(id, req.AssetClassID); err != nil {
		h.log.Error().Err(err).Str("security_id", id).Msg("Failed to update security")
		http.Error(w, "Failed to update security", http.StatusInternalServerError)
		return
	}

	sec.ManualAssetClassID = req.AssetClassID
	h.writeJSON(w, http.StatusOK, sec)
}

// HandleListAssetClasses handles GET /api/asset-classes
func (h *Handler) HandleListAssetClasses(w http.ResponseWriter, r *http.Request) {
	classes, err := h.repo.GetAssetClasses()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list asset classes")
		http.Error(w, "Failed to list asset classes", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, classes)
}

// AssetClassRequest is the body for asset class create and update.
type AssetClassRequest struct {
	Name          string           `json:"name"`
	Color         string           `json:"color"`
	TargetPercent *decimal.Decimal `json:"target_percent,omitempty"`
}

// HandleCreateAssetClass handles POST /api/asset-classes
func (h *Handler) HandleCreateAssetClass(w http.ResponseWriter, r *http.Request) {
	var req AssetClassRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "Name is required", http.StatusBadRequest)
		return
	}

	ac := domain.AssetClass{
		Name:          strings.TrimSpace(req.Name),
		Color:         req.Color,
		TargetPercent: req.TargetPercent,
	}
	if err := h.repo.CreateAssetClass(&ac); err != nil {
		h.log.Error().Err(err).Str("name", ac.Name).Msg("Failed to create asset class")
		http.Error(w, "Failed to create asset class", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusCreated, ac)
}

// HandleUpdateAssetClass handles PUT /api/asset-classes/{id}
func (h *Handler) HandleUpdateAssetClass(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := h.repo.GetAssetClassByID(id)
	if err != nil {
		h.log.Error().Err(err).Str("asset_class_id", id).Msg("Failed to load asset class")
		http.Error(w, "Failed to load asset class", http.StatusInternalServerError)
		return
	}
	if existing == nil {
		http.Error(w, "Asset class not found", http.StatusNotFound)
		return
	}

	var req AssetClassRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "Name is required", http.StatusBadRequest)
		return
	}

	existing.Name = strings.TrimSpace(req.Name)
	existing.Color = req.Color
	existing.TargetPercent = req.TargetPercent
	if err := h.repo.UpdateAssetClass(existing); err != nil {
		h.log.Error().Err(err).Str("asset_class_id", id).Msg("Failed to update asset class")
		http.Error(w, "Failed to update asset class", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, existing)
}

// HandleDeleteAssetClass handles DELETE /api/asset-classes/{id}
func (h *Handler) HandleDeleteAssetClass(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := h.repo.GetAssetClassByID(id)
	if err != nil {
		h.log.Error().Err(err).Str("asset_class_id", id).Msg("Failed to load asset class")
		http.Error(w, "Failed to load asset class", http.StatusInternalServerError)
		return
	}
	if existing == nil {
		http.Error(w, "Asset class not found", http.StatusNotFound)
		return
	}

	if err := h.repo.DeleteAssetClass(id); err != nil {
		h.log.Error().Err(err).Str("asset_class_id", id).Msg("Failed to delete asset class")
		http.Error(w, "Failed to delete asset class", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetAllocation handles GET /api/allocation
func (h *Handler) HandleGetAllocation(w http.ResponseWriter, r *http.Request) {
	summary, err := h.alloc.Summary()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute allocation")
		http.Error(w, "Failed to compute allocation", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// HandleAssetClassHoldings handles GET /api/asset-classes/{id}/holdings
func (h *Handler) HandleAssetClassHoldings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := h.repo.GetAssetClassByID(id)
	if err != nil {
		h.log.Error().Err(err).Str("asset_class_id", id).Msg("Failed to load asset class")
		http.Error(w, "Failed to load asset class", http.StatusInternalServerError)
		return
	}
	if existing == nil {
		http.Error(w, "Asset class not found", http.StatusNotFound)
		return
	}

	holdings, err := h.alloc.HoldingsForClass(id)
	if err != nil {
		h.log.Error().Err(err).Str("asset_class_id", id).Msg("Failed to load class holdings")
		http.Error(w, "Failed to load class holdings", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, holdings)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
