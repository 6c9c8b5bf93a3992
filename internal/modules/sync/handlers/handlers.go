// Package handlers provides HTTP handlers for sync operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/domain"
	"github.com/aristath/moneta/internal/modules/sync"
)

// Handler handles sync HTTP requests
type Handler struct {
	orchestrator *sync.Orchestrator
	repo         *sync.Repository
	log          zerolog.Logger
}

// NewHandler creates a new sync handler
func NewHandler(orchestrator *sync.Orchestrator, repo *sync.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		repo:         repo,
		log:          log.With().Str("handler", "sync").Logger(),
	}
}

// StatusResponse is the payload for GET /api/sync/status.
type StatusResponse struct {
	InProgress bool         `json:"in_progress"`
	Latest     *sync.Report `json:"latest"`
}

// HandleTriggerSync handles POST /api/sync
func (h *Handler) HandleTriggerSync(w http.ResponseWriter, r *http.Request) {
	report, err := h.orchestrator.TriggerSync(r.Context())
	if err != nil {
		// Raw provider errors stay in the logs; responses carry
		// sanitized messages only.
		switch {
		case errors.Is(err, sync.ErrSyncInProgress):
			http.Error(w, "Sync already in progress", http.StatusConflict)
		case isProviderUnavailable(err):
			h.log.Error().Err(err).Msg("Sync failed: provider unavailable")
			http.Error(w, "Provider unavailable", http.StatusBadGateway)
		default:
			h.log.Error().Err(err).Msg("Sync failed")
			http.Error(w, "Sync failed", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

// HandleSyncStatus handles GET /api/sync/status
func (h *Handler) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{InProgress: h.orchestrator.InProgress()}

	sess, err := h.repo.GetLatestSession()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load latest sync session")
		http.Error(w, "Failed to load sync status", http.StatusInternalServerError)
		return
	}
	if sess != nil {
		entries, err := h.repo.GetLogEntries(sess.ID)
		if err != nil {
			h.log.Error().Err(err).Msg("Failed to load sync log entries")
			http.Error(w, "Failed to load sync status", http.StatusInternalServerError)
			return
		}
		resp.Latest = &sync.Report{Session: *sess, Entries: entries}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func isProviderUnavailable(err error) bool {
	var authErr *domain.AuthError
	var connErr *domain.ConnectionError
	return errors.As(err, &authErr) || errors.As(err, &connErr)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
