// Package handlers provides HTTP handlers for user preferences.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/modules/preferences"
)

// maxValueBytes bounds a single preference value.
const maxValueBytes = 64 * 1024

// Handler handles preference HTTP requests
type Handler struct {
	repo *preferences.Repository
	log  zerolog.Logger
}

// NewHandler creates a new preferences handler
func NewHandler(repo *preferences.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "preferences").Logger(),
	}
}

// HandleList handles GET /api/preferences
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.repo.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list preferences")
		http.Error(w, "Failed to list preferences", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, prefs)
}

// HandleGet handles GET /api/preferences/{key}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	value, err := h.repo.Get(key)
	if err != nil {
		if errors.Is(err, preferences.ErrInvalidKey) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error().Err(err).Str("key", key).Msg("Failed to get preference")
		http.Error(w, "Failed to get preference", http.StatusInternalServerError)
		return
	}
	if value == nil {
		http.Error(w, "Preference not set", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, value)
}

// HandleSet handles PUT /api/preferences/{key}. The body is the raw JSON
// value to store.
func (h *Handler) HandleSet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxValueBytes+1))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > maxValueBytes {
		http.Error(w, "Preference value too large", http.StatusRequestEntityTooLarge)
		return
	}

	if err := h.repo.Set(key, json.RawMessage(body)); err != nil {
		if errors.Is(err, preferences.ErrInvalidKey) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !json.Valid(body) {
			http.Error(w, "Value is not valid JSON", http.StatusBadRequest)
			return
		}
		h.log.Error().Err(err).Str("key", key).Msg("Failed to set preference")
		http.Error(w, "Failed to set preference", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleDelete handles DELETE /api/preferences/{key}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if err := h.repo.Delete(key); err != nil {
		if errors.Is(err, preferences.ErrInvalidKey) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error().Err(err).Str("key", key).Msg("Failed to delete preference")
		http.Error(w, "Failed to delete preference", http.StatusInternalServerError)
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
