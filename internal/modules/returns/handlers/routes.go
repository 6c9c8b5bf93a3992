package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all returns routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/returns", h.HandleGetReturns)
}
