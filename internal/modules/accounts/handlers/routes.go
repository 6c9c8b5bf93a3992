package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all account routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Get("/{id}/holdings", h.HandleHoldings)
		r.Get("/{id}/activities", h.HandleListActivities)
		r.Post("/{id}/activities", h.HandleCreateActivity)
		r.Post("/{id}/deactivate", h.HandleDeactivate)
	})
}
