package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all provider routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/providers", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Put("/{name}", h.HandleSetEnabled)
	})
}
