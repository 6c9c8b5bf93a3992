package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all security and asset class routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Patch("/securities/{id}", h.HandlePatchSecurity)
	r.Get("/allocation", h.HandleGetAllocation)

	r.Route("/asset-classes", func(r chi.Router) {
		r.Get("/", h.HandleListAssetClasses)
		r.Post("/", h.HandleCreateAssetClass)
		r.Put("/{id}", h.HandleUpdateAssetClass)
		r.Delete("/{id}", h.HandleDeleteAssetClass)
		r.Get("/{id}/holdings", h.HandleAssetClassHoldings)
	})
}
