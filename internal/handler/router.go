package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unclebandit/disparo-dispatch/internal/controller"
)

type Routes struct {
	Dispatch  *controller.DispatchController
	Campaigns *controller.CampaignController
	Details   *CampaignHandler
}

func NewRouter(rt Routes) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	timeout := middleware.Timeout(60 * time.Second)

	r.Route("/api/messages", func(r chi.Router) {
		r.Use(timeout)
		r.Post("/dispatch", rt.Dispatch.Dispatch)
		r.Get("/stats", rt.Dispatch.Stats)
		r.Get("/health", rt.Dispatch.Health)
	})

	if rt.Campaigns != nil {
		r.Route("/api/disparos", func(r chi.Router) {
			// Loads pace their batches and routinely outlast the timeout.
			r.Post("/{id}/recipients", rt.Campaigns.LoadRecipients)
			r.Post("/{id}/recipients/import", rt.Campaigns.ImportRecipients)

			r.Group(func(r chi.Router) {
				r.Use(timeout)
				r.Post("/", rt.Campaigns.CreateCampaign)
				r.Get("/", rt.Campaigns.ListCampaigns)
				r.Get("/{id}", rt.Details.GetCampaignHandlerWithStats)
				r.Post("/{id}/trigger", rt.Campaigns.Trigger)
				r.Post("/{id}/pause", rt.Campaigns.Pause)
				r.Post("/{id}/resume", rt.Campaigns.Resume)
				r.Post("/{id}/cancel", rt.Campaigns.Cancel)
			})
		})
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		controller.WriteJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "not found"})
	})
	return r
}
