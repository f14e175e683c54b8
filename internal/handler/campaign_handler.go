// internal/handler/campaign_handler.go
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/disparo-dispatch/internal/controller"
	"github.com/unclebandit/disparo-dispatch/internal/service"
)

// CampaignHandler serves campaign reads.
type CampaignHandler struct {
	Service *service.CampaignService
}

func (h *CampaignHandler) GetCampaignHandlerWithStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logrus.WithField("disparo_id", id).Debug("📥 Campaign details requested")

	details, err := h.Service.GetCampaignDetailsWithStats(r.Context(), id)
	if err != nil {
		controller.WriteError(w, err)
		return
	}

	controller.WriteJSON(w, http.StatusOK, details)
}
