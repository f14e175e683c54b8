// internal/controller/campaign_controller.go
package controller

import (
    "context"
    "encoding/json"
    "net/http"
    "strconv"
    "time"

    "github.com/go-chi/chi/v5"

    appErrors "github.com/unclebandit/disparo-dispatch/internal/errors"
    "github.com/unclebandit/disparo-dispatch/internal/service"
)

const maxUploadSize = 10 << 20

type CampaignController struct {
    CampaignService *service.CampaignService
    Loader          *service.RecipientLoader
    Importer        service.RecipientImporter
    Scheduler       service.Trigger
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
    var body service.CreateCampaignInput
    if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
        WriteError(w, appErrors.NewAdmissionError("invalid body: "+err.Error()))
        return
    }

    campaign, err := c.CampaignService.CreateCampaign(r.Context(), body)
    if err != nil {
        WriteError(w, err)
        return
    }

    WriteJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
    // Parse query parameters
    page, _ := strconv.Atoi(r.URL.Query().Get("page"))
    pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
    tenantID := r.URL.Query().Get("tenant_id")
    status := r.URL.Query().Get("status")

    campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, pageSize, tenantID, status)
    if err != nil {
        WriteError(w, err)
        return
    }

    WriteJSON(w, http.StatusOK, map[string]any{
        "data":       campaigns,
        "pagination": pagination,
    })
}

// LoadRecipients accepts recipients as JSON.
func (c *CampaignController) LoadRecipients(w http.ResponseWriter, r *http.Request) {
    var body struct {
        Recipients    []service.RecipientInput `json:"recipients"`
        DeclaredTotal int                      `json:"declared_total"`
    }
    if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
        WriteError(w, appErrors.NewAdmissionError("invalid body: "+err.Error()))
        return
    }
    c.load(w, r, body.Recipients, body.DeclaredTotal)
}

// ImportRecipients accepts an .xlsx or .csv upload in the "file" form field.
func (c *CampaignController) ImportRecipients(w http.ResponseWriter, r *http.Request) {
    r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
    if err := r.ParseMultipartForm(maxUploadSize); err != nil {
        WriteError(w, appErrors.NewAdmissionError("invalid upload: "+err.Error()))
        return
    }
    file, header, err := r.FormFile("file")
    if err != nil {
        WriteError(w, appErrors.NewAdmissionError("missing file field"))
        return
    }
    defer file.Close()

    recipients, err := c.Importer.Parse(header.Filename, file)
    if err != nil {
        if err != service.ErrUnsupportedFormat {
            err = appErrors.NewAdmissionError(err.Error())
        }
        WriteError(w, err)
        return
    }
    c.load(w, r, recipients, len(recipients))
}

func (c *CampaignController) load(w http.ResponseWriter, r *http.Request, recipients []service.RecipientInput, declared int) {
    // A client hanging up must not leave a half-loaded campaign without totals.
    result, err := c.Loader.Load(context.WithoutCancel(r.Context()), service.LoadRequest{
        CampaignID:    chi.URLParam(r, "id"),
        Recipients:    recipients,
        DeclaredTotal: declared,
    })
    if err != nil {
        WriteError(w, err)
        return
    }
    WriteJSON(w, http.StatusOK, result)
}

func (c *CampaignController) Trigger(w http.ResponseWriter, r *http.Request) {
    result, err := c.Scheduler.TriggerCampaign(r.Context(), chi.URLParam(r, "id"), time.Now().UTC())
    if err != nil {
        WriteError(w, err)
        return
    }
    WriteJSON(w, http.StatusOK, result)
}

func (c *CampaignController) Pause(w http.ResponseWriter, r *http.Request) {
    campaign, err := c.CampaignService.Pause(r.Context(), chi.URLParam(r, "id"))
    if err != nil {
        WriteError(w, err)
        return
    }
    WriteJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) Resume(w http.ResponseWriter, r *http.Request) {
    result, err := c.CampaignService.Resume(r.Context(), chi.URLParam(r, "id"))
    if err != nil {
        WriteError(w, err)
        return
    }
    WriteJSON(w, http.StatusOK, result)
}

func (c *CampaignController) Cancel(w http.ResponseWriter, r *http.Request) {
    campaign, err := c.CampaignService.Cancel(r.Context(), chi.URLParam(r, "id"))
    if err != nil {
        WriteError(w, err)
        return
    }
    WriteJSON(w, http.StatusOK, campaign)
}
