// internal/controller/dispatch_controller.go
package controller

import (
    "context"
    "encoding/json"
    "net/http"
    "time"

    appErrors "github.com/unclebandit/disparo-dispatch/internal/errors"
    "github.com/unclebandit/disparo-dispatch/internal/model"
    "github.com/unclebandit/disparo-dispatch/internal/queue"
)

type Producer interface {
    Submit(ctx context.Context, reqs []model.DispatchRequest) (*model.DispatchResult, error)
    Stats(ctx context.Context) (queue.Stats, error)
}

// DispatchController is the producer API: it only admits jobs.
type DispatchController struct {
    Producer Producer
}

func (c *DispatchController) Dispatch(w http.ResponseWriter, r *http.Request) {
    var body struct {
        Messages []model.DispatchRequest `json:"messages"`
    }
    if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
        WriteError(w, appErrors.NewAdmissionError("invalid body: "+err.Error()))
        return
    }

    result, err := c.Producer.Submit(r.Context(), body.Messages)
    if err != nil {
        WriteError(w, err)
        return
    }

    WriteJSON(w, http.StatusOK, map[string]any{
        "success":   true,
        "jobsAdded": result.JobsAdded,
        "jobIds":    result.JobIDs,
    })
}

func (c *DispatchController) Stats(w http.ResponseWriter, r *http.Request) {
    stats, err := c.Producer.Stats(r.Context())
    if err != nil {
        WriteError(w, err)
        return
    }
    WriteJSON(w, http.StatusOK, stats)
}

func (c *DispatchController) Health(w http.ResponseWriter, r *http.Request) {
    WriteJSON(w, http.StatusOK, map[string]any{
        "status":    "healthy",
        "timestamp": time.Now().UTC().Format(time.RFC3339),
    })
}
