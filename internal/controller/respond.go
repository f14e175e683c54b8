// internal/controller/respond.go
package controller

import (
    "encoding/json"
    "errors"
    "net/http"

    "github.com/sirupsen/logrus"

    appErrors "github.com/unclebandit/disparo-dispatch/internal/errors"
    "github.com/unclebandit/disparo-dispatch/internal/service"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    json.NewEncoder(w).Encode(v)
}

// WriteError maps service errors to status codes.
func WriteError(w http.ResponseWriter, err error) {
    status := http.StatusInternalServerError
    switch {
    case appErrors.IsAdmission(err), errors.Is(err, service.ErrUnsupportedFormat):
        status = http.StatusBadRequest
    case appErrors.IsNotFound(err):
        status = http.StatusNotFound
    case appErrors.IsInvalidTransition(err), errors.Is(err, appErrors.ErrCampaignNotDispatchable):
        status = http.StatusConflict
    default:
        logrus.WithError(err).Error("❌ Request failed")
    }
    WriteJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}
