package model

import (
    "strings"
    "time"
)

// Media types accepted by the transport; "text" means no media.
var MediaTypes = []string{"image", "video", "document", "audio", "text"}

func ValidMediaType(t string) bool {
    if t == "" {
        return true
    }
    for _, m := range MediaTypes {
        if m == t {
            return true
        }
    }
    return false
}

// DispatchJob is the queue-level unit of work for one recipient.
type DispatchJob struct {
    CampaignID  string    `json:"disparo_id"`
    RecipientID string    `json:"recipient_id"`
    Phone       string    `json:"phone"`
    Message     string    `json:"message"`
    MediaURL    string    `json:"media_url,omitempty"`
    MediaType   string    `json:"media_type,omitempty"`
    APIToken    string    `json:"api_token"`
    Priority    uint8     `json:"priority"`
    Attempt     int       `json:"attempt"`
    EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Key is the job identity. Enqueuing the same key twice is a no-op.
func (j DispatchJob) Key() string {
    return JobKey(j.CampaignID, j.RecipientID)
}

func JobKey(campaignID, recipientID string) string {
    return campaignID + ":" + recipientID
}

// NormalizePhone keeps digits only.
func NormalizePhone(phone string) string {
    var b strings.Builder
    b.Grow(len(phone))
    for _, r := range phone {
        if r >= '0' && r <= '9' {
            b.WriteRune(r)
        }
    }
    return b.String()
}

// DispatchRequest is one job descriptor submitted to the producer API.
type DispatchRequest struct {
    DisparoID   string `json:"disparo_id"`
    RecipientID string `json:"recipient_id"`
    Phone       string `json:"phone"`
    Message     string `json:"message"`
    MediaURL    string `json:"media_url,omitempty"`
    MediaType   string `json:"media_type,omitempty"`
    APIToken    string `json:"api_token"`
    Priority    *uint8 `json:"priority,omitempty"`
}

// Job converts the descriptor to a queue job. Priority defaults to 1.
func (r DispatchRequest) Job() DispatchJob {
    priority := uint8(1)
    if r.Priority != nil {
        priority = *r.Priority
    }
    return DispatchJob{
        CampaignID:  r.DisparoID,
        RecipientID: r.RecipientID,
        Phone:       r.Phone,
        Message:     r.Message,
        MediaURL:    r.MediaURL,
        MediaType:   r.MediaType,
        APIToken:    r.APIToken,
        Priority:    priority,
    }
}

type DispatchResult struct {
    JobsAdded int      `json:"jobsAdded"`
    JobIDs    []string `json:"jobIds"`
}
