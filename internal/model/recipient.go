// internal/model/recipient.go
package model

import "time"

type RecipientStatus string

const (
    RecipientPending   RecipientStatus = "pending"
    RecipientSent      RecipientStatus = "sent"
    RecipientFailed    RecipientStatus = "failed"
    RecipientDelivered RecipientStatus = "delivered"
)

var recipientTransitions = map[RecipientStatus][]RecipientStatus{
    RecipientSent:      {RecipientPending},
    RecipientFailed:    {RecipientPending},
    RecipientDelivered: {RecipientSent},
}

func (s RecipientStatus) Terminal() bool {
    return s != RecipientPending
}

func (s RecipientStatus) CanTransition(to RecipientStatus) bool {
    for _, from := range recipientTransitions[to] {
        if from == s {
            return true
        }
    }
    return false
}

// RecipientSource returns the single state a recipient must be in to enter to.
func RecipientSource(to RecipientStatus) (RecipientStatus, bool) {
    src := recipientTransitions[to]
    if len(src) != 1 {
        return "", false
    }
    return src[0], true
}

type Recipient struct {
    ID             string            `db:"id" json:"id"`
    CampaignID     string            `db:"campaign_id" json:"campaign_id"`
    Phone          string            `db:"phone" json:"phone"`
    Message        string            `db:"message" json:"message"`
    MediaURL       string            `db:"media_url" json:"media_url,omitempty"`
    MediaType      string            `db:"media_type" json:"media_type,omitempty"`
    VariationIndex int               `db:"variation_index" json:"variation_index"`
    Status         RecipientStatus   `db:"status" json:"status"`
    ErrorMessage   string            `db:"error_message" json:"error_message,omitempty"`
    Attempts       int               `db:"attempts" json:"attempts"`
    SentAt         *time.Time        `db:"sent_at" json:"sent_at,omitempty"`
    CreatedAt      time.Time         `db:"created_at" json:"created_at"`
    UpdatedAt      time.Time         `db:"updated_at" json:"updated_at"`
    Variables      map[string]string `db:"-" json:"variables,omitempty"`
}

// RecipientStats is the per-status row count of one campaign.
type RecipientStats struct {
    Total     int `json:"total"`
    Pending   int `json:"pending"`
    Sent      int `json:"sent"`
    Failed    int `json:"failed"`
    Delivered int `json:"delivered"`
}
