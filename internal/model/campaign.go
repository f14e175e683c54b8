// internal/model/campaign.go
package model

import "time"

// CampaignStatus is the lifecycle state of a disparo.
type CampaignStatus string

const (
    CampaignScheduled  CampaignStatus = "scheduled"
    CampaignInProgress CampaignStatus = "in_progress"
    CampaignPaused     CampaignStatus = "paused"
    CampaignCompleted  CampaignStatus = "completed"
    CampaignFailed     CampaignStatus = "failed"
    CampaignCancelled  CampaignStatus = "cancelled"
)

// campaignTransitions lists, for every target state, the states it may be entered from.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
    CampaignInProgress: {CampaignScheduled, CampaignPaused},
    CampaignPaused:     {CampaignInProgress},
    CampaignCompleted:  {CampaignScheduled, CampaignInProgress, CampaignPaused},
    CampaignFailed:     {CampaignScheduled, CampaignInProgress, CampaignPaused},
    CampaignCancelled:  {CampaignScheduled},
}

func (s CampaignStatus) Valid() bool {
    switch s {
    case CampaignScheduled, CampaignInProgress, CampaignPaused,
        CampaignCompleted, CampaignFailed, CampaignCancelled:
        return true
    }
    return false
}

// Terminal reports whether no further worker-driven transition can leave s.
func (s CampaignStatus) Terminal() bool {
    return s == CampaignCompleted || s == CampaignFailed || s == CampaignCancelled
}

// CanTransition reports whether from -> to is in the transition table.
func (s CampaignStatus) CanTransition(to CampaignStatus) bool {
    for _, from := range campaignTransitions[to] {
        if from == s {
            return true
        }
    }
    return false
}

// CampaignSources returns the states from which to may be entered.
func CampaignSources(to CampaignStatus) []string {
    src := campaignTransitions[to]
    out := make([]string, len(src))
    for i, s := range src {
        out[i] = string(s)
    }
    return out
}

type Campaign struct {
    ID                string         `db:"id" json:"id"`
    TenantID          string         `db:"tenant_id" json:"tenant_id"`
    ConnectionID      string         `db:"connection_id" json:"connection_id"`
    Name              string         `db:"name" json:"name"`
    MessageVariations []string       `db:"message_variations" json:"message_variations"`
    DelayMinSeconds   int            `db:"delay_min_seconds" json:"delay_min_seconds"`
    DelayMaxSeconds   int            `db:"delay_max_seconds" json:"delay_max_seconds"`
    Status            CampaignStatus `db:"status" json:"status"`
    ErrorMessage      string         `db:"error_message" json:"error_message,omitempty"`
    ScheduledAt       *time.Time     `db:"scheduled_at" json:"scheduled_at,omitempty"`
    StartedAt         *time.Time     `db:"started_at" json:"started_at,omitempty"`
    CompletedAt       *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
    TotalRecipients   int            `db:"total_recipients" json:"total_recipients"`
    SentCount         int            `db:"sent_count" json:"sent_count"`
    FailedCount       int            `db:"failed_count" json:"failed_count"`
    PendingCount      int            `db:"pending_count" json:"pending_count"`
    DeliveredCount    int            `db:"delivered_count" json:"delivered_count"`
    CreatedAt         time.Time      `db:"created_at" json:"created_at"`
    UpdatedAt         *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}

// FinalStatus is the terminal state a campaign takes once nothing is pending.
// A campaign where every recipient failed is failed; anything else completed.
func (c *Campaign) FinalStatus() CampaignStatus {
    if c.SentCount == 0 && c.FailedCount > 0 {
        return CampaignFailed
    }
    return CampaignCompleted
}
