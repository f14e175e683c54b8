// internal/service/campaign_service.go
package service

import (
    "context"
    "fmt"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/sirupsen/logrus"

    appErrors "github.com/unclebandit/disparo-dispatch/internal/errors"
    "github.com/unclebandit/disparo-dispatch/internal/model"
    "github.com/unclebandit/disparo-dispatch/internal/repository"
)

// Trigger starts or resumes a campaign immediately.
type Trigger interface {
    TriggerCampaign(ctx context.Context, id string, now time.Time) (*TriggerResult, error)
}

type CampaignService struct {
    CampaignRepo  repository.CampaignRepositoryInterface
    RecipientRepo repository.RecipientRepositoryInterface
    Scheduler     Trigger
}

type CreateCampaignInput struct {
    TenantID          string     `json:"tenant_id"`
    ConnectionID      string     `json:"connection_id"`
    Name              string     `json:"name"`
    MessageVariations []string   `json:"message_variations"`
    DelayMinSeconds   int        `json:"delay_min_seconds"`
    DelayMaxSeconds   int        `json:"delay_max_seconds"`
    ScheduledAt       *time.Time `json:"scheduled_at,omitempty"`
}

type CampaignDetails struct {
    *model.Campaign
    Stats model.RecipientStats `json:"stats"`
}

func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*model.Campaign, error) {
    var problems []string
    if strings.TrimSpace(in.TenantID) == "" {
        problems = append(problems, "tenant_id is required")
    }
    if strings.TrimSpace(in.ConnectionID) == "" {
        problems = append(problems, "connection_id is required")
    }
    if strings.TrimSpace(in.Name) == "" {
        problems = append(problems, "name is required")
    }
    if in.DelayMinSeconds < 0 || in.DelayMaxSeconds < in.DelayMinSeconds {
        problems = append(problems, "delay range is invalid")
    }
    if len(problems) > 0 {
        return nil, appErrors.NewAdmissionError(problems...)
    }

    scheduledAt := in.ScheduledAt
    if scheduledAt == nil {
        now := time.Now().UTC()
        scheduledAt = &now
    } else {
        t := scheduledAt.UTC()
        scheduledAt = &t
    }

    c := &model.Campaign{
        ID:                uuid.NewString(),
        TenantID:          in.TenantID,
        ConnectionID:      in.ConnectionID,
        Name:              in.Name,
        MessageVariations: in.MessageVariations,
        DelayMinSeconds:   in.DelayMinSeconds,
        DelayMaxSeconds:   in.DelayMaxSeconds,
        Status:            model.CampaignScheduled,
        ScheduledAt:       scheduledAt,
    }
    if c.MessageVariations == nil {
        c.MessageVariations = []string{}
    }
    if err := s.CampaignRepo.Create(ctx, c); err != nil {
        return nil, err
    }
    logrus.WithField("disparo_id", c.ID).Info("🆕 Campaign created")
    return c, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, tenantID, status string) ([]model.Campaign, map[string]int, error) {
    if page < 1 {
        page = 1
    }
    if pageSize < 1 {
        pageSize = 20
    }
    if pageSize > 100 {
        pageSize = 100
    }
    offset := (page - 1) * pageSize

    ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, tenantID, status)
    if err != nil {
        return nil, nil, err
    }

    campaigns := make([]model.Campaign, len(ptrs))
    for i, c := range ptrs {
        campaigns[i] = *c
    }

    totalPages := (total + pageSize - 1) / pageSize
    pagination := map[string]int{
        "page":        page,
        "page_size":   pageSize,
        "total_count": total,
        "total_pages": totalPages,
    }

    return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, id string) (*CampaignDetails, error) {
    campaign, err := s.CampaignRepo.GetByID(ctx, id)
    if err != nil {
        return nil, err
    }
    stats, err := s.RecipientRepo.Stats(ctx, id)
    if err != nil {
        return nil, fmt.Errorf("recipient stats: %w", err)
    }
    return &CampaignDetails{Campaign: campaign, Stats: stats}, nil
}

// Pause stops workers from sending further messages; queued jobs are released
// as they come up.
func (s *CampaignService) Pause(ctx context.Context, id string) (*model.Campaign, error) {
    return s.transition(ctx, id, model.CampaignPaused)
}

// Cancel is only allowed before a campaign has started.
func (s *CampaignService) Cancel(ctx context.Context, id string) (*model.Campaign, error) {
    return s.transition(ctx, id, model.CampaignCancelled)
}

// Resume puts a paused campaign back in progress and resubmits its pending
// recipients.
func (s *CampaignService) Resume(ctx context.Context, id string) (*TriggerResult, error) {
    c, err := s.CampaignRepo.GetByID(ctx, id)
    if err != nil {
        return nil, err
    }
    if c.Status != model.CampaignPaused {
        return nil, appErrors.NewInvalidTransition("campaign", id, string(c.Status), string(model.CampaignInProgress))
    }
    return s.Scheduler.TriggerCampaign(ctx, id, time.Now().UTC())
}

func (s *CampaignService) transition(ctx context.Context, id string, to model.CampaignStatus) (*model.Campaign, error) {
    if err := s.CampaignRepo.Transition(ctx, id, to, "", time.Now().UTC()); err != nil {
        return nil, err
    }
    logrus.WithFields(logrus.Fields{"disparo_id": id, "status": to}).Info("🔀 Campaign status changed")
    return s.CampaignRepo.GetByID(ctx, id)
}
