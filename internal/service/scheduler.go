// internal/service/scheduler.go
package service

import (
    "context"
    "errors"
    "fmt"
    "time"

    "github.com/sirupsen/logrus"

    appErrors "github.com/unclebandit/disparo-dispatch/internal/errors"
    "github.com/unclebandit/disparo-dispatch/internal/model"
    "github.com/unclebandit/disparo-dispatch/internal/repository"
)

// Outcome of running one campaign through the scheduler.
type Outcome string

const (
    OutcomeDispatched Outcome = "dispatched"
    OutcomeFinalized  Outcome = "finalized"
    OutcomeFailed     Outcome = "failed"
    OutcomeNotDue     Outcome = "not_due"
    OutcomeNoop       Outcome = "noop"
)

type TriggerResult struct {
    CampaignID    string               `json:"disparo_id"`
    Outcome       Outcome              `json:"outcome"`
    Status        model.CampaignStatus `json:"status"`
    JobsSubmitted int                  `json:"jobs_submitted"`
    Error         string               `json:"error,omitempty"`
}

type SweepResult struct {
    Processed []string `json:"processed"`
    Failed    []string `json:"failed"`
    Finalized []string `json:"finalized"`
    Requeued  []string `json:"requeued"`
}

// DefaultSubmitChunk is the largest batch handed to the Submitter at once.
const DefaultSubmitChunk = 500

// CampaignScheduler starts due campaigns and finalizes running ones.
type CampaignScheduler struct {
    CampaignRepo   repository.CampaignRepositoryInterface
    RecipientRepo  repository.RecipientRepositoryInterface
    ConnectionRepo repository.ConnectionRepositoryInterface
    Submitter      Submitter

    // Buffer delays pickup of a scheduled campaign past its scheduled_at.
    Buffer time.Duration
    // ManualBuffer lets a manual trigger start a campaign this early.
    ManualBuffer time.Duration
    // ChunkSize caps the jobs per Submit call; DefaultSubmitChunk when zero.
    ChunkSize int
}

// RunSweep processes every due campaign, then finalizes in-progress ones or
// requeues their pending recipients. One campaign failing never stops the
// others.
func (s *CampaignScheduler) RunSweep(ctx context.Context, now time.Time) (*SweepResult, error) {
    result := &SweepResult{Processed: []string{}, Failed: []string{}, Finalized: []string{}, Requeued: []string{}}

    due, err := s.CampaignRepo.ListDue(ctx, now.Add(-s.Buffer))
    if err != nil {
        return result, fmt.Errorf("list due campaigns: %w", err)
    }
    for _, c := range due {
        res, err := s.safeProcess(ctx, c, now)
        if err != nil || res.Outcome == OutcomeFailed {
            result.Failed = append(result.Failed, c.ID)
            continue
        }
        result.Processed = append(result.Processed, c.ID)
        if res.Outcome == OutcomeFinalized {
            result.Finalized = append(result.Finalized, c.ID)
        }
    }

    running, err := s.CampaignRepo.ListByStatus(ctx, model.CampaignInProgress)
    if err != nil {
        return result, fmt.Errorf("list running campaigns: %w", err)
    }
    for _, c := range running {
        // Submitted a moment ago by this sweep.
        if contains(result.Processed, c.ID) {
            continue
        }
        requeued, done, err := s.safeReconcile(ctx, c, now)
        if err != nil {
            logrus.WithError(err).WithField("disparo_id", c.ID).Error("❌ Reconciling running campaign failed")
            continue
        }
        if done {
            result.Finalized = append(result.Finalized, c.ID)
        }
        if requeued > 0 {
            result.Requeued = append(result.Requeued, c.ID)
        }
    }

    if len(due) > 0 || len(result.Finalized) > 0 || len(result.Requeued) > 0 {
        logrus.WithFields(logrus.Fields{
            "due":       len(due),
            "processed": len(result.Processed),
            "failed":    len(result.Failed),
            "finalized": len(result.Finalized),
            "requeued":  len(result.Requeued),
        }).Info("🕒 Scheduler sweep finished")
    }
    return result, nil
}

// TriggerCampaign runs one campaign now. A scheduled campaign that is not yet
// due comes back as not_due with nothing changed; a paused one is resumed.
func (s *CampaignScheduler) TriggerCampaign(ctx context.Context, id string, now time.Time) (*TriggerResult, error) {
    c, err := s.CampaignRepo.GetByID(ctx, id)
    if err != nil {
        return nil, err
    }

    switch c.Status {
    case model.CampaignScheduled:
        if c.ScheduledAt != nil && c.ScheduledAt.After(now.Add(s.ManualBuffer)) {
            return &TriggerResult{CampaignID: c.ID, Outcome: OutcomeNotDue, Status: c.Status}, nil
        }
    case model.CampaignInProgress, model.CampaignPaused:
    default:
        return nil, appErrors.ErrCampaignNotDispatchable
    }
    return s.safeProcess(ctx, c, now)
}

func (s *CampaignScheduler) safeProcess(ctx context.Context, c *model.Campaign, now time.Time) (res *TriggerResult, err error) {
    defer func() {
        if r := recover(); r != nil {
            err = fmt.Errorf("panic processing campaign %s: %v", c.ID, r)
            logrus.WithField("disparo_id", c.ID).Error("💥 ", err)
            reportFailure(err, map[string]string{"disparo_id": c.ID})
            res = nil
        }
    }()
    res, err = s.process(ctx, c, now)
    if err != nil {
        logrus.WithError(err).WithField("disparo_id", c.ID).Error("❌ Campaign processing failed")
    }
    return res, err
}

func (s *CampaignScheduler) safeReconcile(ctx context.Context, c *model.Campaign, now time.Time) (requeued int, done bool, err error) {
    defer func() {
        if r := recover(); r != nil {
            err = fmt.Errorf("panic reconciling campaign %s: %v", c.ID, r)
        }
    }()
    return s.reconcile(ctx, c, now)
}

// reconcile finalizes a running campaign with nothing pending. Otherwise it
// resubmits every pending recipient; keys still queued, running, or waiting
// for a retry are no-ops, so only jobs lost by the queue come back.
func (s *CampaignScheduler) reconcile(ctx context.Context, c *model.Campaign, now time.Time) (int, bool, error) {
    done, err := s.Finalize(ctx, c.ID, now)
    if err != nil || done {
        return 0, done, err
    }

    pending, err := s.RecipientRepo.ListPending(ctx, c.ID)
    if err != nil {
        return 0, false, fmt.Errorf("list pending recipients: %w", err)
    }
    if len(pending) == 0 {
        return 0, false, nil
    }
    conn, err := s.ConnectionRepo.GetByID(ctx, c.ConnectionID)
    if err != nil {
        return 0, false, fmt.Errorf("load connection: %w", err)
    }
    if !conn.Online() {
        logrus.WithField("disparo_id", c.ID).Warn("📴 Connection offline, pending recipients not requeued")
        return 0, false, nil
    }

    added, err := s.submit(ctx, s.requests(c, conn, pending))
    if err != nil {
        return added, false, fmt.Errorf("requeue pending recipients: %w", err)
    }
    if added > 0 {
        logrus.WithFields(logrus.Fields{"disparo_id": c.ID, "jobs": added}).Warn("🔁 Requeued lost jobs")
    }
    return added, false, nil
}

func (s *CampaignScheduler) requests(c *model.Campaign, conn *model.Connection, pending []*model.Recipient) []model.DispatchRequest {
    reqs := make([]model.DispatchRequest, len(pending))
    priority := uint8(1)
    for i, r := range pending {
        reqs[i] = model.DispatchRequest{
            DisparoID:   c.ID,
            RecipientID: r.ID,
            Phone:       r.Phone,
            Message:     r.Message,
            MediaURL:    r.MediaURL,
            MediaType:   r.MediaType,
            APIToken:    conn.Token,
            Priority:    &priority,
        }
    }
    return reqs
}

// submit hands reqs to the Submitter in chunks, stopping at the first error.
// It returns the number of new jobs.
func (s *CampaignScheduler) submit(ctx context.Context, reqs []model.DispatchRequest) (int, error) {
    size := s.ChunkSize
    if size < 1 {
        size = DefaultSubmitChunk
    }
    added := 0
    for start := 0; start < len(reqs); start += size {
        end := start + size
        if end > len(reqs) {
            end = len(reqs)
        }
        res, err := s.Submitter.Submit(ctx, reqs[start:end])
        if err != nil {
            return added, err
        }
        added += res.JobsAdded
    }
    return added, nil
}

func (s *CampaignScheduler) process(ctx context.Context, c *model.Campaign, now time.Time) (*TriggerResult, error) {
    log := logrus.WithField("disparo_id", c.ID)
    result := &TriggerResult{CampaignID: c.ID}

    conn, err := s.ConnectionRepo.GetByID(ctx, c.ConnectionID)
    if err != nil {
        return nil, fmt.Errorf("load connection: %w", err)
    }
    if !conn.Online() {
        msg := fmt.Sprintf("whatsapp connection %s is not online", c.ConnectionID)
        if conn == nil {
            msg = fmt.Sprintf("whatsapp connection %s not found", c.ConnectionID)
        }
        if err := s.CampaignRepo.Transition(ctx, c.ID, model.CampaignFailed, msg, now); err != nil {
            return nil, err
        }
        log.Warn("📴 ", msg)
        reportFailure(errors.New(msg), map[string]string{"disparo_id": c.ID})
        result.Outcome, result.Status, result.Error = OutcomeFailed, model.CampaignFailed, msg
        return result, nil
    }

    if c.Status != model.CampaignInProgress {
        if err := s.CampaignRepo.Transition(ctx, c.ID, model.CampaignInProgress, "", now); err != nil {
            return nil, err
        }
        log.WithField("from", c.Status).Info("▶️ Campaign started")
    }
    result.Status = model.CampaignInProgress

    pending, err := s.RecipientRepo.ListPending(ctx, c.ID)
    if err != nil {
        return nil, fmt.Errorf("list pending recipients: %w", err)
    }
    if len(pending) == 0 {
        done, err := s.Finalize(ctx, c.ID, now)
        if err != nil {
            return nil, err
        }
        result.Outcome = OutcomeNoop
        if done {
            final, err := s.CampaignRepo.GetByID(ctx, c.ID)
            if err != nil {
                return nil, err
            }
            result.Outcome, result.Status = OutcomeFinalized, final.Status
        }
        return result, nil
    }

    added, err := s.submit(ctx, s.requests(c, conn, pending))
    if err != nil {
        // Jobs from earlier chunks find the campaign failed and are released.
        msg := "failed to submit jobs: " + err.Error()
        s.failSubmission(ctx, c.ID, pending, msg, now)
        result.Outcome, result.Status, result.Error = OutcomeFailed, model.CampaignFailed, msg
        return result, nil
    }

    result.Outcome = OutcomeDispatched
    result.JobsSubmitted = added
    log.WithFields(logrus.Fields{"pending": len(pending), "jobs": added}).Info("🚀 Campaign jobs submitted")
    return result, nil
}

// failSubmission fails the campaign and every recipient of the rejected batch.
func (s *CampaignScheduler) failSubmission(ctx context.Context, id string, pending []*model.Recipient, msg string, now time.Time) {
    log := logrus.WithField("disparo_id", id)
    if err := s.CampaignRepo.Transition(ctx, id, model.CampaignFailed, msg, now); err != nil {
        log.WithError(err).Error("failed to mark campaign failed")
    }
    failed := 0
    for _, r := range pending {
        moved, err := s.RecipientRepo.Transition(ctx, r.ID, model.RecipientFailed, msg, now)
        if err != nil {
            log.WithError(err).WithField("recipient_id", r.ID).Error("failed to mark recipient failed")
            continue
        }
        if !moved {
            continue
        }
        failed++
        if err := s.CampaignRepo.IncrementCounters(ctx, id, repository.CounterDelta{Failed: 1, Pending: -1}); err != nil {
            log.WithError(err).Error("failed to increment failed counter")
        }
    }
    log.WithField("recipients", failed).Error("❌ ", msg)
    reportFailure(errors.New(msg), map[string]string{"disparo_id": id})
}

// Finalize moves a campaign with no pending recipients to its terminal state,
// after recounting its counters from the recipient rows. It reports whether
// this call made the transition; a terminal campaign is left untouched.
func (s *CampaignScheduler) Finalize(ctx context.Context, id string, now time.Time) (bool, error) {
    c, err := s.CampaignRepo.GetByID(ctx, id)
    if err != nil {
        return false, err
    }
    if c.Status.Terminal() {
        return false, nil
    }

    c, err = s.CampaignRepo.Recount(ctx, id)
    if err != nil {
        return false, fmt.Errorf("recount: %w", err)
    }
    if c.PendingCount > 0 {
        return false, nil
    }

    final := c.FinalStatus()
    if err := s.CampaignRepo.Transition(ctx, id, final, "", now); err != nil {
        if appErrors.IsInvalidTransition(err) {
            return false, nil
        }
        return false, err
    }
    logrus.WithFields(logrus.Fields{
        "disparo_id": id,
        "status":     final,
        "sent":       c.SentCount,
        "failed":     c.FailedCount,
    }).Info("🏁 Campaign finalized")
    return true, nil
}

func contains(ids []string, id string) bool {
    for _, v := range ids {
        if v == id {
            return true
        }
    }
    return false
}
