// internal/service/worker.go
package service

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "time"

    "github.com/getsentry/sentry-go"
    "github.com/sirupsen/logrus"
    "golang.org/x/time/rate"

    "github.com/unclebandit/disparo-dispatch/internal/delivery"
    appErrors "github.com/unclebandit/disparo-dispatch/internal/errors"
    "github.com/unclebandit/disparo-dispatch/internal/model"
    "github.com/unclebandit/disparo-dispatch/internal/queue"
    "github.com/unclebandit/disparo-dispatch/internal/repository"
)

// JobSource is the consuming side of a broker.
type JobSource interface {
    Deliveries(ctx context.Context) (<-chan queue.Delivery, error)
}

// NewRateLimiter allows max jobs per window across every worker that shares it.
func NewRateLimiter(max int, window time.Duration) *rate.Limiter {
    if max < 1 {
        max = 1
    }
    if window <= 0 {
        window = time.Second
    }
    return rate.NewLimiter(rate.Every(window/time.Duration(max)), max)
}

// Outcome of processing one delivery.
type JobOutcome string

const (
    JobSent     JobOutcome = "sent"
    JobRetried  JobOutcome = "retried"
    JobFailed   JobOutcome = "failed"
    JobReleased JobOutcome = "released"
    JobSkipped  JobOutcome = "skipped"
    JobAborted  JobOutcome = "aborted"
)

// WorkerPool processes dispatch jobs with a fixed number of workers sharing
// one rate limiter.
type WorkerPool struct {
    Source        JobSource
    CampaignRepo  repository.CampaignRepositoryInterface
    RecipientRepo repository.RecipientRepositoryInterface
    Sender        delivery.Sender
    Limiter       *rate.Limiter
    Backoff       queue.BackoffPolicy
    Concurrency   int
    // Requeue puts back a released job whose campaign was resumed meanwhile.
    Requeue queue.Enqueuer

    now func() time.Time
}

func NewWorkerPool(source JobSource, campaigns repository.CampaignRepositoryInterface, recipients repository.RecipientRepositoryInterface,
    sender delivery.Sender, limiter *rate.Limiter, backoff queue.BackoffPolicy, concurrency int) *WorkerPool {
    pool := &WorkerPool{
        Source:        source,
        CampaignRepo:  campaigns,
        RecipientRepo: recipients,
        Sender:        sender,
        Limiter:       limiter,
        Backoff:       backoff,
        Concurrency:   concurrency,
        now:           func() time.Time { return time.Now().UTC() },
    }
    if e, ok := source.(queue.Enqueuer); ok {
        pool.Requeue = e
    }
    return pool
}

// Run blocks until ctx is cancelled or the source closes its channel.
func (p *WorkerPool) Run(ctx context.Context) error {
    deliveries, err := p.Source.Deliveries(ctx)
    if err != nil {
        return fmt.Errorf("open deliveries: %w", err)
    }

    n := p.Concurrency
    if n < 1 {
        n = 1
    }
    logrus.WithField("concurrency", n).Info("👷 Worker pool started")

    var wg sync.WaitGroup
    for i := 0; i < n; i++ {
        wg.Add(1)
        go func(id int) {
            defer wg.Done()
            for d := range deliveries {
                p.Process(ctx, d)
            }
            logrus.WithField("worker", id).Debug("worker stopped")
        }(i)
    }
    wg.Wait()
    return ctx.Err()
}

func (p *WorkerPool) timeNow() time.Time {
    if p.now == nil {
        return time.Now().UTC()
    }
    return p.now()
}

// Process runs one job to an outcome and settles the delivery with the broker.
func (p *WorkerPool) Process(ctx context.Context, d queue.Delivery) JobOutcome {
    job := d.Job()
    log := logrus.WithFields(logrus.Fields{
        "disparo_id":   job.CampaignID,
        "recipient_id": job.RecipientID,
        "attempt":      job.Attempt,
    })

    if p.Limiter != nil {
        if err := p.Limiter.Wait(ctx); err != nil {
            // Shutting down: leave the job unsettled so the broker redelivers it.
            return JobAborted
        }
    }

    campaign, err := p.CampaignRepo.GetByID(ctx, job.CampaignID)
    if err != nil {
        if appErrors.IsNotFound(err) {
            log.Warn("⚠️ Campaign no longer exists, dropping job")
            p.settle(ctx, log, d.Fail(ctx, "campaign not found"))
            return JobFailed
        }
        return p.retryOrFail(ctx, log, d, err)
    }
    if campaign.Status != model.CampaignInProgress {
        log.WithField("status", campaign.Status).Info("⏸️ Campaign not running, releasing job")
        p.settle(ctx, log, d.Release(ctx))
        p.requeueIfResumed(ctx, log, job)
        return JobReleased
    }

    recipient, err := p.RecipientRepo.GetByID(ctx, job.RecipientID)
    if err != nil {
        return p.retryOrFail(ctx, log, d, err)
    }
    if recipient == nil || recipient.Status != model.RecipientPending {
        // Redelivery of a job whose recipient is already settled.
        p.settle(ctx, log, d.Complete(ctx))
        return JobSkipped
    }

    sendErr := p.Sender.Send(ctx, delivery.Request{
        Phone:     model.NormalizePhone(job.Phone),
        Message:   job.Message,
        MediaURL:  job.MediaURL,
        MediaType: job.MediaType,
        Token:     job.APIToken,
    })

    switch delivery.Classify(sendErr) {
    case delivery.ClassNone:
        p.markSent(ctx, log, job)
        p.settle(ctx, log, d.Complete(ctx))
        return JobSent

    case delivery.ClassClient:
        log.WithError(sendErr).Warn("❌ Transport rejected message")
        p.markFailed(ctx, log, job, sendErr)
        p.settle(ctx, log, d.Fail(ctx, sendErr.Error()))
        return JobFailed

    case delivery.ClassLogical:
        if !p.Backoff.Exhausted(job.Attempt) {
            if err := p.RecipientRepo.RecordAttempt(ctx, job.RecipientID, job.Attempt, sendErr.Error()); err != nil {
                log.WithError(err).Error("failed to record attempt")
            }
        }
        return p.retryOrFail(ctx, log, d, sendErr)

    default:
        return p.retryOrFail(ctx, log, d, sendErr)
    }
}

// requeueIfResumed covers a resume that ran while this job was held: its
// enqueue was a no-op because the key was still active.
func (p *WorkerPool) requeueIfResumed(ctx context.Context, log *logrus.Entry, job model.DispatchJob) {
    if p.Requeue == nil {
        return
    }
    campaign, err := p.CampaignRepo.GetByID(ctx, job.CampaignID)
    if err != nil || campaign.Status != model.CampaignInProgress {
        return
    }
    added, err := p.Requeue.Enqueue(ctx, job)
    if err != nil {
        log.WithError(err).Error("failed to requeue released job")
        return
    }
    if added {
        log.Info("▶️ Campaign resumed, job requeued")
    }
}

// retryOrFail schedules another attempt while the budget lasts, otherwise
// fails the recipient with the last error.
func (p *WorkerPool) retryOrFail(ctx context.Context, log *logrus.Entry, d queue.Delivery, cause error) JobOutcome {
    job := d.Job()
    if !p.Backoff.Exhausted(job.Attempt) {
        delay := p.Backoff.Delay(job.Attempt)
        log.WithError(cause).Warnf("🔁 Attempt failed, retrying in %s", delay)
        p.settle(ctx, log, d.Retry(ctx, delay))
        return JobRetried
    }

    log.WithError(cause).Error("❌ Retries exhausted")
    p.markFailed(ctx, log, job, cause)
    p.settle(ctx, log, d.Fail(ctx, cause.Error()))
    return JobFailed
}

func (p *WorkerPool) markSent(ctx context.Context, log *logrus.Entry, job model.DispatchJob) {
    moved, err := p.RecipientRepo.Transition(ctx, job.RecipientID, model.RecipientSent, "", p.timeNow())
    if err != nil {
        log.WithError(err).Error("failed to mark recipient sent")
        return
    }
    if !moved {
        return
    }
    if err := p.CampaignRepo.IncrementCounters(ctx, job.CampaignID, repository.CounterDelta{Sent: 1, Pending: -1}); err != nil {
        log.WithError(err).Error("failed to increment sent counter")
    }
    log.Info("✅ Message sent")
}

func (p *WorkerPool) markFailed(ctx context.Context, log *logrus.Entry, job model.DispatchJob, cause error) {
    moved, err := p.RecipientRepo.Transition(ctx, job.RecipientID, model.RecipientFailed, cause.Error(), p.timeNow())
    if err != nil {
        log.WithError(err).Error("failed to mark recipient failed")
        return
    }
    if !moved {
        return
    }
    if err := p.CampaignRepo.IncrementCounters(ctx, job.CampaignID, repository.CounterDelta{Failed: 1, Pending: -1}); err != nil {
        log.WithError(err).Error("failed to increment failed counter")
    }
    reportFailure(cause, map[string]string{
        "disparo_id":   job.CampaignID,
        "recipient_id": job.RecipientID,
        "class":        delivery.Classify(cause).String(),
    })
}

func (p *WorkerPool) settle(ctx context.Context, log *logrus.Entry, err error) {
    if err != nil && !errors.Is(err, context.Canceled) {
        log.WithError(err).Error("failed to settle job with broker")
    }
}

// reportFailure sends err to Sentry when a client is configured.
func reportFailure(err error, tags map[string]string) {
    if sentry.CurrentHub().Client() == nil {
        return
    }
    sentry.WithScope(func(scope *sentry.Scope) {
        scope.SetTags(tags)
        sentry.CaptureException(err)
    })
}
