package service_test

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"

    "github.com/unclebandit/disparo-dispatch/internal/delivery"
    "github.com/unclebandit/disparo-dispatch/internal/model"
    "github.com/unclebandit/disparo-dispatch/internal/queue"
    "github.com/unclebandit/disparo-dispatch/internal/service"
)

// fakeDelivery records how the worker settled a job.
type fakeDelivery struct {
    job     model.DispatchJob
    settled string
    delay   time.Duration
}

func (d *fakeDelivery) Job() model.DispatchJob { return d.job }
func (d *fakeDelivery) Complete(ctx context.Context) error {
    d.settled = "complete"
    return nil
}
func (d *fakeDelivery) Fail(ctx context.Context, reason string) error {
    d.settled = "fail"
    return nil
}
func (d *fakeDelivery) Retry(ctx context.Context, delay time.Duration) error {
    d.settled, d.delay = "retry", delay
    return nil
}
func (d *fakeDelivery) Release(ctx context.Context) error {
    d.settled = "release"
    return nil
}

func newWorkerFixture(status model.CampaignStatus, recipients int) (*memDB, []string) {
    db := newMemDB()
    db.addCampaign(&model.Campaign{ID: "c1", ConnectionID: "conn", Status: status})
    return db, db.addRecipients("c1", recipients)
}

func newPool(db *memDB, sender *fakeSender) *service.WorkerPool {
    return service.NewWorkerPool(nil, &memCampaignRepo{db}, &memRecipientRepo{db}, sender, nil,
        queue.BackoffPolicy{MaxAttempts: 3, BaseDelay: 5 * time.Second}, 1)
}

func jobFor(recipientID string, attempt int) model.DispatchJob {
    return model.DispatchJob{
        CampaignID:  "c1",
        RecipientID: recipientID,
        Phone:       "+55 (11) 99999-0000",
        Message:     "Olá",
        APIToken:    "tok",
        Attempt:     attempt,
    }
}

// runUntilSettled feeds a job through the worker, following retries, and
// returns the last outcome.
func runUntilSettled(t *testing.T, pool *service.WorkerPool, recipientID string) (service.JobOutcome, []time.Duration) {
    t.Helper()
    var delays []time.Duration
    for attempt := 1; attempt <= 10; attempt++ {
        d := &fakeDelivery{job: jobFor(recipientID, attempt)}
        out := pool.Process(context.Background(), d)
        if out != service.JobRetried {
            return out, delays
        }
        delays = append(delays, d.delay)
    }
    t.Fatal("job never settled")
    return "", nil
}

func TestWorkerSendsAndCountsOnce(t *testing.T) {
    db, ids := newWorkerFixture(model.CampaignInProgress, 1)
    var got delivery.Request
    sender := &fakeSender{fn: func(req delivery.Request) error { got = req; return nil }}
    pool := newPool(db, sender)

    d := &fakeDelivery{job: jobFor(ids[0], 1)}
    if out := pool.Process(context.Background(), d); out != service.JobSent {
        t.Fatalf("expected sent, got %s", out)
    }
    if d.settled != "complete" {
        t.Errorf("expected delivery completed, got %q", d.settled)
    }
    if got.Phone != "5511999990000" || got.Token != "tok" {
        t.Errorf("unexpected transport request %+v", got)
    }

    // Broker redelivery of the same job must not send or count again.
    d2 := &fakeDelivery{job: jobFor(ids[0], 1)}
    if out := pool.Process(context.Background(), d2); out != service.JobSkipped {
        t.Fatalf("expected skipped on redelivery, got %s", out)
    }

    c := db.campaign("c1")
    if c.SentCount != 1 || c.PendingCount != 0 || c.FailedCount != 0 {
        t.Errorf("unexpected counters sent=%d pending=%d failed=%d", c.SentCount, c.PendingCount, c.FailedCount)
    }
    if sender.Calls() != 1 {
        t.Errorf("expected 1 transport call, got %d", sender.Calls())
    }
    rec := db.recipient(ids[0])
    if rec.Status != model.RecipientSent || rec.SentAt == nil {
        t.Errorf("recipient not marked sent: %+v", rec)
    }
}

func TestWorkerLogicalFailureExhaustsBudgetAndCountsOnce(t *testing.T) {
    db, ids := newWorkerFixture(model.CampaignInProgress, 1)
    sender := &fakeSender{fn: func(req delivery.Request) error {
        return &delivery.TransportError{Message: "invalid number"}
    }}
    pool := newPool(db, sender)

    out, delays := runUntilSettled(t, pool, ids[0])
    if out != service.JobFailed {
        t.Fatalf("expected failed, got %s", out)
    }
    if sender.Calls() != 3 {
        t.Errorf("expected 3 transport calls, got %d", sender.Calls())
    }
    if len(delays) != 2 || delays[0] != 5*time.Second || delays[1] != 10*time.Second {
        t.Errorf("unexpected backoff delays %v", delays)
    }

    rec := db.recipient(ids[0])
    if rec.Status != model.RecipientFailed || rec.ErrorMessage != "invalid number" {
        t.Errorf("recipient not failed with transport message: %+v", rec)
    }
    c := db.campaign("c1")
    if c.FailedCount != 1 || c.PendingCount != 0 {
        t.Errorf("expected failed_count=1 pending=0, got %d/%d", c.FailedCount, c.PendingCount)
    }
}

func TestWorkerTimeoutFailsAfterExactlyMaxAttempts(t *testing.T) {
    db, ids := newWorkerFixture(model.CampaignInProgress, 1)
    sender := &fakeSender{fn: func(req delivery.Request) error {
        return &delivery.TransientError{Err: context.DeadlineExceeded}
    }}
    pool := newPool(db, sender)

    out, _ := runUntilSettled(t, pool, ids[0])
    if out != service.JobFailed {
        t.Fatalf("expected failed, got %s", out)
    }
    if sender.Calls() != 3 {
        t.Fatalf("expected exactly 3 calls, got %d", sender.Calls())
    }
    if rec := db.recipient(ids[0]); rec.Status != model.RecipientFailed {
        t.Errorf("expected recipient failed, got %s", rec.Status)
    }
}

func TestWorkerClientErrorIsPermanent(t *testing.T) {
    db, ids := newWorkerFixture(model.CampaignInProgress, 1)
    sender := &fakeSender{fn: func(req delivery.Request) error {
        return &delivery.ClientError{StatusCode: 400, Message: "bad phone"}
    }}
    pool := newPool(db, sender)

    out, _ := runUntilSettled(t, pool, ids[0])
    if out != service.JobFailed || sender.Calls() != 1 {
        t.Fatalf("expected one call and failure, got %s after %d calls", out, sender.Calls())
    }
    if c := db.campaign("c1"); c.FailedCount != 1 {
        t.Errorf("expected failed_count=1, got %d", c.FailedCount)
    }
}

func TestWorkerReleasesJobsOfPausedCampaign(t *testing.T) {
    for _, status := range []model.CampaignStatus{model.CampaignPaused, model.CampaignCancelled, model.CampaignCompleted} {
        db, ids := newWorkerFixture(status, 1)
        sender := &fakeSender{}
        pool := newPool(db, sender)

        d := &fakeDelivery{job: jobFor(ids[0], 1)}
        if out := pool.Process(context.Background(), d); out != service.JobReleased {
            t.Errorf("%s: expected released, got %s", status, out)
        }
        if d.settled != "release" || sender.Calls() != 0 {
            t.Errorf("%s: job should be released without sending", status)
        }
        if rec := db.recipient(ids[0]); rec.Status != model.RecipientPending {
            t.Errorf("%s: recipient must stay pending, got %s", status, rec.Status)
        }
    }
}

func TestWorkerPoolRunDrainsBrokerWithRateLimit(t *testing.T) {
    db, ids := newWorkerFixture(model.CampaignInProgress, 6)
    broker := queue.NewInMemoryBroker(nil)
    defer broker.Close()

    var mu sync.Mutex
    seen := map[string]int{}
    sender := &fakeSender{fn: func(req delivery.Request) error {
        mu.Lock()
        defer mu.Unlock()
        seen[req.Message]++
        if req.Message == "flaky" && seen[req.Message] == 1 {
            return errors.New("connection reset")
        }
        return nil
    }}

    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    for i, id := range ids {
        job := jobFor(id, 0)
        if i == 0 {
            job.Message = "flaky"
        }
        if _, err := broker.Enqueue(ctx, job); err != nil {
            t.Fatalf("enqueue: %v", err)
        }
    }

    // 2 per 100ms: a burst of 2, then one token every 50ms.
    pool := service.NewWorkerPool(broker, &memCampaignRepo{db}, &memRecipientRepo{db}, sender,
        service.NewRateLimiter(2, 100*time.Millisecond),
        queue.BackoffPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}, 3)

    start := time.Now()
    done := make(chan struct{})
    go func() {
        pool.Run(ctx)
        close(done)
    }()

    deadline := time.Now().Add(5 * time.Second)
    for time.Now().Before(deadline) {
        if c := db.campaign("c1"); c.SentCount == 6 {
            break
        }
        time.Sleep(5 * time.Millisecond)
    }
    elapsed := time.Since(start)
    cancel()
    <-done

    c := db.campaign("c1")
    if c.SentCount != 6 || c.PendingCount != 0 || c.FailedCount != 0 {
        t.Fatalf("unexpected counters %+v", c)
    }
    if sender.Calls() != 7 {
        t.Errorf("expected 7 transport calls (one retry), got %d", sender.Calls())
    }
    // 7 attempts with a burst of 2 wait for 5 more tokens, about 250ms.
    if elapsed < 200*time.Millisecond {
        t.Errorf("rate limit not applied: 7 attempts took %s", elapsed)
    }
}

// resumingCampaignRepo runs onRead right after the first campaign read.
type resumingCampaignRepo struct {
    memCampaignRepo
    once   sync.Once
    onRead func()
}

func (r *resumingCampaignRepo) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
    c, err := r.memCampaignRepo.GetByID(ctx, id)
    r.once.Do(r.onRead)
    return c, err
}

func TestWorkerRequeuesJobWhenCampaignResumesDuringPauseCheck(t *testing.T) {
    db := newMemDB()
    db.addConnection("conn", model.ConnectionOnline)
    db.addCampaign(&model.Campaign{ID: "c1", ConnectionID: "conn", Status: model.CampaignPaused})
    ids := db.addRecipients("c1", 1)

    broker := queue.NewInMemoryBroker(nil)
    defer broker.Close()
    sched := newScheduler(db, &service.ProducerService{Queue: broker})
    campaigns := &service.CampaignService{
        CampaignRepo:  &memCampaignRepo{db},
        RecipientRepo: &memRecipientRepo{db},
        Scheduler:     sched,
    }

    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    if _, err := broker.Enqueue(ctx, jobFor(ids[0], 1)); err != nil {
        t.Fatalf("enqueue: %v", err)
    }
    deliveries, _ := broker.Deliveries(ctx)
    held := <-deliveries

    repo := &resumingCampaignRepo{memCampaignRepo: memCampaignRepo{db}}
    repo.onRead = func() {
        res, err := campaigns.Resume(ctx, "c1")
        if err != nil || res.JobsSubmitted != 0 {
            t.Errorf("resume while the job is held should add nothing, got %+v err=%v", res, err)
        }
    }
    sender := &fakeSender{}
    pool := service.NewWorkerPool(broker, repo, &memRecipientRepo{db}, sender, nil,
        queue.BackoffPolicy{MaxAttempts: 3, BaseDelay: time.Second}, 1)

    if out := pool.Process(ctx, held); out != service.JobReleased {
        t.Fatalf("expected released, got %s", out)
    }

    select {
    case d := <-deliveries:
        if out := pool.Process(ctx, d); out != service.JobSent {
            t.Fatalf("expected requeued job sent, got %s", out)
        }
    case <-time.After(2 * time.Second):
        t.Fatal("released job was not requeued")
    }
    if sender.Calls() != 1 || db.recipient(ids[0]).Status != model.RecipientSent {
        t.Errorf("expected one send and recipient sent, got %d calls", sender.Calls())
    }
}
