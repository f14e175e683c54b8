package service_test

import (
    "context"
    "sort"
    "strconv"
    "sync"
    "time"

    "github.com/unclebandit/disparo-dispatch/internal/delivery"
    appErrors "github.com/unclebandit/disparo-dispatch/internal/errors"
    "github.com/unclebandit/disparo-dispatch/internal/model"
    "github.com/unclebandit/disparo-dispatch/internal/repository"
)

// memDB backs the in-memory repositories below with one shared lock.
type memDB struct {
    mu          sync.Mutex
    campaigns   map[string]*model.Campaign
    recipients  map[string]*model.Recipient
    order       []string
    connections map[string]*model.Connection

    insertErrs  []error
    insertCalls int
    counterOps  int
    // afterInsert runs after each successful InsertBatch, outside the lock.
    afterInsert func(calls int)
}

func newMemDB() *memDB {
    return &memDB{
        campaigns:   map[string]*model.Campaign{},
        recipients:  map[string]*model.Recipient{},
        connections: map[string]*model.Connection{},
    }
}

func (db *memDB) addConnection(id, status string) {
    db.mu.Lock()
    defer db.mu.Unlock()
    db.connections[id] = &model.Connection{ID: id, TenantID: "t1", Token: "tok-" + id, Status: status}
}

func (db *memDB) addCampaign(c *model.Campaign) {
    db.mu.Lock()
    defer db.mu.Unlock()
    cp := *c
    db.campaigns[c.ID] = &cp
}

// addRecipients inserts n pending recipients and sets the campaign totals.
func (db *memDB) addRecipients(campaignID string, n int) []string {
    db.mu.Lock()
    defer db.mu.Unlock()
    ids := []string{}
    for i := 0; i < n; i++ {
        id := campaignID + "-r" + strconv.Itoa(len(db.order))
        db.recipients[id] = &model.Recipient{
            ID:         id,
            CampaignID: campaignID,
            Phone:      "5511999990000",
            Message:    "Olá",
            Status:     model.RecipientPending,
            CreatedAt:  time.Now(),
        }
        db.order = append(db.order, id)
        ids = append(ids, id)
    }
    c := db.campaigns[campaignID]
    c.TotalRecipients += n
    c.PendingCount += n
    return ids
}

func (db *memDB) campaign(id string) model.Campaign {
    db.mu.Lock()
    defer db.mu.Unlock()
    return *db.campaigns[id]
}

func (db *memDB) recipient(id string) model.Recipient {
    db.mu.Lock()
    defer db.mu.Unlock()
    return *db.recipients[id]
}

type memCampaignRepo struct{ db *memDB }
type memRecipientRepo struct{ db *memDB }
type memConnectionRepo struct{ db *memDB }

func (r *memCampaignRepo) Create(ctx context.Context, c *model.Campaign) error {
    r.db.mu.Lock()
    defer r.db.mu.Unlock()
    c.CreatedAt = time.Now().UTC()
    cp := *c
    r.db.campaigns[c.ID] = &cp
    return nil
}

func (r *memCampaignRepo) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
    r.db.mu.Lock()
    defer r.db.mu.Unlock()
    c, ok := r.db.campaigns[id]
    if !ok {
        return nil, appErrors.NewCampaignNotFound(id)
    }
    cp := *c
    return &cp, nil
}

func (r *memCampaignRepo) ListDue(ctx context.Context, before time.Time) ([]*model.Campaign, error) {
    r.db.mu.Lock()
    defer r.db.mu.Unlock()
    out := []*model.Campaign{}
    for _, c := range r.db.campaigns {
        if c.Status == model.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(before) {
            cp := *c
            out = append(out, &cp)
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out, nil
}

func (r *memCampaignRepo) ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
    r.db.mu.Lock()
    defer r.db.mu.Unlock()
    out := []*model.Campaign{}
    for _, c := range r.db.campaigns {
        if c.Status == status {
            cp := *c
            out = append(out, &cp)
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out, nil
}

func (r *memCampaignRepo) ListCampaigns(ctx context.Context, offset, limit int, tenantID, status string) ([]*model.Campaign, int, error) {
    r.db.mu.Lock()
    defer r.db.mu.Unlock()
    var filtered []*model.Campaign
    for _, c := range r.db.campaigns {
        if tenantID != "" && c.TenantID != tenantID {
            continue
        }
        if status != "" && string(c.Status) != status {
            continue
        }
        cp := *c
        filtered = append(filtered, &cp)
    }
    sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID < filtered[j].ID })
    total := len(filtered)
    if offset >= total {
        return []*model.Campaign{}, total, nil
    }
    end := offset + limit
    if end > total {
        end = total
    }
    return filtered[offset:end], total, nil
}

func (r *memCampaignRepo) Transition(ctx context.Context, id string, to model.CampaignStatus, errMsg string, at time.Time) error {
    r.db.mu.Lock()
    defer r.db.mu.Unlock()
    c, ok := r.db.campaigns[id]
    if !ok {
        return appErrors.NewCampaignNotFound(id)
    }
    if !c.Status.CanTransition(to) {
        return appErrors.NewInvalidTransition("campaign", id, string(c.Status), string(to))
    }
    c.Status = to
    if errMsg != "" {
        c.ErrorMessage = errMsg
    }
    if to == model.CampaignInProgress && c.StartedAt == nil {
        t := at
        c.StartedAt = &t
    }
    if to.Terminal() {
        t := at
        c.CompletedAt = &t
    }
    return nil
}

func (r *memCampaignRepo) IncrementCounters(ctx context.Context, id string, d repository.CounterDelta) error {
    r.db.mu.Lock()
    defer r.db.mu.Unlock()
    c := r.db.campaigns[id]
    c.SentCount += d.Sent
    c.FailedCount += d.Failed
    c.PendingCount += d.Pending
    if c.PendingCount < 0 {
        c.PendingCount = 0
    }
    c.DeliveredCount += d.Delivered
    r.db.counterOps++
    return nil
}

func (r *memCampaignRepo) SetTotals(ctx context.Context, id string, total, pending int) error {
    r.db.mu.Lock()
    defer r.db.mu.Unlock()
    c := r.db.campaigns[id]
    c.TotalRecipients = total
    c.PendingCount = pending
    return nil
}

func (r *memCampaignRepo) Recount(ctx context.Context, id string) (*model.Campaign, error) {
    r.db.mu.Lock()
    defer r.db.mu.Unlock()
    c, ok := r.db.campaigns[id]
    if !ok {
        return nil, appErrors.NewCampaignNotFound(id)
    }
    s := r.db.statsLocked(id)
    c.TotalRecipients = s.Total
    c.PendingCount = s.Pending
    c.SentCount = s.Sent + s.Delivered
    c.FailedCount = s.Failed
    c.DeliveredCount = s.Delivered
    cp := *c
    return &cp, nil
}

func (db *memDB) statsLocked(campaignID string) model.RecipientStats {
    var s model.RecipientStats
    for _, rec := range db.recipients {
        if rec.CampaignID != campaignID {
            continue
        }
        s.Total++
        switch rec.Status {
        case model.RecipientPending:
            s.Pending++
        case model.RecipientSent:
            s.Sent++
        case model.RecipientFailed:
            s.Failed++
        case model.RecipientDelivered:
            s.Delivered++
        }
    }
    return s
}

func (r *memRecipientRepo) InsertBatch(ctx context.Context, recipients []*model.Recipient) error {
    r.db.mu.Lock()
    r.db.insertCalls++
    calls := r.db.insertCalls
    if len(r.db.insertErrs) > 0 {
        err := r.db.insertErrs[0]
        r.db.insertErrs = r.db.insertErrs[1:]
        if err != nil {
            r.db.mu.Unlock()
            return err
        }
    }
    for _, rec := range recipients {
        cp := *rec
        cp.Status = model.RecipientPending
        r.db.recipients[rec.ID] = &cp
        r.db.order = append(r.db.order, rec.ID)
    }
    hook := r.db.afterInsert
    r.db.mu.Unlock()
    if hook != nil {
        hook(calls)
    }
    return nil
}

func (r *memRecipientRepo) GetByID(ctx context.Context, id string) (*model.Recipient, error) {
    r.db.mu.Lock()
    defer r.db.mu.Unlock()
    rec, ok := r.db.recipients[id]
    if !ok {
        return nil, nil
    }
    cp := *rec
    return &cp, nil
}

func (r *memRecipientRepo) ListPending(ctx context.Context, campaignID string) ([]*model.Recipient, error) {
    r.db.mu.Lock()
    defer r.db.mu.Unlock()
    out := []*model.Recipient{}
    for _, id := range r.db.order {
        rec := r.db.recipients[id]
        if rec.CampaignID == campaignID && rec.Status == model.RecipientPending {
            cp := *rec
            out = append(out, &cp)
        }
    }
    return out, nil
}

func (r *memRecipientRepo) Transition(ctx context.Context, id string, to model.RecipientStatus, errMsg string, at time.Time) (bool, error) {
    r.db.mu.Lock()
    defer r.db.mu.Unlock()
    rec, ok := r.db.recipients[id]
    if !ok {
        return false, nil
    }
    src, ok := model.RecipientSource(to)
    if !ok || rec.Status != src {
        return false, nil
    }
    rec.Status = to
    switch {
    case to == model.RecipientSent:
        rec.ErrorMessage = ""
        t := at
        rec.SentAt = &t
    case errMsg != "":
        rec.ErrorMessage = errMsg
    }
    return true, nil
}

func (r *memRecipientRepo) RecordAttempt(ctx context.Context, id string, attempt int, errMsg string) error {
    r.db.mu.Lock()
    defer r.db.mu.Unlock()
    rec, ok := r.db.recipients[id]
    if !ok || rec.Status != model.RecipientPending {
        return nil
    }
    rec.Attempts = attempt
    rec.ErrorMessage = errMsg
    return nil
}

func (r *memRecipientRepo) Stats(ctx context.Context, campaignID string) (model.RecipientStats, error) {
    r.db.mu.Lock()
    defer r.db.mu.Unlock()
    return r.db.statsLocked(campaignID), nil
}

func (r *memConnectionRepo) GetByID(ctx context.Context, id string) (*model.Connection, error) {
    r.db.mu.Lock()
    defer r.db.mu.Unlock()
    c, ok := r.db.connections[id]
    if !ok {
        return nil, nil
    }
    cp := *c
    return &cp, nil
}

// fakeSender answers every Send with fn and counts calls per phone.
type fakeSender struct {
    mu    sync.Mutex
    calls int
    fn    func(req delivery.Request) error
}

func (s *fakeSender) Send(ctx context.Context, req delivery.Request) error {
    s.mu.Lock()
    s.calls++
    fn := s.fn
    s.mu.Unlock()
    if fn == nil {
        return nil
    }
    return fn(req)
}

func (s *fakeSender) Calls() int {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.calls
}

var (
    _ repository.CampaignRepositoryInterface   = (*memCampaignRepo)(nil)
    _ repository.RecipientRepositoryInterface  = (*memRecipientRepo)(nil)
    _ repository.ConnectionRepositoryInterface = (*memConnectionRepo)(nil)
)
