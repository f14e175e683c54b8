package repository

import (
    "context"
    "database/sql"
    "errors"
    "time"

    "github.com/lib/pq"

    appErrors "github.com/unclebandit/disparo-dispatch/internal/errors"
    "github.com/unclebandit/disparo-dispatch/internal/model"
)

// CounterDelta is applied to a campaign's counters in one atomic UPDATE.
type CounterDelta struct {
    Sent      int
    Failed    int
    Pending   int
    Delivered int
}

type CampaignRepositoryInterface interface {
    Create(ctx context.Context, c *model.Campaign) error
    GetByID(ctx context.Context, id string) (*model.Campaign, error)
    ListDue(ctx context.Context, before time.Time) ([]*model.Campaign, error)
    ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error)
    ListCampaigns(ctx context.Context, offset, limit int, tenantID, status string) ([]*model.Campaign, int, error)

    // Transition moves a campaign to a new state if the transition table
    // allows it from the row's current state. errMsg is stored on failure.
    Transition(ctx context.Context, id string, to model.CampaignStatus, errMsg string, at time.Time) error
    IncrementCounters(ctx context.Context, id string, d CounterDelta) error
    SetTotals(ctx context.Context, id string, total, pending int) error
    // Recount recomputes counters from recipient rows.
    Recount(ctx context.Context, id string) (*model.Campaign, error)
}

type CampaignRepository struct {
    DB *sql.DB
}

const campaignColumns = `id, tenant_id, connection_id, name, message_variations, delay_min_seconds, delay_max_seconds,
    status, error_message, scheduled_at, started_at, completed_at,
    total_recipients, sent_count, failed_count, pending_count, delivered_count, created_at, updated_at`

type scanner interface {
    Scan(dest ...any) error
}

func scanCampaign(row scanner) (*model.Campaign, error) {
    var c model.Campaign
    var status string
    err := row.Scan(
        &c.ID, &c.TenantID, &c.ConnectionID, &c.Name, pq.Array(&c.MessageVariations),
        &c.DelayMinSeconds, &c.DelayMaxSeconds,
        &status, &c.ErrorMessage, &c.ScheduledAt, &c.StartedAt, &c.CompletedAt,
        &c.TotalRecipients, &c.SentCount, &c.FailedCount, &c.PendingCount, &c.DeliveredCount,
        &c.CreatedAt, &c.UpdatedAt,
    )
    if err != nil {
        return nil, err
    }
    c.Status = model.CampaignStatus(status)
    return &c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
    c.CreatedAt = time.Now().UTC()
    if c.Status == "" {
        c.Status = model.CampaignScheduled
    }
    query := `
        INSERT INTO disparos (id, tenant_id, connection_id, name, message_variations,
            delay_min_seconds, delay_max_seconds, status, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `
    _, err := r.DB.ExecContext(ctx, query, c.ID, c.TenantID, c.ConnectionID, c.Name,
        pq.Array(c.MessageVariations), c.DelayMinSeconds, c.DelayMaxSeconds,
        string(c.Status), c.ScheduledAt, c.CreatedAt)
    return err
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
    row := r.DB.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM disparos WHERE id=$1`, id)
    c, err := scanCampaign(row)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, appErrors.NewCampaignNotFound(id)
        }
        return nil, err
    }
    return c, nil
}

func (r *CampaignRepository) ListDue(ctx context.Context, before time.Time) ([]*model.Campaign, error) {
    query := `SELECT ` + campaignColumns + ` FROM disparos
        WHERE status=$1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
        ORDER BY scheduled_at`
    return r.list(ctx, query, string(model.CampaignScheduled), before)
}

func (r *CampaignRepository) ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
    query := `SELECT ` + campaignColumns + ` FROM disparos WHERE status=$1 ORDER BY created_at`
    return r.list(ctx, query, string(status))
}

// ListCampaigns returns one page of campaigns, newest first, and the total
// count matching the filters.
func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, tenantID, status string) ([]*model.Campaign, int, error) {
    where := ` WHERE ($1 = '' OR tenant_id = $1) AND ($2 = '' OR status = $2)`

    var total int
    if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM disparos`+where, tenantID, status).Scan(&total); err != nil {
        return nil, 0, err
    }

    query := `SELECT ` + campaignColumns + ` FROM disparos` + where + `
        ORDER BY created_at DESC, id
        LIMIT $3 OFFSET $4`
    campaigns, err := r.list(ctx, query, tenantID, status, limit, offset)
    if err != nil {
        return nil, 0, err
    }
    return campaigns, total, nil
}

func (r *CampaignRepository) list(ctx context.Context, query string, args ...any) ([]*model.Campaign, error) {
    rows, err := r.DB.QueryContext(ctx, query, args...)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    campaigns := []*model.Campaign{}
    for rows.Next() {
        c, err := scanCampaign(rows)
        if err != nil {
            return nil, err
        }
        campaigns = append(campaigns, c)
    }
    return campaigns, rows.Err()
}

// ====================== State & counters ======================

func (r *CampaignRepository) Transition(ctx context.Context, id string, to model.CampaignStatus, errMsg string, at time.Time) error {
    sources := model.CampaignSources(to)
    if len(sources) == 0 {
        return appErrors.NewInvalidTransition("campaign", id, "", string(to))
    }
    query := `
        UPDATE disparos SET
            status = $1,
            error_message = CASE WHEN $2 <> '' THEN $2 ELSE error_message END,
            started_at = CASE WHEN $1 = 'in_progress' THEN COALESCE(started_at, $3) ELSE started_at END,
            completed_at = CASE WHEN $1 IN ('completed', 'failed', 'cancelled') THEN $3 ELSE completed_at END,
            updated_at = $3
        WHERE id = $4 AND status = ANY($5)
    `
    res, err := r.DB.ExecContext(ctx, query, string(to), errMsg, at, id, pq.Array(sources))
    if err != nil {
        return err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        current, err := r.GetByID(ctx, id)
        if err != nil {
            return err
        }
        return appErrors.NewInvalidTransition("campaign", id, string(current.Status), string(to))
    }
    return nil
}

func (r *CampaignRepository) IncrementCounters(ctx context.Context, id string, d CounterDelta) error {
    query := `
        UPDATE disparos SET
            sent_count = sent_count + $1,
            failed_count = failed_count + $2,
            pending_count = GREATEST(pending_count + $3, 0),
            delivered_count = delivered_count + $4,
            updated_at = NOW()
        WHERE id = $5
    `
    _, err := r.DB.ExecContext(ctx, query, d.Sent, d.Failed, d.Pending, d.Delivered, id)
    return err
}

func (r *CampaignRepository) SetTotals(ctx context.Context, id string, total, pending int) error {
    _, err := r.DB.ExecContext(ctx,
        `UPDATE disparos SET total_recipients=$1, pending_count=$2, updated_at=NOW() WHERE id=$3`,
        total, pending, id)
    return err
}

func (r *CampaignRepository) Recount(ctx context.Context, id string) (*model.Campaign, error) {
    query := `
        UPDATE disparos d SET
            total_recipients = s.total,
            pending_count = s.pending,
            sent_count = s.sent,
            failed_count = s.failed,
            delivered_count = s.delivered,
            updated_at = NOW()
        FROM (
            SELECT COUNT(*) AS total,
                COUNT(*) FILTER (WHERE status = 'pending') AS pending,
                COUNT(*) FILTER (WHERE status IN ('sent', 'delivered')) AS sent,
                COUNT(*) FILTER (WHERE status = 'failed') AS failed,
                COUNT(*) FILTER (WHERE status = 'delivered') AS delivered
            FROM disparo_recipients WHERE campaign_id = $1
        ) s
        WHERE d.id = $1
        RETURNING ` + prefixed("d.", campaignColumns)
    c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, appErrors.NewCampaignNotFound(id)
        }
        return nil, err
    }
    return c, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
