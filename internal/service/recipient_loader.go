// internal/service/recipient_loader.go
package service

import (
    "context"
    "database/sql/driver"
    "errors"
    "fmt"
    "net"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/lib/pq"
    "github.com/sirupsen/logrus"

    appErrors "github.com/unclebandit/disparo-dispatch/internal/errors"
    "github.com/unclebandit/disparo-dispatch/internal/model"
    "github.com/unclebandit/disparo-dispatch/internal/repository"
)

// RecipientInput is one recipient as uploaded. An empty Message is filled
// from the campaign's variations.
type RecipientInput struct {
    Phone     string            `json:"phone"`
    Message   string            `json:"message"`
    MediaURL  string            `json:"media_url,omitempty"`
    MediaType string            `json:"media_type,omitempty"`
    Variables map[string]string `json:"variables,omitempty"`
}

type LoadRequest struct {
    CampaignID    string           `json:"disparo_id"`
    Recipients    []RecipientInput `json:"recipients"`
    DeclaredTotal int              `json:"declared_total,omitempty"`
}

type BatchError struct {
    Batch  int    `json:"batch"`
    Offset int    `json:"offset"`
    Size   int    `json:"size"`
    Error  string `json:"error"`
}

type LoadResult struct {
    CampaignID string       `json:"disparo_id"`
    Requested  int          `json:"requested"`
    Inserted   int          `json:"inserted"`
    Total      int          `json:"total_recipients"`
    Errors     []BatchError `json:"errors"`
}

type LoaderConfig struct {
    BatchSize  int
    BatchDelay time.Duration
    MaxRetries int
    RetryDelay time.Duration
}

// totalsTimeout bounds the final count and totals write.
const totalsTimeout = 10 * time.Second

func DefaultLoaderConfig() LoaderConfig {
    return LoaderConfig{
        BatchSize:  25,
        BatchDelay: time.Second,
        MaxRetries: 3,
        RetryDelay: time.Second,
    }
}

// RecipientLoader inserts a campaign's recipients in fixed-size batches.
// A failed batch is reported and the remaining batches are still attempted.
type RecipientLoader struct {
    CampaignRepo  repository.CampaignRepositoryInterface
    RecipientRepo repository.RecipientRepositoryInterface
    Config        LoaderConfig

    sleep func(ctx context.Context, d time.Duration) error
}

func NewRecipientLoader(campaigns repository.CampaignRepositoryInterface, recipients repository.RecipientRepositoryInterface, cfg LoaderConfig) *RecipientLoader {
    return &RecipientLoader{
        CampaignRepo:  campaigns,
        RecipientRepo: recipients,
        Config:        cfg,
        sleep:         sleepCtx,
    }
}

func sleepCtx(ctx context.Context, d time.Duration) error {
    if d <= 0 {
        return ctx.Err()
    }
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-t.C:
        return nil
    }
}

func (l *RecipientLoader) Load(ctx context.Context, req LoadRequest) (*LoadResult, error) {
    campaign, err := l.CampaignRepo.GetByID(ctx, req.CampaignID)
    if err != nil {
        return nil, err
    }

    recipients, problems := l.build(campaign, req.Recipients)
    if len(problems) > 0 {
        return nil, appErrors.NewAdmissionError(problems...)
    }

    cfg := l.Config
    if cfg.BatchSize < 1 {
        cfg.BatchSize = DefaultLoaderConfig().BatchSize
    }
    if cfg.MaxRetries < 1 {
        cfg.MaxRetries = 1
    }
    sleep := l.sleep
    if sleep == nil {
        sleep = sleepCtx
    }

    result := &LoadResult{
        CampaignID: campaign.ID,
        Requested:  len(req.Recipients),
        Errors:     []BatchError{},
    }
    log := logrus.WithField("disparo_id", campaign.ID)

    for batch, start := 0, 0; start < len(recipients); batch, start = batch+1, start+cfg.BatchSize {
        if batch > 0 {
            if err := sleep(ctx, cfg.BatchDelay); err != nil {
                log.WithError(err).Warnf("⚠️ Load interrupted, %d recipients not attempted", len(recipients)-start)
                result.Errors = append(result.Errors, BatchError{
                    Batch:  batch,
                    Offset: start,
                    Size:   len(recipients) - start,
                    Error:  "load interrupted: " + err.Error(),
                })
                break
            }
        }
        end := start + cfg.BatchSize
        if end > len(recipients) {
            end = len(recipients)
        }
        chunk := recipients[start:end]

        if err := l.insertWithRetry(ctx, chunk, cfg, sleep); err != nil {
            log.WithError(err).WithFields(logrus.Fields{"batch": batch, "size": len(chunk)}).
                Error("❌ Recipient batch failed")
            result.Errors = append(result.Errors, BatchError{
                Batch:  batch,
                Offset: start,
                Size:   len(chunk),
                Error:  err.Error(),
            })
            continue
        }
        result.Inserted += len(chunk)
    }

    // Totals come from the rows actually present, not from what was asked
    // for, and are written even when ctx is already done.
    tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), totalsTimeout)
    defer cancel()
    stats, err := l.RecipientRepo.Stats(tctx, campaign.ID)
    if err != nil {
        return result, fmt.Errorf("count recipients: %w", err)
    }
    if err := l.CampaignRepo.SetTotals(tctx, campaign.ID, stats.Total, stats.Pending); err != nil {
        return result, fmt.Errorf("set totals: %w", err)
    }
    result.Total = stats.Total

    if req.DeclaredTotal > 0 && req.DeclaredTotal != result.Inserted {
        log.Warnf("⚠️ Declared %d recipients, inserted %d", req.DeclaredTotal, result.Inserted)
    }
    log.WithFields(logrus.Fields{
        "requested": result.Requested,
        "inserted":  result.Inserted,
        "failed":    len(result.Errors),
    }).Info("✅ Recipients loaded")
    return result, nil
}

// build resolves every input into a pending recipient row.
func (l *RecipientLoader) build(c *model.Campaign, inputs []RecipientInput) ([]*model.Recipient, []string) {
    var problems []string
    out := make([]*model.Recipient, 0, len(inputs))
    for i, in := range inputs {
        phone := model.NormalizePhone(in.Phone)
        if phone == "" {
            problems = append(problems, fmt.Sprintf("recipient %d: missing phone", i))
            continue
        }
        if !model.ValidMediaType(in.MediaType) {
            problems = append(problems, fmt.Sprintf("recipient %d: unknown media_type %q", i, in.MediaType))
            continue
        }

        message := in.Message
        variation := 0
        if strings.TrimSpace(message) == "" {
            idx, tpl := PickVariation(c.MessageVariations, i)
            if idx < 0 {
                problems = append(problems, fmt.Sprintf("recipient %d: no message and campaign has no variations", i))
                continue
            }
            variation = idx
            message = RenderTemplate(tpl, in.Variables)
        }

        out = append(out, &model.Recipient{
            ID:             uuid.NewString(),
            CampaignID:     c.ID,
            Phone:          phone,
            Message:        message,
            MediaURL:       in.MediaURL,
            MediaType:      in.MediaType,
            VariationIndex: variation,
            Status:         model.RecipientPending,
            Variables:      in.Variables,
        })
    }
    return out, problems
}

func (l *RecipientLoader) insertWithRetry(ctx context.Context, chunk []*model.Recipient, cfg LoaderConfig, sleep func(context.Context, time.Duration) error) error {
    var err error
    for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
        err = l.RecipientRepo.InsertBatch(ctx, chunk)
        if err == nil {
            return nil
        }
        if !isTransientStoreError(err) || attempt == cfg.MaxRetries {
            break
        }
        logrus.WithError(err).Warnf("🔁 Retrying recipient batch (attempt %d/%d)", attempt+1, cfg.MaxRetries)
        if serr := sleep(ctx, cfg.RetryDelay); serr != nil {
            return serr
        }
    }
    return err
}

// isTransientStoreError reports errors worth retrying: timeouts, dropped
// connections and Postgres resource exhaustion.
func isTransientStoreError(err error) bool {
    if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
        return true
    }
    var pqErr *pq.Error
    if errors.As(err, &pqErr) {
        if pqErr.Code == "57014" {
            return true
        }
        switch pqErr.Code.Class() {
        case "08", "53":
            return true
        }
        return false
    }
    var netErr net.Error
    if errors.As(err, &netErr) && netErr.Timeout() {
        return true
    }
    return false
}
