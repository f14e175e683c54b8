package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	appErrors "github.com/unclebandit/disparo-dispatch/internal/errors"
	"github.com/unclebandit/disparo-dispatch/internal/model"
)

type RecipientRepositoryInterface interface {
	// InsertBatch writes all rows of one batch or none of them.
	InsertBatch(ctx context.Context, recipients []*model.Recipient) error
	GetByID(ctx context.Context, id string) (*model.Recipient, error)
	// ListPending returns pending recipients oldest first.
	ListPending(ctx context.Context, campaignID string) ([]*model.Recipient, error)
	// Transition changes status only from the table's source state and
	// reports whether this call moved the row.
	Transition(ctx context.Context, id string, to model.RecipientStatus, errMsg string, at time.Time) (bool, error)
	// RecordAttempt stores the attempt number and last error of a still
	// pending recipient.
	RecordAttempt(ctx context.Context, id string, attempt int, errMsg string) error
	Stats(ctx context.Context, campaignID string) (model.RecipientStats, error)
}

type RecipientRepository struct {
	DB *sql.DB
}

const recipientColumns = `id, campaign_id, phone, message, media_url, media_type, variation_index,
	status, error_message, attempts, sent_at, created_at, updated_at`

func scanRecipient(row scanner) (*model.Recipient, error) {
	var r model.Recipient
	var status string
	err := row.Scan(&r.ID, &r.CampaignID, &r.Phone, &r.Message, &r.MediaURL, &r.MediaType,
		&r.VariationIndex, &status, &r.ErrorMessage, &r.Attempts, &r.SentAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = model.RecipientStatus(status)
	return &r, nil
}

func (r *RecipientRepository) InsertBatch(ctx context.Context, recipients []*model.Recipient) error {
	if len(recipients) == 0 {
		return nil
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const cols = 8
	var sb strings.Builder
	sb.WriteString(`INSERT INTO disparo_recipients
		(id, campaign_id, phone, message, media_url, media_type, variation_index, created_at) VALUES `)
	args := make([]any, 0, len(recipients)*cols)
	now := time.Now().UTC()
	for i, rec := range recipients {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * cols
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		// Offsetting by position keeps created_at ordering equal to list order.
		created := now.Add(time.Duration(i) * time.Microsecond)
		args = append(args, rec.ID, rec.CampaignID, rec.Phone, rec.Message,
			rec.MediaURL, rec.MediaType, rec.VariationIndex, created)
		rec.Status = model.RecipientPending
		rec.CreatedAt = created
	}

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *RecipientRepository) GetByID(ctx context.Context, id string) (*model.Recipient, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+recipientColumns+` FROM disparo_recipients WHERE id=$1`, id)
	rec, err := scanRecipient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func (r *RecipientRepository) ListPending(ctx context.Context, campaignID string) ([]*model.Recipient, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+recipientColumns+` FROM disparo_recipients
		WHERE campaign_id=$1 AND status='pending'
		ORDER BY created_at, id`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []*model.Recipient{}
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

func (r *RecipientRepository) Transition(ctx context.Context, id string, to model.RecipientStatus, errMsg string, at time.Time) (bool, error) {
	from, ok := model.RecipientSource(to)
	if !ok {
		return false, appErrors.NewInvalidTransition("recipient", id, "", string(to))
	}
	query := `
		UPDATE disparo_recipients SET
			status = $1,
			error_message = CASE WHEN $1 = 'sent' THEN '' WHEN $2 <> '' THEN $2 ELSE error_message END,
			sent_at = CASE WHEN $1 = 'sent' THEN $3 ELSE sent_at END,
			updated_at = $3
		WHERE id = $4 AND status = $5
	`
	res, err := r.DB.ExecContext(ctx, query, string(to), errMsg, at, id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RecipientRepository) RecordAttempt(ctx context.Context, id string, attempt int, errMsg string) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE disparo_recipients SET attempts = GREATEST(attempts, $1), error_message = $2, updated_at = NOW()
		WHERE id = $3 AND status = 'pending'`, attempt, errMsg, id)
	return err
}

func (r *RecipientRepository) Stats(ctx context.Context, campaignID string) (model.RecipientStats, error) {
	var stats model.RecipientStats
	rows, err := r.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM disparo_recipients WHERE campaign_id=$1 GROUP BY status`, campaignID)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		switch model.RecipientStatus(status) {
		case model.RecipientPending:
			stats.Pending = count
		case model.RecipientSent:
			stats.Sent = count
		case model.RecipientFailed:
			stats.Failed = count
		case model.RecipientDelivered:
			stats.Delivered = count
		}
		stats.Total += count
	}
	return stats, rows.Err()
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
