package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/disparo-dispatch/internal/model"
)

type ConnectionRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*model.Connection, error)
}

type ConnectionRepository struct {
	DB *sql.DB
}

// GetByID returns nil, nil when the connection does not exist.
func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*model.Connection, error) {
	query := `
        SELECT id, tenant_id, name, token, status
        FROM connections
        WHERE id = $1
    `
	var c model.Connection
	if err := r.DB.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.TenantID, &c.Name, &c.Token, &c.Status); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // not found
		}
		return nil, err
	}
	return &c, nil
}

var _ ConnectionRepositoryInterface = (*ConnectionRepository)(nil)
