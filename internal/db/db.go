// internal/db/db.go
package db

import (
    "context"
    "database/sql"
    _ "embed"
    "fmt"
    "time"

    _ "github.com/lib/pq"
    "github.com/sirupsen/logrus"
)

//go:embed schema.sql
var schema string

// Init opens and pings the status store.
func Init(dsn string) (*sql.DB, error) {
    conn, err := sql.Open("postgres", dsn)
    if err != nil {
        return nil, fmt.Errorf("failed to connect to DB: %w", err)
    }
    conn.SetMaxOpenConns(25)
    conn.SetMaxIdleConns(5)
    conn.SetConnMaxLifetime(30 * time.Minute)

    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    if err = conn.PingContext(ctx); err != nil {
        conn.Close()
        return nil, fmt.Errorf("failed to ping DB: %w", err)
    }

    logrus.Info("✅ Connected to database")
    return conn, nil
}

// Migrate applies the idempotent schema.
func Migrate(ctx context.Context, conn *sql.DB) error {
    if _, err := conn.ExecContext(ctx, schema); err != nil {
        return fmt.Errorf("apply schema: %w", err)
    }
    return nil
}
