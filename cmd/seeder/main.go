//cmd/seeder/main.go
package main

import (
    "context"
    "fmt"
    "os"

    "github.com/sirupsen/logrus"

    "github.com/unclebandit/disparo-dispatch/internal/config"
    "github.com/unclebandit/disparo-dispatch/internal/db"
)

func main() {
    cfg := config.Load()
    config.ConfigureLogging(cfg.LogLevel)
    ctx := context.Background()

    conn, err := db.Init(cfg.DatabaseURL)
    if err != nil {
        logrus.Fatal(err)
    }
    defer conn.Close()

    if err := db.Migrate(ctx, conn); err != nil {
        logrus.Fatal(err)
    }
    fmt.Println("Schema applied")

    seedFiles := []string{
        "seed/connections.sql",
        "seed/campaigns.sql",
    }

    for _, file := range seedFiles {
        content, err := os.ReadFile(file)
        if err != nil {
            logrus.Fatalf("failed to read %s: %v", file, err)
        }

        if _, err := conn.ExecContext(ctx, string(content)); err != nil {
            logrus.Fatalf("failed to execute %s: %v", file, err)
        }
        fmt.Printf("Seeded: %s\n", file)
    }

    fmt.Println("Database seeding completed successfully!")
}
