// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/disparo-dispatch/internal/config"
	"github.com/unclebandit/disparo-dispatch/internal/db"
	"github.com/unclebandit/disparo-dispatch/internal/delivery"
	"github.com/unclebandit/disparo-dispatch/internal/queue"
	"github.com/unclebandit/disparo-dispatch/internal/repository"
	"github.com/unclebandit/disparo-dispatch/internal/service"
)

func main() {
	cfg := config.Load()
	config.ConfigureLogging(cfg.LogLevel)
	flush := config.InitSentry(cfg.SentryDSN, "disparo-worker")
	defer flush()

	if cfg.QueueBackend == queue.BackendMemory {
		logrus.Fatal("the worker needs a shared queue; with QUEUE_BACKEND=memory run cmd/server instead")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Init(cfg.DatabaseURL)
	if err != nil {
		logrus.Fatal(err)
	}
	defer conn.Close()

	broker, registry, err := queue.Open(ctx, cfg.QueueOptions())
	if err != nil {
		logrus.Fatal(err)
	}
	defer broker.Close()
	go queue.RunPurger(ctx, registry, time.Minute)

	pool := service.NewWorkerPool(
		broker,
		&repository.CampaignRepository{DB: conn},
		&repository.RecipientRepository{DB: conn},
		delivery.NewClient(cfg.TransportURL, cfg.TransportTimeout),
		service.NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		cfg.Backoff(),
		cfg.WorkerConcurrency,
	)

	logrus.Info("Worker running, waiting for messages...")
	if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logrus.Fatal(err)
	}
	logrus.Info("👋 Worker stopped")
}
