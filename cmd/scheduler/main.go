// cmd/scheduler/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/disparo-dispatch/internal/config"
	"github.com/unclebandit/disparo-dispatch/internal/db"
	"github.com/unclebandit/disparo-dispatch/internal/producer"
	"github.com/unclebandit/disparo-dispatch/internal/repository"
	"github.com/unclebandit/disparo-dispatch/internal/service"
)

func main() {
	cfg := config.Load()
	config.ConfigureLogging(cfg.LogLevel)
	flush := config.InitSentry(cfg.SentryDSN, "disparo-scheduler")
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Init(cfg.DatabaseURL)
	if err != nil {
		logrus.Fatal(err)
	}
	defer conn.Close()

	scheduler := &service.CampaignScheduler{
		CampaignRepo:   &repository.CampaignRepository{DB: conn},
		RecipientRepo:  &repository.RecipientRepository{DB: conn},
		ConnectionRepo: &repository.ConnectionRepository{DB: conn},
		Submitter:      producer.NewClient(cfg.ProducerURL, cfg.ProducerTimeout),
		Buffer:         cfg.ScheduleBuffer,
		ManualBuffer:   cfg.ManualTriggerBuffer,
		ChunkSize:      cfg.SubmitChunkSize,
	}

	// Sweeps never overlap.
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	spec := "@every " + cfg.ScheduleInterval.String()
	if _, err := c.AddFunc(spec, func() {
		if _, err := scheduler.RunSweep(ctx, time.Now().UTC()); err != nil {
			logrus.WithError(err).Error("❌ Scheduler sweep failed")
		}
	}); err != nil {
		logrus.Fatalf("invalid schedule %q: %v", spec, err)
	}
	c.Start()
	logrus.Infof("🕒 Scheduler running every %s", cfg.ScheduleInterval)

	<-ctx.Done()
	<-c.Stop().Done()
	logrus.Info("👋 Scheduler stopped")
}
