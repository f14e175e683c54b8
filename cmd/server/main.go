// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/disparo-dispatch/internal/config"
	"github.com/unclebandit/disparo-dispatch/internal/controller"
	"github.com/unclebandit/disparo-dispatch/internal/db"
	"github.com/unclebandit/disparo-dispatch/internal/delivery"
	"github.com/unclebandit/disparo-dispatch/internal/handler"
	"github.com/unclebandit/disparo-dispatch/internal/queue"
	"github.com/unclebandit/disparo-dispatch/internal/repository"
	"github.com/unclebandit/disparo-dispatch/internal/service"
)

func main() {
	cfg := config.Load()
	config.ConfigureLogging(cfg.LogLevel)
	flush := config.InitSentry(cfg.SentryDSN, "disparo-server")
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init DB
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

	campaignRepo := &repository.CampaignRepository{DB: conn}
	recipientRepo := &repository.RecipientRepository{DB: conn}
	connectionRepo := &repository.ConnectionRepository{DB: conn}

	producer := &service.ProducerService{Queue: broker}
	scheduler := &service.CampaignScheduler{
		CampaignRepo:   campaignRepo,
		RecipientRepo:  recipientRepo,
		ConnectionRepo: connectionRepo,
		Submitter:      producer,
		Buffer:         cfg.ScheduleBuffer,
		ManualBuffer:   cfg.ManualTriggerBuffer,
		ChunkSize:      cfg.SubmitChunkSize,
	}
	campaignService := &service.CampaignService{
		CampaignRepo:  campaignRepo,
		RecipientRepo: recipientRepo,
		Scheduler:     scheduler,
	}
	loader := service.NewRecipientLoader(campaignRepo, recipientRepo, service.LoaderConfig{
		BatchSize:  cfg.LoaderBatchSize,
		BatchDelay: cfg.LoaderBatchDelay,
		MaxRetries: cfg.LoaderMaxRetries,
		RetryDelay: cfg.LoaderRetryDelay,
	})

	router := handler.NewRouter(handler.Routes{
		Dispatch: &controller.DispatchController{Producer: producer},
		Campaigns: &controller.CampaignController{
			CampaignService: campaignService,
			Loader:          loader,
			Scheduler:       scheduler,
		},
		Details: &handler.CampaignHandler{Service: campaignService},
	})

	// The in-memory queue is not shared between processes, so workers and
	// the scheduler run here.
	if cfg.QueueBackend == queue.BackendMemory {
		pool := service.NewWorkerPool(broker, campaignRepo, recipientRepo,
			delivery.NewClient(cfg.TransportURL, cfg.TransportTimeout),
			service.NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
			cfg.Backoff(), cfg.WorkerConcurrency)
		go pool.Run(ctx)

		c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
		c.AddFunc("@every "+cfg.ScheduleInterval.String(), func() {
			if _, err := scheduler.RunSweep(ctx, time.Now().UTC()); err != nil {
				logrus.WithError(err).Error("❌ Scheduler sweep failed")
			}
		})
		c.Start()
		defer c.Stop()
	}

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logrus.Infof("🚀 Server running on :%s", cfg.ServerPort)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.Fatal(err)
	}
}
