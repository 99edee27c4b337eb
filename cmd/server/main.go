package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"reward_verification_service/internal/infra/bootstrap"
	"reward_verification_service/internal/infra/config"
	"reward_verification_service/internal/infra/httpapi"
	"reward_verification_service/internal/infra/logger"
	"reward_verification_service/internal/infra/scheduler"

	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 20 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("FATAL: Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	mainLogger := logger.Component("main")
	mainLogger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"storage":     cfg.StorageDriver,
		"http_addr":   cfg.HTTPAddr,
		"worker_id":   cfg.WorkerID,
	}).Info("Reward verification service starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background work (preparation jobs, cache sweeper) stops with appCtx.
	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	c, err := bootstrap.Build(appCtx, cfg, bootstrap.Options{StartBot: true, Migrate: true}, logger.Log)
	if err != nil {
		mainLogger.Fatalf("FATAL: Could not initialize application: %v", err)
	}
	defer c.Close()

	rewardScheduler := scheduler.NewRewardScheduler(c.Cycles, c.Payments, c.Outbox, c.Rewards, scheduler.Specs{
		WeeklyCycle:  cfg.CronSpecWeeklyCycle,
		CycleExpiry:  cfg.CronSpecCycleExpiry,
		OverdueSweep: cfg.CronSpecOverdueSweep,
		Outbox:       cfg.CronSpecOutbox,
		LeaseReclaim: cfg.CronSpecLeaseReclaim,
	}, logrus.NewEntry(logger.Log))
	if err := rewardScheduler.Start(); err != nil {
		mainLogger.Fatalf("FATAL: Could not start scheduler: %v", err)
	}

	api := httpapi.NewServer(httpapi.Services{
		Cycles:      c.Cycles,
		Preparation: c.Preparation,
		Exports:     c.Exports,
		Payments:    c.Payments,
		Security:    c.Security,
		Ping:        c.Ping,
	}, cfg.JWTSecret, logrus.NewEntry(logger.Log))
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		mainLogger.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLogger.Fatalf("FATAL: HTTP server failed: %v", err)
		}
	}()

	// Start bot in a goroutine so it doesn't block graceful shutdown handling
	if c.Bot != nil {
		go c.Bot.Start()
		mainLogger.Info("Telegram bot polling started")
	}

	mainLogger.Info("Application setup complete.")
	<-ctx.Done()

	mainLogger.Info("Shutting down application...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		mainLogger.WithError(err).Error("HTTP server shutdown error")
	}
	if c.Bot != nil {
		c.Bot.Stop()
	}
	rewardScheduler.Stop()
	cancelApp()
	c.Preparation.Wait()
	mainLogger.Info("Application shut down gracefully.")
}
