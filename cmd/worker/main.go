package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"reddit-lead-generator/internal/config"
	"reddit-lead-generator/internal/generation"
	"reddit-lead-generator/internal/logger"
	"reddit-lead-generator/internal/queue"
	"reddit-lead-generator/internal/store"
	"reddit-lead-generator/internal/telemetry"
	workerproc "reddit-lead-generator/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.Init(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Error("migrations", "error", err)
		os.Exit(1)
	}

	gen, err := generation.FromConfig(ctx, cfg, st)
	if err != nil {
		log.Error("init generation", "error", err)
		os.Exit(1)
	}

	q := queue.NewRedisQueue(cfg)
	defer q.Close()

	// Generate a unique worker ID from hostname or env var
	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	processor := workerproc.NewProcessorWithID(cfg, q, st, gen, workerID)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Warn("metrics server stopped", "error", err)
		}
	}()

	log.Info("worker started",
		"worker_id", workerID,
		"sweep_interval", cfg.SweepInterval.String(),
		"visibility", cfg.VisibilityTimeout.String(),
		"backoff_initial", cfg.BackoffInitial.String(),
	)
	if err := processor.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	log.Info("worker stopped")
}
