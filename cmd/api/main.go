package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	api "reddit-lead-generator/internal/api"
	"reddit-lead-generator/internal/auth"
	"reddit-lead-generator/internal/billing"
	"reddit-lead-generator/internal/config"
	"reddit-lead-generator/internal/generation"
	"reddit-lead-generator/internal/logger"
	"reddit-lead-generator/internal/ratelimit"
	"reddit-lead-generator/internal/store"
)

func main() {
	cfg := config.Load()
	log := logger.Init(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
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

	redisLimiter := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisLimiter.Close()
	limiter := ratelimit.NewTokenBucket(redisLimiter, "rl:generate", cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	server := api.New(cfg, st, gen, billing.NewService(st, cfg), limiter, auth.NewVerifier(cfg.SupabaseJWTSecret))
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("api listening", "port", cfg.HTTPPort, "env", cfg.Env)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
