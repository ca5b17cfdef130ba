package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/database"
	"github.com/stemsi/exstem-grader/internal/handler"
	"github.com/stemsi/exstem-grader/internal/logger"
	"github.com/stemsi/exstem-grader/internal/metrics"
	"github.com/stemsi/exstem-grader/internal/middleware"
	"github.com/stemsi/exstem-grader/internal/repository"
	"github.com/stemsi/exstem-grader/internal/router"
	"github.com/stemsi/exstem-grader/internal/service"
	"github.com/stemsi/exstem-grader/internal/validator"
	"github.com/stemsi/exstem-grader/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Grader")

	// ─── Initialize Validator & Metrics ────────────────────────────────
	validator.Setup()
	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	examRepo := repository.NewExamRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	clock := service.SystemClock{}
	catalog := service.NewExamCatalog(examRepo, rdb, log)
	locker := service.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
	events := service.NewRedisEventPublisher(rdb, log)

	attemptService := service.NewAttemptService(catalog, attemptRepo, locker, events, clock, log)
	monitorService := service.NewMonitorService(attemptRepo)
	tokenService := service.NewTokenService(cfg, clock)

	// Answer saves are limited per attempt, shared by HTTP and WebSocket.
	saveLimiter := middleware.NewRateLimiter(cfg.SaveRatePerMinute, time.Minute, router.SaveLimiterKey)
	limiterStop := make(chan struct{})
	saveLimiter.StartCleanup(time.Minute, 10*time.Minute, limiterStop)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Attempt:      handler.NewAttemptHandler(attemptService, tokenService, log),
		AdminAttempt: handler.NewAdminAttemptHandler(attemptService, monitorService, log),
		Monitor:      handler.NewMonitorHandler(rdb, attemptService, monitorService, log),
		WS:           handler.NewWSHandler(attemptService, saveLimiter, log, cfg.AllowedOrigins),
		System:       handler.NewSystemHandler(pool, rdb, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	expiryWorker := worker.NewExpiryWorker(attemptService, cfg.ExpirySweepInterval, cfg.ExpirySweepBatch, log)
	workerDone := make(chan struct{})
	go func() {
		expiryWorker.Start(workerCtx)
		close(workerDone)
	}()

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load current versions of published exams before accepting traffic.
	if err := catalog.Prewarm(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(tokenService, saveLimiter, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background work.
	workerCancel()
	close(limiterStop)
	select {
	case <-workerDone:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Expiry worker did not stop in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
