package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/warden-gate/warden-gate/internal/app"
	"github.com/warden-gate/warden-gate/internal/audit"
	"github.com/warden-gate/warden-gate/internal/authz"
	"github.com/warden-gate/warden-gate/internal/observability"
	"github.com/warden-gate/warden-gate/internal/platform/cache"
	"github.com/warden-gate/warden-gate/internal/platform/db"
	"github.com/warden-gate/warden-gate/internal/shared"
	"github.com/warden-gate/warden-gate/internal/store"
	"github.com/warden-gate/warden-gate/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	repo := store.NewRepository(dbpool)
	dispatcher := audit.NewDispatcher(jobClient, repo, logger)
	historyService := audit.NewService(repo)

	gate := authz.NewGate(repo, cfg.PrivilegedRoles)
	lock := shared.NewReconcileLock(redisClient, cfg.ReconcileLockTTL)
	reconciler := authz.NewReconciler(repo, gate, lock, logger, cfg.ApplyConcurrency)
	decisions := authz.NewDecisionEngine(repo, dispatcher, logger)

	metrics := observability.NewMetrics()
	authzHandler := authz.NewHandler(logger, reconciler, decisions, historyService, gate, metrics)
	jobHandler := jobs.NewHandler(asynq.NewInspector(redisOpts), logger)

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		AuthzHandler: authzHandler,
		JobHandler:   jobHandler,
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("warden listening", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", slog.Any("error", err))
	}
	logger.Info("warden stopped")
}
