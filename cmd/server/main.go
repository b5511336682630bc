package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"storefront/backend/internal/config"
	"storefront/backend/internal/httpapi"
	"storefront/backend/internal/service"
	"storefront/backend/internal/settings"
	"storefront/backend/internal/store"
	"storefront/backend/internal/store/memory"
	pgstore "storefront/backend/internal/store/postgres"
	"storefront/backend/internal/webhook"
)

func main() {
	cfg, envErr := config.Load()

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger setup failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	if envErr != nil {
		logger.Warn("could not load .env file, using process environment", zap.Error(envErr))
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	closingLoc, _ := cfg.ClosingLocation()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("schema migration failed", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	provider, err := newSettingsProvider(cfg)
	if err != nil {
		logger.Fatal("settings unavailable", zap.Error(err))
	}

	runCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	notifier, queueCloser := newNotifier(ctx, runCtx, cfg)
	if queueCloser != nil {
		closers = append(closers, queueCloser)
	}

	svc := service.New(repo, provider, notifier, closingLoc)
	auth := httpapi.NewAuthManager(cfg.AuthSecret)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("storefront backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	stopWorkers()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newSettingsProvider(cfg config.Config) (settings.Provider, error) {
	if cfg.SettingsFile == "" {
		zap.L().Info("settings: built-in defaults")
		return settings.Static(settings.DefaultSnapshot()), nil
	}
	provider, err := settings.NewFileProvider(cfg.SettingsFile)
	if err != nil {
		return nil, err
	}
	zap.L().Info("settings: file", zap.String("path", cfg.SettingsFile))
	return provider, nil
}

// newNotifier picks the webhook queue and starts its delivery worker. Without
// a WEBHOOK_URL events are dropped. The returned closer, if any, releases the
// queue's connection.
func newNotifier(setupCtx context.Context, runCtx context.Context, cfg config.Config) (webhook.Notifier, func() error) {
	if cfg.WebhookURL == "" {
		zap.L().Info("webhooks: disabled")
		return webhook.Discard{}, nil
	}

	var (
		queue  webhook.Queue
		closer func() error
	)
	if cfg.RedisAddr != "" {
		redisQueue := webhook.NewRedisQueue(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.WebhookQueueSize)
		if err := redisQueue.Ping(setupCtx); err != nil {
			zap.L().Warn("redis unavailable, using in-process webhook queue", zap.Error(err))
			_ = redisQueue.Close()
		} else {
			queue = redisQueue
			closer = redisQueue.Close
			zap.L().Info("webhooks: redis queue", zap.String("addr", cfg.RedisAddr))
		}
	}
	if queue == nil {
		queue = webhook.NewMemoryQueue(cfg.WebhookQueueSize)
		zap.L().Info("webhooks: in-process queue", zap.Int("size", cfg.WebhookQueueSize))
	}

	worker := webhook.NewWorker(queue, webhook.WorkerConfig{
		URL:         cfg.WebhookURL,
		Secret:      cfg.WebhookSecret,
		Timeout:     cfg.WebhookTimeout,
		MaxAttempts: cfg.WebhookMaxAttempts,
	})
	go worker.Run(runCtx)

	return webhook.NewDispatcher(queue), closer
}
