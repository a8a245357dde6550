package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bidscout/bidscout/internal/api"
	"github.com/bidscout/bidscout/internal/cache"
	"github.com/bidscout/bidscout/internal/config"
	"github.com/bidscout/bidscout/internal/db"
	"github.com/bidscout/bidscout/internal/logging"
	"github.com/bidscout/bidscout/internal/monitoring"
	"github.com/bidscout/bidscout/internal/scrape"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool, logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	store := db.NewStore(pool)

	// Redis is optional: without it fingerprint lookups hit Postgres only.
	var fpStore scrape.FingerprintStore = store
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, fingerprint cache disabled", zap.Error(err))
		} else {
			ttl := time.Duration(cfg.FingerprintTTLHrs) * time.Hour
			fpCache := cache.NewFingerprintCache(client, ttl, logger)
			fpStore = cache.NewCachedFingerprints(fpCache, store)
		}
	}

	registry, err := scrape.LoadRegistry(cfg.SourcesFile)
	if err != nil {
		logger.Fatal("failed to load source registry", zap.Error(err))
	}

	metrics := monitoring.NewMetrics()
	sink := monitoring.NewRunSink(metrics, store)
	monitor := scrape.NewRunMonitor(sink, logger)

	backoff := scrape.DefaultBackoff()
	if cfg.MaxRetries > 0 {
		backoff.MaxAttempts = cfg.MaxRetries
	}
	orch := scrape.NewOrchestrator(
		scrape.AdaptersFromRegistry(registry, logger),
		fpStore, store, monitor, logger,
		scrape.OrchestratorConfig{
			Workers:        cfg.Workers,
			AdapterTimeout: time.Duration(cfg.AdapterTimeoutSecs) * time.Second,
			Backoff:        backoff,
		},
	)

	srv := api.NewServer(store, orch, cfg.AdminSecret, logger)

	go func() {
		logger.Info("server starting", zap.String("port", cfg.ServerPort))
		if err := srv.Start(cfg.ServerPort); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
