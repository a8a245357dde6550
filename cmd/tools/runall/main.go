package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"

	"github.com/bidscout/bidscout/internal/config"
	"github.com/bidscout/bidscout/internal/db"
	"github.com/bidscout/bidscout/internal/logging"
	"github.com/bidscout/bidscout/internal/monitoring"
	"github.com/bidscout/bidscout/internal/scrape"
)

// One-shot scrape pass from the command line, for cron jobs and manual runs.
func main() {
	source := flag.String("source", "", "scrape a single source id instead of all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
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

	registry, err := scrape.LoadRegistry(cfg.SourcesFile)
	if err != nil {
		logger.Fatal("failed to load source registry", zap.Error(err))
	}

	sink := monitoring.NewRunSink(monitoring.NewMetrics(), store)
	monitor := scrape.NewRunMonitor(sink, logger)

	backoff := scrape.DefaultBackoff()
	if cfg.MaxRetries > 0 {
		backoff.MaxAttempts = cfg.MaxRetries
	}
	orch := scrape.NewOrchestrator(
		scrape.AdaptersFromRegistry(registry, logger),
		store, store, monitor, logger,
		scrape.OrchestratorConfig{
			Workers:        cfg.Workers,
			AdapterTimeout: time.Duration(cfg.AdapterTimeoutSecs) * time.Second,
			Backoff:        backoff,
		},
	)

	var report *scrape.RunReport
	if *source != "" {
		sr, err := orch.RunSource(ctx, *source)
		if err != nil {
			logger.Fatal("scrape failed", zap.Error(err))
		}
		report = &scrape.RunReport{Sources: []scrape.SourceReport{*sr}}
	} else {
		report = orch.RunAll(ctx)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Source", "Status", "Items", "New", "Changed", "Dupes", "Dropped", "Pages", "Saved", "Duration", "Error"})
	for _, s := range report.Sources {
		errText := s.Error
		if len(errText) > 50 {
			errText = errText[:47] + "..."
		}
		t.AppendRow(table.Row{
			s.Source, s.Status, s.Items, s.New, s.Changed, s.Duplicates,
			s.Dropped, s.Pages, s.Saved, s.Duration.Round(time.Millisecond), errText,
		})
	}
	t.Render()

	if report.Failed() > 0 {
		os.Exit(1)
	}
}
