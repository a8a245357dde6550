package scrape

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bidscout/bidscout/internal/models"
)

// Persister receives the canonical opportunities a run produced. Duplicates
// are filtered out before this point.
type Persister interface {
	SaveOpportunities(ctx context.Context, opps []models.Opportunity) (int, error)
}

// SourceReport summarizes one adapter's run for the aggregate report.
type SourceReport struct {
	Source     string           `json:"source"`
	RunID      string           `json:"run_id"`
	Status     models.RunStatus `json:"status"`
	Items      int              `json:"items"`
	New        int              `json:"new"`
	Changed    int              `json:"changed"`
	Duplicates int              `json:"duplicates"`
	Dropped    int              `json:"dropped"`
	Pages      int              `json:"pages"`
	Saved      int              `json:"saved"`
	Duration   time.Duration    `json:"duration"`
	Error      string           `json:"error,omitempty"`
}

// RunReport aggregates every source's outcome for one orchestrator pass.
type RunReport struct {
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Sources     []SourceReport `json:"sources"`
}

// Failed counts sources that produced nothing.
func (r *RunReport) Failed() int {
	n := 0
	for _, s := range r.Sources {
		if s.Status == models.RunFailure {
			n++
		}
	}
	return n
}

// OrchestratorConfig tunes the shared run machinery. Zero values fall back
// to conservative defaults.
type OrchestratorConfig struct {
	Workers        int
	AdapterTimeout time.Duration
	Backoff        BackoffPolicy
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.AdapterTimeout <= 0 {
		c.AdapterTimeout = 5 * time.Minute
	}
	if c.Backoff.MaxAttempts == 0 {
		c.Backoff = DefaultBackoff()
	}
	return c
}

// Orchestrator fans adapter runs out over a bounded worker pool. Each
// adapter gets its own deadline, retry wrapper and run scope; one source
// failing, hanging or panicking never disturbs the others.
type Orchestrator struct {
	adapters  []Adapter
	store     FingerprintStore
	persister Persister
	monitor   *RunMonitor
	logger    *zap.Logger
	cfg       OrchestratorConfig
}

func NewOrchestrator(adapters []Adapter, store FingerprintStore, persister Persister, monitor *RunMonitor, logger *zap.Logger, cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		adapters:  adapters,
		store:     store,
		persister: persister,
		monitor:   monitor,
		logger:    logger,
		cfg:       cfg.withDefaults(),
	}
}

// AdaptersFromRegistry builds one adapter per active source.
func AdaptersFromRegistry(reg *Registry, logger *zap.Logger) []Adapter {
	var adapters []Adapter
	for _, src := range reg.Sources {
		if !src.IsActive() {
			continue
		}
		switch src.Adapter {
		case AdapterBrowser:
			adapters = append(adapters, NewBrowserAdapter(src, logger))
		default:
			fetcher := NewCollyFetcher().WithFetchConfig(src.Fetch)
			adapters = append(adapters, NewHTMLAdapter(src, fetcher, logger))
		}
	}
	return adapters
}

// RunAll scrapes every registered source concurrently and returns the
// aggregate report once all sources have finished.
func (o *Orchestrator) RunAll(ctx context.Context) *RunReport {
	report := &RunReport{StartedAt: time.Now().UTC()}
	reports := make([]SourceReport, len(o.adapters))

	sem := make(chan struct{}, o.cfg.Workers)
	var wg sync.WaitGroup
	for i, adapter := range o.adapters {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			reports[i] = o.runOne(ctx, adapter)
		}()
	}
	wg.Wait()

	report.Sources = reports
	report.CompletedAt = time.Now().UTC()

	o.logger.Info("orchestrator pass complete",
		zap.Int("sources", len(reports)),
		zap.Int("failed", report.Failed()),
		zap.Duration("duration", report.CompletedAt.Sub(report.StartedAt)),
	)
	return report
}

// RunSource scrapes a single source by id.
func (o *Orchestrator) RunSource(ctx context.Context, sourceID string) (*SourceReport, error) {
	for _, adapter := range o.adapters {
		if adapter.Source() == sourceID {
			r := o.runOne(ctx, adapter)
			return &r, nil
		}
	}
	return nil, fmt.Errorf("unknown source %q", sourceID)
}

// runOne executes one adapter end to end: bounded fetch with retries,
// dedup and classification, persistence, and exactly one emitted metric.
func (o *Orchestrator) runOne(ctx context.Context, adapter Adapter) (report SourceReport) {
	source := adapter.Source()
	scope := o.monitor.Begin(source)
	started := time.Now()

	report = SourceReport{Source: source, RunID: scope.RunID()}

	defer func() {
		if recovered := recover(); recovered != nil {
			err := fmt.Errorf("adapter panic: %v", recovered)
			o.logger.Error("adapter panicked", zap.String("source", source), zap.Any("panic", recovered))
			scope.Finish(ctx, err)
			report.Status = models.RunFailure
			report.Error = err.Error()
		}
		report.Duration = time.Since(started)
	}()

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.AdapterTimeout)
	defer cancel()

	var result *FetchResult
	err := Retry(runCtx, o.cfg.Backoff, o.logger, "scrape "+source, func(ctx context.Context) error {
		r, err := adapter.Fetch(ctx)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		scope.Finish(ctx, err)
		report.Status = models.RunFailure
		report.Error = err.Error()
		return report
	}

	opps, stats := o.classifyItems(runCtx, source, result.Items)
	report.Items = len(result.Items)
	report.New = stats.added
	report.Changed = stats.changed
	report.Duplicates = stats.duplicates
	report.Dropped = result.Dropped
	report.Pages = result.PagesFetched

	if len(opps) > 0 && o.persister != nil {
		saved, err := o.persister.SaveOpportunities(runCtx, opps)
		if err != nil {
			// Items were scraped but could not be stored. The run still
			// counts as partial so the scrape effort is visible.
			result.PageErrors = append(result.PageErrors, fmt.Errorf("persist: %w", err))
		}
		report.Saved = saved
	}

	scope.SetItems(len(result.Items))
	if len(result.PageErrors) > 0 {
		pageErr := errors.Join(result.PageErrors...)
		scope.SetStatus(models.RunPartial)
		scope.SetError(pageErr)
		report.Status = models.RunPartial
		report.Error = pageErr.Error()
	} else {
		report.Status = models.RunSuccess
	}
	scope.Finish(ctx, nil)
	return report
}

type classifyStats struct {
	added      int
	changed    int
	duplicates int
}

// classifyItems filters run-local duplicates, classifies the rest against
// the fingerprint store and converts survivors to the canonical shape.
// Exact duplicates are dropped here; new and changed items pass through.
func (o *Orchestrator) classifyItems(ctx context.Context, source string, items []RawOpportunity) ([]models.Opportunity, classifyStats) {
	deduper := NewDeduper()
	var opps []models.Opportunity
	var stats classifyStats

	for _, item := range items {
		fp := Fingerprint(item)
		if deduper.Seen(fp) {
			stats.duplicates++
			continue
		}

		hash := ContentHash(item)
		class, err := Classify(ctx, o.store, fp, hash)
		if err != nil {
			o.logger.Warn("fingerprint lookup failed, treating item as new",
				zap.String("source", source), zap.Error(err))
		}

		switch class {
		case models.ClassificationDuplicate:
			stats.duplicates++
			continue
		case models.ClassificationChanged:
			stats.changed++
		default:
			stats.added++
		}

		opps = append(opps, toOpportunity(item, fp, hash, class))
	}
	return opps, stats
}

func toOpportunity(r RawOpportunity, fp, hash string, class models.Classification) models.Opportunity {
	return models.Opportunity{
		Source:         r.Source,
		Fingerprint:    fp,
		ContentHash:    hash,
		ExternalID:     r.ExternalID,
		Title:          r.Title,
		Agency:         r.Agency,
		Summary:        r.Summary,
		DueAt:          r.DueDate.TimePtr(),
		PostedAt:       r.PostedDate.TimePtr(),
		SourceURL:      r.SourceURL,
		Attachments:    r.Attachments,
		Classification: class,
	}
}
