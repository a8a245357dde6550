package scrape

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bidscout/bidscout/internal/models"
)

// MetricSink receives one immutable ScraperRunMetric per adapter invocation.
// Writes are safe to issue concurrently: each record is complete on arrival.
type MetricSink interface {
	RecordRun(ctx context.Context, m models.ScraperRunMetric) error
}

// RunMonitor builds per-run scopes. One scope wraps one adapter invocation
// and is guaranteed to emit exactly one metric however the run exits.
type RunMonitor struct {
	sink    MetricSink
	logger  *zap.Logger
	version string
	now     func() time.Time
}

func NewRunMonitor(sink MetricSink, logger *zap.Logger) *RunMonitor {
	return &RunMonitor{
		sink:    sink,
		logger:  logger,
		version: ScraperVersion,
		now:     time.Now,
	}
}

// Begin opens a scope for one adapter run and records its start time.
func (m *RunMonitor) Begin(source string) *RunScope {
	return &RunScope{
		monitor: m,
		metric: models.ScraperRunMetric{
			RunID:          uuid.NewString(),
			Source:         source,
			Status:         models.RunFailure,
			ScraperVersion: m.version,
			StartedAt:      m.now().UTC(),
		},
	}
}

// RunScope is the scoped instrumentation around one adapter run.
type RunScope struct {
	monitor  *RunMonitor
	metric   models.ScraperRunMetric
	items    int
	status   models.RunStatus
	decided  bool
	errText  string
	emitOnce sync.Once
}

func (s *RunScope) RunID() string { return s.metric.RunID }

// SetItems records how many items the run collected.
func (s *RunScope) SetItems(n int) { s.items = n }

// SetStatus pins the run outcome explicitly. Without it, Finish classifies
// from the error passed to it.
func (s *RunScope) SetStatus(status models.RunStatus) {
	s.status = status
	s.decided = true
}

// SetError captures the failure text without deciding the outcome.
func (s *RunScope) SetError(err error) {
	if err != nil {
		s.errText = err.Error()
	}
}

// Finish closes the scope and emits the metric. Idempotent, so it is safe
// both deferred and called explicitly; only the first call emits. Every run,
// including one that panicked past its adapter, leaves exactly one record.
func (s *RunScope) Finish(ctx context.Context, runErr error) {
	s.emitOnce.Do(func() {
		completed := s.monitor.now().UTC()
		status := s.status
		if !s.decided {
			status = classifyOutcome(s.items, runErr)
		}
		if runErr != nil && s.errText == "" {
			s.errText = runErr.Error()
		}

		s.metric.Status = status
		s.metric.ItemsScraped = s.items
		s.metric.CompletedAt = completed
		s.metric.Duration = completed.Sub(s.metric.StartedAt)
		s.metric.Error = s.errText

		if err := s.monitor.sink.RecordRun(ctx, s.metric); err != nil {
			s.monitor.logger.Error("failed to record run metric",
				zap.String("source", s.metric.Source),
				zap.String("run_id", s.metric.RunID),
				zap.Error(err),
			)
		}

		s.monitor.logger.Info("scrape run finished",
			zap.String("source", s.metric.Source),
			zap.String("run_id", s.metric.RunID),
			zap.String("status", string(status)),
			zap.Int("items", s.items),
			zap.Duration("duration", s.metric.Duration),
		)
	})
}

func classifyOutcome(items int, err error) models.RunStatus {
	switch {
	case err == nil:
		return models.RunSuccess
	case items > 0:
		return models.RunPartial
	default:
		return models.RunFailure
	}
}
