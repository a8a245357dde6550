package monitoring

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bidscout/bidscout/internal/models"
)

// Metrics holds the Prometheus instruments for the scrape pipeline.
type Metrics struct {
	RunsTotal    *prometheus.CounterVec
	ItemsScraped *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bidscout_scrape_runs_total",
			Help: "Total number of scrape runs by source and outcome.",
		}, []string{"source", "status"}),
		ItemsScraped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bidscout_items_scraped_total",
			Help: "Total number of items scraped by source.",
		}, []string{"source"}),
		RunDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bidscout_scrape_run_duration_seconds",
			Help:    "Duration of scrape runs by source.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"source"}),
	}
}

// Observe records one finished run.
func (m *Metrics) Observe(metric models.ScraperRunMetric) {
	m.RunsTotal.WithLabelValues(metric.Source, string(metric.Status)).Inc()
	m.ItemsScraped.WithLabelValues(metric.Source).Add(float64(metric.ItemsScraped))
	m.RunDuration.WithLabelValues(metric.Source).Observe(metric.Duration.Seconds())
}

// RunRecorder is the persistence half of metric handling, normally the
// database store.
type RunRecorder interface {
	RecordRun(ctx context.Context, m models.ScraperRunMetric) error
}

// RunSink forwards run metrics to Prometheus and then to the persistent
// recorder. It lets observation ride alongside persistence without coupling
// either side.
type RunSink struct {
	metrics *Metrics
	next    RunRecorder
}

func NewRunSink(metrics *Metrics, next RunRecorder) *RunSink {
	return &RunSink{metrics: metrics, next: next}
}

func (s *RunSink) RecordRun(ctx context.Context, m models.ScraperRunMetric) error {
	if s.metrics != nil {
		s.metrics.Observe(m)
	}
	if s.next == nil {
		return nil
	}
	return s.next.RecordRun(ctx, m)
}
