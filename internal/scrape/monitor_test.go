package scrape

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bidscout/bidscout/internal/models"
)

type captureSink struct {
	mu      sync.Mutex
	metrics []models.ScraperRunMetric
	err     error
}

func (s *captureSink) RecordRun(ctx context.Context, m models.ScraperRunMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, m)
	return s.err
}

func (s *captureSink) recorded() []models.ScraperRunMetric {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ScraperRunMetric(nil), s.metrics...)
}

func TestRunScopeEmitsExactlyOnce(t *testing.T) {
	sink := &captureSink{}
	monitor := NewRunMonitor(sink, zap.NewNop())

	scope := monitor.Begin("metro-city-bids")
	scope.SetItems(12)
	scope.Finish(context.Background(), nil)
	scope.Finish(context.Background(), errors.New("late caller"))

	metrics := sink.recorded()
	if len(metrics) != 1 {
		t.Fatalf("expected exactly 1 metric, got %d", len(metrics))
	}

	m := metrics[0]
	if m.Status != models.RunSuccess {
		t.Errorf("expected success, got %s", m.Status)
	}
	if m.ItemsScraped != 12 {
		t.Errorf("expected 12 items, got %d", m.ItemsScraped)
	}
	if m.Source != "metro-city-bids" {
		t.Errorf("expected source metro-city-bids, got %s", m.Source)
	}
	if m.RunID == "" {
		t.Error("expected a run id")
	}
	if m.ScraperVersion != ScraperVersion {
		t.Errorf("expected scraper version %s, got %s", ScraperVersion, m.ScraperVersion)
	}
}

func TestRunScopeClassifiesOutcome(t *testing.T) {
	tests := []struct {
		name     string
		items    int
		err      error
		expected models.RunStatus
	}{
		{"No error is success", 10, nil, models.RunSuccess},
		{"Error with items is partial", 5, errors.New("page 3 failed"), models.RunPartial},
		{"Error with no items is failure", 0, errors.New("unreachable"), models.RunFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &captureSink{}
			scope := NewRunMonitor(sink, zap.NewNop()).Begin("src")
			scope.SetItems(tt.items)
			scope.Finish(context.Background(), tt.err)

			metrics := sink.recorded()
			if len(metrics) != 1 {
				t.Fatalf("expected 1 metric, got %d", len(metrics))
			}
			if metrics[0].Status != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, metrics[0].Status)
			}
			if tt.err != nil && metrics[0].Error == "" {
				t.Error("expected error text to be captured")
			}
		})
	}
}

func TestRunScopeExplicitStatusWins(t *testing.T) {
	sink := &captureSink{}
	scope := NewRunMonitor(sink, zap.NewNop()).Begin("src")
	scope.SetItems(8)
	scope.SetStatus(models.RunPartial)
	scope.SetError(errors.New("2 pages failed"))
	scope.Finish(context.Background(), nil)

	metrics := sink.recorded()
	if metrics[0].Status != models.RunPartial {
		t.Errorf("expected pinned partial status, got %s", metrics[0].Status)
	}
	if metrics[0].Error != "2 pages failed" {
		t.Errorf("expected captured error text, got %q", metrics[0].Error)
	}
}

func TestRunScopeDuration(t *testing.T) {
	sink := &captureSink{}
	monitor := NewRunMonitor(sink, zap.NewNop())

	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	times := []time.Time{start, start.Add(90 * time.Second)}
	idx := 0
	monitor.now = func() time.Time {
		t := times[idx]
		if idx < len(times)-1 {
			idx++
		}
		return t
	}

	scope := monitor.Begin("src")
	scope.Finish(context.Background(), nil)

	m := sink.recorded()[0]
	if m.Duration != 90*time.Second {
		t.Errorf("expected 90s duration, got %v", m.Duration)
	}
	if !m.StartedAt.Equal(start) {
		t.Errorf("expected start %v, got %v", start, m.StartedAt)
	}
	if !m.CompletedAt.Equal(start.Add(90 * time.Second)) {
		t.Errorf("unexpected completion time %v", m.CompletedAt)
	}
}

func TestRunScopeSinkFailureIsSwallowed(t *testing.T) {
	sink := &captureSink{err: errors.New("db down")}
	scope := NewRunMonitor(sink, zap.NewNop()).Begin("src")

	// Finish must not panic or propagate the sink failure.
	scope.Finish(context.Background(), nil)
	if len(sink.recorded()) != 1 {
		t.Fatal("expected the metric to still be offered to the sink")
	}
}
