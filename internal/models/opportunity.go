package models

import (
	"time"
)

// Classification is the dedup outcome assigned to an opportunity within a run.
type Classification string

const (
	ClassificationNew       Classification = "new"
	ClassificationChanged   Classification = "changed"
	ClassificationDuplicate Classification = "duplicate"
)

// Opportunity is the canonical record handed to the persistence layer.
// first_seen/last_seen are owned by the database, not computed here.
type Opportunity struct {
	Source         string         `json:"source"`
	Fingerprint    string         `json:"fingerprint"`
	ContentHash    string         `json:"content_hash"`
	ExternalID     string         `json:"external_id"`
	Title          string         `json:"title"`
	Agency         string         `json:"agency"`
	Summary        string         `json:"summary"`
	DueAt          *time.Time     `json:"due_at"`
	PostedAt       *time.Time     `json:"posted_at"`
	SourceURL      string         `json:"source_url"`
	Attachments    []string       `json:"attachments"`
	Classification Classification `json:"classification"`
}

// RunStatus is the outcome of a single adapter invocation.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailure RunStatus = "failure"
)

// ScraperRunMetric is one append-only fact about one adapter run.
// It is never mutated after creation.
type ScraperRunMetric struct {
	RunID          string        `json:"run_id"`
	Source         string        `json:"source"`
	Status         RunStatus     `json:"status"`
	ItemsScraped   int           `json:"items_scraped"`
	Duration       time.Duration `json:"duration"`
	Error          string        `json:"error,omitempty"`
	ScraperVersion string        `json:"scraper_version"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    time.Time     `json:"completed_at"`
}
