package scrape

import (
	"context"
	"io"
	"strings"
	"time"
)

// ScraperVersion tags every emitted run metric. Bump when extraction
// behavior changes in a way that affects downstream comparisons.
const ScraperVersion = "2.4.0"

// RawOpportunity is an adapter's unprocessed output for one posting. It lives
// only inside a single run; the orchestrator converts it to the canonical
// shape before anything is persisted.
type RawOpportunity struct {
	Source      string
	ExternalID  string
	Title       string
	Agency      string
	Summary     string
	DueDate     DateResult
	PostedDate  DateResult
	SourceURL   string
	Attachments []string
	Extra       map[string]string
}

// Validate enforces the minimal shape invariant: a source, plus at least one
// of external id or title. Anything less cannot be fingerprinted.
func (r *RawOpportunity) Validate() error {
	if strings.TrimSpace(r.Source) == "" {
		return &ValidationError{Source: r.Source, Reason: "missing source"}
	}
	if strings.TrimSpace(r.ExternalID) == "" && strings.TrimSpace(r.Title) == "" {
		return &ValidationError{Source: r.Source, Reason: "missing both external_id and title"}
	}
	return nil
}

// FetchedDocument is the raw result of one fetch.
type FetchedDocument struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
	FetchedAt   time.Time
	Headers     map[string][]string
}

// Fetcher retrieves raw content from a URL. Implementations classify their
// failures into the transient/timeout taxonomy.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchedDocument, error)
}

// FetchResult is what one adapter run produced. PageErrors holds page-level
// and detail-level failures that did not abort the run; a non-empty slice
// alongside items means partial success.
type FetchResult struct {
	Items        []RawOpportunity
	PageErrors   []error
	PagesFetched int
	Dropped      int
}

// Adapter pulls postings from one external portal. Implementations are
// stateless between runs: all per-run state lives inside a single Fetch call.
type Adapter interface {
	Source() string
	Fetch(ctx context.Context) (*FetchResult, error)
}
