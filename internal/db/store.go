package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bidscout/bidscout/internal/models"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// StoredOpportunity is an opportunity as read back from the database,
// carrying the server-owned columns.
type StoredOpportunity struct {
	models.Opportunity
	ID        string    `json:"id"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// upsertOpportunity keys on (source, fingerprint). A re-scrape of an
// unchanged posting only advances last_seen; a changed posting updates the
// mutable columns. first_seen is set once by the insert default and never
// touched again.
const upsertOpportunity = `
	INSERT INTO opportunities (
		source, fingerprint, content_hash, external_id, title,
		agency, summary, due_at, posted_at, source_url,
		attachments, classification
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9, $10,
		$11, $12
	)
	ON CONFLICT (source, fingerprint) DO UPDATE SET
		content_hash = EXCLUDED.content_hash,
		title = EXCLUDED.title,
		agency = COALESCE(NULLIF(EXCLUDED.agency, ''), opportunities.agency),
		summary = COALESCE(NULLIF(EXCLUDED.summary, ''), opportunities.summary),
		due_at = COALESCE(EXCLUDED.due_at, opportunities.due_at),
		posted_at = COALESCE(EXCLUDED.posted_at, opportunities.posted_at),
		source_url = COALESCE(NULLIF(EXCLUDED.source_url, ''), opportunities.source_url),
		attachments = CASE WHEN cardinality(EXCLUDED.attachments) > 0 THEN EXCLUDED.attachments ELSE opportunities.attachments END,
		classification = EXCLUDED.classification,
		last_seen = NOW()
`

// SaveOpportunities upserts a batch and returns how many rows were written.
// A failure partway through reports the rows already written alongside the
// error.
func (s *Store) SaveOpportunities(ctx context.Context, opps []models.Opportunity) (int, error) {
	saved := 0
	for _, o := range opps {
		attachments := o.Attachments
		if attachments == nil {
			attachments = []string{}
		}
		_, err := s.pool.Exec(ctx, upsertOpportunity,
			o.Source, o.Fingerprint, o.ContentHash, o.ExternalID, o.Title,
			o.Agency, o.Summary, o.DueAt, o.PostedAt, o.SourceURL,
			attachments, string(o.Classification),
		)
		if err != nil {
			return saved, fmt.Errorf("failed to save opportunity %s/%s: %w", o.Source, o.ExternalID, err)
		}
		saved++
	}
	return saved, nil
}

// LookupFingerprint reports whether a fingerprint exists and the content
// hash stored with it.
func (s *Store) LookupFingerprint(ctx context.Context, fp string) (bool, string, error) {
	var hash string
	err := s.pool.QueryRow(ctx, "SELECT content_hash FROM opportunities WHERE fingerprint = $1 LIMIT 1", fp).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, hash, nil
}

// RecordRun appends one run metric. Rows are immutable facts: there is no
// update path.
func (s *Store) RecordRun(ctx context.Context, m models.ScraperRunMetric) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scraper_runs (
			run_id, source, status, items_scraped, duration_ms,
			error, scraper_version, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		m.RunID, m.Source, string(m.Status), m.ItemsScraped, m.Duration.Milliseconds(),
		m.Error, m.ScraperVersion, m.StartedAt, m.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", m.RunID, err)
	}
	return nil
}

// RecentRuns returns the latest run metrics, newest first, optionally
// filtered by source.
func (s *Store) RecentRuns(ctx context.Context, source string, limit int) ([]models.ScraperRunMetric, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT run_id, source, status, items_scraped, duration_ms,
		       error, scraper_version, started_at, completed_at
		FROM scraper_runs
	`
	var args []interface{}
	if source != "" {
		query += " WHERE source = $1"
		args = append(args, source)
	}
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT %d", limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ScraperRunMetric
	for rows.Next() {
		var m models.ScraperRunMetric
		var status string
		var durationMs int64
		if err := rows.Scan(&m.RunID, &m.Source, &status, &m.ItemsScraped, &durationMs,
			&m.Error, &m.ScraperVersion, &m.StartedAt, &m.CompletedAt); err != nil {
			return nil, err
		}
		m.Status = models.RunStatus(status)
		m.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, m)
	}
	return runs, rows.Err()
}

// ListParams narrows ListOpportunities.
type ListParams struct {
	Source     string
	Query      string
	ActiveOnly bool
	Limit      int
	Offset     int
}

// ListResult is one page of opportunities plus the unpaged total.
type ListResult struct {
	Opportunities []StoredOpportunity `json:"opportunities"`
	Total         int                 `json:"total"`
	Limit         int                 `json:"limit"`
	Offset        int                 `json:"offset"`
}

const selectCols = `id, source, fingerprint, content_hash, external_id, title,
	agency, summary, due_at, posted_at, source_url, attachments,
	classification, first_seen, last_seen`

// ListOpportunities pages through stored postings. ActiveOnly keeps
// postings whose deadline has not passed; open-ended postings (no due_at)
// always count as active.
func (s *Store) ListOpportunities(ctx context.Context, params ListParams) (*ListResult, error) {
	where := "WHERE 1=1"
	var args []interface{}
	argIdx := 1

	if params.Source != "" {
		where += fmt.Sprintf(" AND source = $%d", argIdx)
		args = append(args, params.Source)
		argIdx++
	}
	if params.Query != "" {
		where += fmt.Sprintf(" AND (title ILIKE '%%' || $%d || '%%' OR summary ILIKE '%%' || $%d || '%%')", argIdx, argIdx)
		args = append(args, params.Query)
		argIdx++
	}
	if params.ActiveOnly {
		where += " AND (due_at IS NULL OR due_at >= NOW())"
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM opportunities "+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	limit := params.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	query := strings.Join([]string{
		"SELECT", selectCols,
		"FROM opportunities", where,
		fmt.Sprintf("ORDER BY COALESCE(due_at, 'infinity'::timestamptz) ASC, last_seen DESC LIMIT %d OFFSET %d", limit, offset),
	}, " ")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := &ListResult{Total: total, Limit: limit, Offset: offset}
	for rows.Next() {
		var o StoredOpportunity
		var classification string
		if err := rows.Scan(&o.ID, &o.Source, &o.Fingerprint, &o.ContentHash, &o.ExternalID, &o.Title,
			&o.Agency, &o.Summary, &o.DueAt, &o.PostedAt, &o.SourceURL, &o.Attachments,
			&classification, &o.FirstSeen, &o.LastSeen); err != nil {
			return nil, err
		}
		o.Classification = models.Classification(classification)
		result.Opportunities = append(result.Opportunities, o)
	}
	return result, rows.Err()
}

// Stats returns aggregate counts for the health endpoint.
func (s *Store) Stats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{}

	var total, active int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM opportunities").Scan(&total); err != nil {
		return nil, err
	}
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM opportunities WHERE due_at IS NULL OR due_at >= NOW()").Scan(&active); err != nil {
		return nil, err
	}
	stats["total_opportunities"] = total
	stats["active_opportunities"] = active

	rows, err := s.pool.Query(ctx, "SELECT source, COUNT(*) FROM opportunities GROUP BY source ORDER BY source")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bySource := map[string]int{}
	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return nil, err
		}
		bySource[source] = count
	}
	stats["by_source"] = bySource

	return stats, rows.Err()
}
