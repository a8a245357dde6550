package scrape

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

// maxDescriptionLen bounds detail-page descriptions before persistence.
const maxDescriptionLen = 2000

// detailConcurrency bounds parallel detail-page fetches per source so a
// single run never hammers a portal.
const detailConcurrency = 3

// HTMLAdapter scrapes server-rendered listing pages. All site knowledge
// lives in the SourceConfig; the adapter only walks rows, follows
// pagination, and optionally enriches items from their detail pages.
type HTMLAdapter struct {
	cfg     SourceConfig
	fetcher Fetcher
	// docFetcher pulls attachments, which often live on a different host
	// than the listing and would be refused by a domain-scoped fetcher.
	docFetcher Fetcher
	logger     *zap.Logger
	backoff    BackoffPolicy
	sanitizer  *bluemonday.Policy
}

func NewHTMLAdapter(cfg SourceConfig, fetcher Fetcher, logger *zap.Logger) *HTMLAdapter {
	backoff := DefaultBackoff()
	if cfg.Detail.MaxAttempts > 0 {
		backoff.MaxAttempts = cfg.Detail.MaxAttempts
	}
	timeout := 30 * time.Second
	if cfg.Fetch.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second
	}
	return &HTMLAdapter{
		cfg:        cfg,
		fetcher:    fetcher,
		docFetcher: NewHTTPFetcher(timeout),
		logger:     logger.With(zap.String("source", cfg.ID)),
		backoff:    backoff,
		sanitizer:  bluemonday.UGCPolicy(),
	}
}

func (a *HTMLAdapter) Source() string { return a.cfg.ID }

// Fetch walks listing pages until pagination ends, then enriches items from
// detail pages when configured. A failure on the first page aborts the run
// so the orchestrator can retry it; failures on later pages or on detail
// fetches are recorded in PageErrors and the run continues with what it has.
func (a *HTMLAdapter) Fetch(ctx context.Context) (*FetchResult, error) {
	result := &FetchResult{}
	visited := map[string]bool{}
	pageURL := a.cfg.BaseURL
	maxPages := a.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			result.PageErrors = append(result.PageErrors, &TimeoutError{Op: "paginate", URL: pageURL, Err: err})
			break
		}
		if visited[pageURL] {
			a.logger.Warn("pagination cycle detected, stopping", zap.String("url", pageURL), zap.Int("page", page))
			break
		}
		visited[pageURL] = true

		doc, err := a.fetchDocument(ctx, pageURL)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			result.PageErrors = append(result.PageErrors, err)
			break
		}
		result.PagesFetched++

		items, dropped, err := a.parseListingPage(doc, page)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			result.PageErrors = append(result.PageErrors, err)
			break
		}
		result.Items = append(result.Items, items...)
		result.Dropped += dropped

		next, ok := a.nextPageURL(doc, pageURL)
		if !ok {
			break
		}
		pageURL = next
	}

	if a.cfg.Detail.Enabled {
		a.enrichFromDetails(ctx, result)
	}

	return result, nil
}

func (a *HTMLAdapter) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	fetched, err := a.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer fetched.Body.Close()

	doc, err := goquery.NewDocumentFromReader(fetched.Body)
	if err != nil {
		return nil, &ParseError{Source: a.cfg.ID, Reason: fmt.Sprintf("invalid HTML at %s: %v", pageURL, err)}
	}
	if doc.Url == nil {
		doc.Url, _ = url.Parse(pageURL)
	}
	return doc, nil
}

// parseListingPage extracts every row on one listing page. A page whose row
// selector matches nothing is a ParseError: either the site changed its
// markup or the selector config has drifted.
func (a *HTMLAdapter) parseListingPage(doc *goquery.Document, page int) ([]RawOpportunity, int, error) {
	rows := a.cfg.Selectors.First(doc.Selection, RoleRow)
	if rows == nil {
		return nil, 0, &ParseError{Source: a.cfg.ID, Page: page, Reason: "no listing rows matched"}
	}

	var items []RawOpportunity
	dropped := 0
	rows.Each(func(_ int, row *goquery.Selection) {
		item := parseRow(a.cfg, row, doc.Url)
		if err := item.Validate(); err != nil {
			dropped++
			a.logger.Warn("dropping malformed row", zap.Int("page", page), zap.Error(err))
			return
		}
		items = append(items, item)
	})
	return items, dropped, nil
}

// nextPageURL locates the next-page control and reports whether pagination
// continues. A missing control, a configured disabled class, or an
// unresolvable href all terminate the walk.
func (a *HTMLAdapter) nextPageURL(doc *goquery.Document, current string) (string, bool) {
	next := a.cfg.Selectors.First(doc.Selection, RoleNext)
	if next == nil {
		return "", false
	}
	el := next.First()
	if cls := a.cfg.Pagination.DisabledClass; cls != "" && el.HasClass(cls) {
		return "", false
	}
	href, _ := el.Attr("href")
	resolved := NormalizeURL(href, doc.Url)
	if resolved == "" || resolved == current {
		return "", false
	}
	return resolved, true
}

// parseRow maps one listing row onto a RawOpportunity using the source's
// selector roles. Shared by the HTML and browser adapters: once either has
// a parsed document, row extraction is identical.
func parseRow(cfg SourceConfig, row *goquery.Selection, base *url.URL) RawOpportunity {
	sel := cfg.Selectors

	dueText := sel.Text(row, RoleDueDate)
	item := RawOpportunity{
		Source:     cfg.ID,
		Title:      sel.Text(row, RoleTitle),
		ExternalID: ExtractRefID(sel.Text(row, RoleExternalID)),
		Agency:     sel.Text(row, RoleAgency),
		Summary:    sel.Text(row, RoleSummary),
		DueDate:    ParseFlexibleDate(dueText),
		PostedDate: ParseFlexibleDate(sel.Text(row, RolePostedDate)),
	}
	if item.Agency == "" {
		item.Agency = cfg.Agency
	}
	// Keep the raw cell so an unparsed deadline can be diagnosed from logs
	// and reports without refetching the page.
	if item.DueDate.Kind == DateUnknown && dueText != "" {
		item.Extra = map[string]string{"due_date_raw": dueText}
	}

	if href := sel.Attr(row, RoleLink, "href"); href != "" {
		item.SourceURL = CanonicalizeURL(NormalizeURL(href, base))
	}
	item.Attachments = collectAttachments(sel, row, base)

	return item
}

// collectAttachments resolves every attachment anchor under the row or
// detail container to an absolute URL.
func collectAttachments(sel SelectorMap, scope *goquery.Selection, base *url.URL) []string {
	found := sel.First(scope, RoleAttachments)
	if found == nil {
		return nil
	}
	var urls []string
	found.Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if resolved := NormalizeURL(href, base); resolved != "" {
			urls = append(urls, CanonicalizeURL(resolved))
		}
	})
	return urls
}

// enrichFromDetails fetches each item's detail page with bounded
// concurrency. Every detail fetch is retried independently; an item whose
// detail page stays unreachable keeps its listing-level fields and the
// failure is recorded as a page error.
func (a *HTMLAdapter) enrichFromDetails(ctx context.Context, result *FetchResult) {
	bound := detailConcurrency
	if a.cfg.Fetch.Concurrency > 0 {
		bound = a.cfg.Fetch.Concurrency
	}
	sem := make(chan struct{}, bound)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := range result.Items {
		item := &result.Items[i]
		if item.SourceURL == "" {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			err := Retry(ctx, a.backoff, a.logger, "detail fetch", func(ctx context.Context) error {
				return a.enrichItem(ctx, item)
			})
			if err != nil {
				mu.Lock()
				result.PageErrors = append(result.PageErrors, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

func (a *HTMLAdapter) enrichItem(ctx context.Context, item *RawOpportunity) error {
	doc, err := a.fetchDocument(ctx, item.SourceURL)
	if err != nil {
		return err
	}

	sel := a.cfg.Detail.Selectors

	if found := sel.First(doc.Selection, RoleDescription); found != nil {
		html, err := found.First().Html()
		if err == nil {
			text := htmlToText(a.sanitizer.Sanitize(html))
			if desc := CleanDescription(text, maxDescriptionLen); desc != "" {
				item.Summary = desc
			}
		}
	}

	for _, u := range collectAttachments(sel, doc.Selection, doc.Url) {
		if !containsString(item.Attachments, u) {
			item.Attachments = append(item.Attachments, u)
		}
	}

	// The detail page often carries a precise closing timestamp where the
	// listing only showed a date.
	if due := ParseFlexibleDate(sel.Text(doc.Selection, RoleDueDate)); due.Kind == DateKnown {
		item.DueDate = due
	}

	if a.cfg.Detail.ScanPDFs && item.DueDate.Kind == DateUnknown {
		a.scanAttachmentsForDeadline(ctx, item)
	}

	return nil
}

// scanAttachmentsForDeadline pulls PDF attachments looking for a deadline
// the HTML never stated. Best effort: any failure just leaves the date
// unknown.
func (a *HTMLAdapter) scanAttachmentsForDeadline(ctx context.Context, item *RawOpportunity) {
	for _, u := range item.Attachments {
		if !strings.HasSuffix(strings.ToLower(u), ".pdf") {
			continue
		}
		fetched, err := a.docFetcher.Fetch(ctx, u)
		if err != nil {
			a.logger.Debug("pdf fetch failed", zap.String("url", u), zap.Error(err))
			continue
		}
		due, err := ScanPDFForDeadline(fetched.Body)
		fetched.Body.Close()
		if err != nil {
			a.logger.Debug("pdf deadline scan failed", zap.String("url", u), zap.Error(err))
			continue
		}
		if due.Kind == DateKnown {
			item.DueDate = due
			return
		}
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
