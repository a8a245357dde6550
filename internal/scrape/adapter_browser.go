package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// defaultBrowserTimeout bounds a whole browser session when the source
// config does not set one.
const defaultBrowserTimeout = 60 * time.Second

// waitForTimeout bounds each wait on dynamic content. Pages that never
// render their listing within this window are treated as timed out rather
// than hanging the run.
const waitForTimeout = 15 * time.Second

// BrowserAdapter drives a headless browser for portals that render their
// listings client-side. After each render it hands the DOM snapshot to the
// same row parser the HTML adapter uses.
type BrowserAdapter struct {
	cfg    SourceConfig
	logger *zap.Logger

	// newSession is swapped in tests to avoid launching a real browser.
	newSession func(ctx context.Context) (context.Context, context.CancelFunc)
}

func NewBrowserAdapter(cfg SourceConfig, logger *zap.Logger) *BrowserAdapter {
	return &BrowserAdapter{
		cfg:    cfg,
		logger: logger.With(zap.String("source", cfg.ID)),
	}
}

func (a *BrowserAdapter) Source() string { return a.cfg.ID }

func (a *BrowserAdapter) sessionTimeout() time.Duration {
	if a.cfg.Fetch.TimeoutSeconds > 0 {
		return time.Duration(a.cfg.Fetch.TimeoutSeconds) * time.Second
	}
	return defaultBrowserTimeout
}

// Fetch renders the listing, walks pages by clicking the next control, and
// parses each rendered snapshot. The session as a whole and every wait on
// dynamic content are deadline-bounded.
func (a *BrowserAdapter) Fetch(ctx context.Context) (*FetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.sessionTimeout())
	defer cancel()

	newSession := a.newSession
	if newSession == nil {
		newSession = newBrowserSession
	}
	taskCtx, closeSession := newSession(ctx)
	defer closeSession()

	waitSel := a.firstSelector(RoleWaitFor)
	nextSel := a.firstSelector(RoleNext)

	if err := chromedp.Run(taskCtx, chromedp.Navigate(a.cfg.BaseURL)); err != nil {
		return nil, a.classifyBrowserErr("navigate", err)
	}

	result := &FetchResult{}
	base, _ := url.Parse(a.cfg.BaseURL)
	maxPages := a.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	for page := 1; page <= maxPages; page++ {
		if err := a.waitForContent(taskCtx, waitSel); err != nil {
			if page == 1 {
				return nil, err
			}
			result.PageErrors = append(result.PageErrors, err)
			break
		}

		var html string
		if err := chromedp.Run(taskCtx, chromedp.OuterHTML("html", &html)); err != nil {
			if page == 1 {
				return nil, a.classifyBrowserErr("snapshot", err)
			}
			result.PageErrors = append(result.PageErrors, a.classifyBrowserErr("snapshot", err))
			break
		}
		result.PagesFetched++

		items, dropped, err := a.parseSnapshot(html, base, page)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			result.PageErrors = append(result.PageErrors, err)
			break
		}
		result.Items = append(result.Items, items...)
		result.Dropped += dropped

		if nextSel == "" || page == maxPages {
			break
		}
		advanced, err := a.clickNext(taskCtx, nextSel)
		if err != nil {
			result.PageErrors = append(result.PageErrors, err)
			break
		}
		if !advanced {
			break
		}
	}

	return result, nil
}

func (a *BrowserAdapter) firstSelector(role string) string {
	if list := a.cfg.Selectors[role]; len(list) > 0 {
		return list[0]
	}
	return ""
}

// waitForContent blocks until the configured marker element is visible,
// bounded by waitForTimeout so a broken page cannot stall the session.
func (a *BrowserAdapter) waitForContent(ctx context.Context, waitSel string) error {
	waitCtx, cancel := context.WithTimeout(ctx, waitForTimeout)
	defer cancel()

	if err := chromedp.Run(waitCtx, chromedp.WaitVisible(waitSel, chromedp.ByQuery)); err != nil {
		return a.classifyBrowserErr("wait for content", err)
	}
	return nil
}

func (a *BrowserAdapter) parseSnapshot(html string, base *url.URL, page int) ([]RawOpportunity, int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, 0, &ParseError{Source: a.cfg.ID, Page: page, Reason: fmt.Sprintf("invalid rendered HTML: %v", err)}
	}
	doc.Url = base

	rows := a.cfg.Selectors.First(doc.Selection, RoleRow)
	if rows == nil {
		return nil, 0, &ParseError{Source: a.cfg.ID, Page: page, Reason: "no listing rows matched"}
	}

	var items []RawOpportunity
	dropped := 0
	rows.Each(func(_ int, row *goquery.Selection) {
		item := parseRow(a.cfg, row, base)
		if err := item.Validate(); err != nil {
			dropped++
			a.logger.Warn("dropping malformed row", zap.Int("page", page), zap.Error(err))
			return
		}
		items = append(items, item)
	})
	return items, dropped, nil
}

// clickNext advances pagination. It first checks in-page whether the
// control exists and is enabled; a missing or disabled control means the
// walk is done, not an error.
func (a *BrowserAdapter) clickNext(ctx context.Context, nextSel string) (bool, error) {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		if (el.disabled) return false;
		if (%q && el.classList.contains(%q)) return false;
		return true;
	})()`, nextSel, a.cfg.Pagination.DisabledClass, a.cfg.Pagination.DisabledClass)

	var clickable bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &clickable)); err != nil {
		return false, a.classifyBrowserErr("inspect next control", err)
	}
	if !clickable {
		return false, nil
	}

	if err := chromedp.Run(ctx, chromedp.Click(nextSel, chromedp.ByQuery)); err != nil {
		return false, a.classifyBrowserErr("click next", err)
	}
	return true, nil
}

func (a *BrowserAdapter) classifyBrowserErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, URL: a.cfg.BaseURL, Err: err}
	}
	return &TransientError{Op: op, URL: a.cfg.BaseURL, Err: err}
}

// newBrowserSession launches a headless browser bound to ctx.
func newBrowserSession(ctx context.Context) (context.Context, context.CancelFunc) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(defaultUserAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	return taskCtx, func() {
		cancelTask()
		cancelAlloc()
	}
}
