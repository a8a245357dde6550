package scrape

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DateKind distinguishes the three outcomes of flexible date parsing. "No
// deadline" and "unparseable" are ordinary results, not errors: open-ended
// postings are common and junk date cells must never abort a page.
type DateKind int

const (
	// DateUnknown means the input carried no recognizable date.
	DateUnknown DateKind = iota
	// DateKnown means Time holds a UTC-normalized instant.
	DateKnown
	// NoDeadline means the source explicitly advertises an open-ended window.
	NoDeadline
)

// DateResult is the sentinel-style outcome of ParseFlexibleDate.
type DateResult struct {
	Kind DateKind
	Time time.Time
}

// TimePtr returns the parsed instant for persistence, nil for the
// no-deadline and unknown cases.
func (d DateResult) TimePtr() *time.Time {
	if d.Kind != DateKnown {
		return nil
	}
	t := d.Time
	return &t
}

// defaultLocation interprets zone-less timestamps. US procurement portals
// overwhelmingly publish Eastern local times without saying so.
var defaultLocation = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// Phrases that mean "there is no deadline", not "we failed to parse one".
var noDeadlinePhrases = []string{
	"open until further notice",
	"until further notice",
	"open until filled",
	"to be determined",
	"tbd",
	"ongoing",
	"continuous",
	"no deadline",
	"open-ended",
	"rolling basis",
}

// Timezone abbreviations and other junk the portals append to date cells.
var dateJunkTokens = []string{
	"est", "edt", "cst", "cdt", "mst", "mdt", "pst", "pdt", "et", "ct", "mt", "pt", "local time",
}

// Formats tried in priority order. The comma variants come first because the
// most common portal export format is "01/15/2025, 2:00:00 PM".
var dateFormats = []string{
	"01/02/2006, 3:04:05 PM",
	"01/02/2006, 3:04 PM",
	"01/02/2006 3:04:05 PM",
	"01/02/2006 3:04 PM",
	"1/2/2006, 3:04:05 PM",
	"1/2/2006, 3:04 PM",
	"1/2/2006 3:04 PM",
	"01/02/2006",
	"1/2/2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006 3:04 PM",
	"January 2, 2006",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
}

var epochRegex = regexp.MustCompile(`^\d{10}(\d{3})?$`)

// ParseFlexibleDate turns the free-text date cells found on procurement
// portals into a DateResult. It strips known junk tokens, recognizes
// open-ended sentinel phrases, then tries a fixed priority-ordered format
// list. Zone-less inputs are interpreted in the default location and
// converted to UTC. It never returns an error: unparseable input is
// DateUnknown.
func ParseFlexibleDate(text string) DateResult {
	cleaned := cleanDateText(text)
	if cleaned == "" {
		return DateResult{Kind: DateUnknown}
	}

	lower := strings.ToLower(cleaned)
	for _, phrase := range noDeadlinePhrases {
		if strings.Contains(lower, phrase) {
			return DateResult{Kind: NoDeadline}
		}
	}

	if epochRegex.MatchString(cleaned) {
		n, err := strconv.ParseInt(cleaned, 10, 64)
		if err == nil {
			if len(cleaned) == 13 {
				return DateResult{Kind: DateKnown, Time: time.UnixMilli(n).UTC()}
			}
			return DateResult{Kind: DateKnown, Time: time.Unix(n, 0).UTC()}
		}
	}

	for _, format := range dateFormats {
		t, err := time.ParseInLocation(format, cleaned, defaultLocation)
		if err != nil {
			continue
		}
		return DateResult{Kind: DateKnown, Time: t.UTC()}
	}

	return DateResult{Kind: DateUnknown}
}

// cleanDateText normalizes whitespace and strips timezone abbreviations and
// label prefixes that would trip the fixed format list.
func cleanDateText(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	s = normalizeSpace(s)

	prefixes := []string{
		"due date:", "due:", "closing date:", "closes:", "deadline:",
		"bid opening:", "responses due:", "posted:", "posted on:",
	}
	lower := strings.ToLower(s)
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			s = strings.TrimSpace(s[len(p):])
			lower = strings.ToLower(s)
		}
	}

	fields := strings.Fields(s)
	kept := fields[:0]
	for _, f := range fields {
		token := strings.ToLower(strings.Trim(f, "()."))
		junk := false
		for _, j := range dateJunkTokens {
			if token == j {
				junk = true
				break
			}
		}
		if !junk {
			kept = append(kept, f)
		}
	}
	s = strings.Join(kept, " ")

	s = strings.ReplaceAll(s, "a.m.", "AM")
	s = strings.ReplaceAll(s, "p.m.", "PM")
	return strings.TrimSpace(s)
}

var refIDPrefixRegex = regexp.MustCompile(`(?i)^\s*(rfp|rfq|rfi|bid|itb|ifb|solicitation|project)\s*(no\.?|number|#)?\s*[:\-]?\s*`)

// ExtractRefID strips the agency boilerplate prefixes ("RFP #", "Bid No.",
// "Solicitation:") from a reference cell, leaving the bare number.
func ExtractRefID(text string) string {
	s := normalizeSpace(text)
	return strings.TrimSpace(refIDPrefixRegex.ReplaceAllString(s, ""))
}

// NormalizeURL resolves href against the page base. Absolute URLs pass
// through; root-relative and relative paths are resolved.
func NormalizeURL(href string, base *url.URL) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	if base == nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// CleanDescription collapses whitespace runs and truncates overlong text at
// the last word boundary, appending an ellipsis marker.
func CleanDescription(text string, maxLen int) string {
	s := normalizeSpace(text)
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := s[:maxLen]
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " ,;:") + "..."
}

// normalizeSpace collapses whitespace runs to single spaces and trims.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// htmlToText flattens an HTML fragment to cleaned plain text.
func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return normalizeSpace(html)
	}
	return normalizeSpace(doc.Text())
}

// CanonicalizeURL lowercases the host, drops fragments and strips common
// tracking parameters so the same posting always fingerprints identically.
func CanonicalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for k := range q {
		if strings.HasPrefix(k, "utm_") {
			q.Del(k)
		}
	}
	for _, p := range []string{"fbclid", "gclid", "mc_cid", "mc_eid", "ref", "session"} {
		q.Del(p)
	}
	u.RawQuery = q.Encode()

	return u.String()
}
