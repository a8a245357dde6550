package scrape

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	rpdf "rsc.io/pdf"
)

// maxPDFBytes caps how much of an attachment we will buffer for scanning.
const maxPDFBytes = 10 << 20

// Label words that mark a date snippet as a closing date rather than some
// other date mentioned in the document.
var deadlineLabelHints = []string{
	"deadline", "due", "closes", "closing", "close date", "submittal",
	"submission", "responses due", "proposals due", "bid opening",
}

var dateSnippetRegexes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b\d{1,2}/\d{1,2}/20\d{2}(,?\s+\d{1,2}(:\d{2})?(:\d{2})?\s*(a\.?m\.?|p\.?m\.?))?\b`),
	regexp.MustCompile(`(?i)\b20\d{2}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`(?i)\b(January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\.?\s+\d{1,2},?\s+20\d{2}(\s+\d{1,2}(:\d{2})?\s*(a\.?m\.?|p\.?m\.?))?\b`),
	regexp.MustCompile(`(?i)\b\d{1,2}\s+(January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s+20\d{2}\b`),
}

// ScanPDFForDeadline extracts the text of a PDF attachment and scans it for
// a closing date. Only date snippets that sit near a deadline label word are
// considered, which keeps award dates and meeting dates out. The earliest
// labelled date wins. A PDF with no labelled date yields DateUnknown, not
// an error.
func ScanPDFForDeadline(r io.Reader) (DateResult, error) {
	content, err := io.ReadAll(io.LimitReader(r, maxPDFBytes))
	if err != nil {
		return DateResult{Kind: DateUnknown}, err
	}

	text, err := extractPDFText(content)
	if err != nil {
		return DateResult{Kind: DateUnknown}, err
	}

	best := DateResult{Kind: DateUnknown}
	for _, expr := range dateSnippetRegexes {
		for _, loc := range expr.FindAllStringIndex(text, -1) {
			if !nearDeadlineLabel(text, loc[0], loc[1]) {
				continue
			}
			parsed := ParseFlexibleDate(text[loc[0]:loc[1]])
			if parsed.Kind != DateKnown {
				continue
			}
			if best.Kind != DateKnown || parsed.Time.Before(best.Time) {
				best = parsed
			}
		}
	}
	return best, nil
}

// extractPDFText flattens every page to plain text. The parser panics on
// malformed files, so the panic is converted into an ordinary error.
func extractPDFText(content []byte) (text string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pdf parser panic: %v", recovered)
			text = ""
		}
	}()

	reader, err := rpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	for pageIndex := 1; pageIndex <= reader.NumPage(); pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		for _, fragment := range page.Content().Text {
			builder.WriteString(fragment.S)
			builder.WriteString(" ")
		}
		builder.WriteString("\n")
	}

	return builder.String(), nil
}

// nearDeadlineLabel checks an 80-char window around the date snippet for a
// deadline label word.
func nearDeadlineLabel(text string, start, end int) bool {
	lo := start - 80
	if lo < 0 {
		lo = 0
	}
	hi := end + 80
	if hi > len(text) {
		hi = len(text)
	}
	window := strings.ToLower(text[lo:hi])
	for _, hint := range deadlineLabelHints {
		if strings.Contains(window, hint) {
			return true
		}
	}
	return false
}
