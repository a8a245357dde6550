package scrape

import (
	"net/url"
	"testing"
	"time"
)

func TestParseFlexibleDate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected DateResult
	}{
		{
			name:  "Portal export format with seconds",
			input: "01/15/2025, 2:00:00 PM",
			// Eastern standard time in January is UTC-5.
			expected: DateResult{Kind: DateKnown, Time: time.Date(2025, 1, 15, 19, 0, 0, 0, time.UTC)},
		},
		{
			name:     "Portal export format without seconds",
			input:    "06/30/2025, 4:30 PM",
			expected: DateResult{Kind: DateKnown, Time: time.Date(2025, 6, 30, 20, 30, 0, 0, time.UTC)},
		},
		{
			name:     "Date only",
			input:    "03/01/2025",
			expected: DateResult{Kind: DateKnown, Time: time.Date(2025, 3, 1, 5, 0, 0, 0, time.UTC)},
		},
		{
			name:     "ISO date",
			input:    "2025-06-30",
			expected: DateResult{Kind: DateKnown, Time: time.Date(2025, 6, 30, 4, 0, 0, 0, time.UTC)},
		},
		{
			name:     "Long month name with timezone abbreviation",
			input:    "January 5, 2025 4:00 PM EST",
			expected: DateResult{Kind: DateKnown, Time: time.Date(2025, 1, 5, 21, 0, 0, 0, time.UTC)},
		},
		{
			name:     "Label prefix is stripped",
			input:    "Due Date: 03/01/2025",
			expected: DateResult{Kind: DateKnown, Time: time.Date(2025, 3, 1, 5, 0, 0, 0, time.UTC)},
		},
		{
			name:     "RFC3339 keeps its own zone",
			input:    "2025-04-01T12:00:00Z",
			expected: DateResult{Kind: DateKnown, Time: time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)},
		},
		{
			name:     "Unix epoch seconds",
			input:    "1735689600",
			expected: DateResult{Kind: DateKnown, Time: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
		{
			name:     "Open until further notice",
			input:    "Open Until Further Notice",
			expected: DateResult{Kind: NoDeadline},
		},
		{
			name:     "TBD means no deadline",
			input:    "TBD",
			expected: DateResult{Kind: NoDeadline},
		},
		{
			name:     "Garbage text",
			input:    "see attached document",
			expected: DateResult{Kind: DateUnknown},
		},
		{
			name:     "Empty input",
			input:    "",
			expected: DateResult{Kind: DateUnknown},
		},
		{
			name:     "Whitespace and nbsp only",
			input:    "    ",
			expected: DateResult{Kind: DateUnknown},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseFlexibleDate(tt.input)
			if got.Kind != tt.expected.Kind {
				t.Fatalf("expected kind %v, got %v", tt.expected.Kind, got.Kind)
			}
			if got.Kind == DateKnown && !got.Time.Equal(tt.expected.Time) {
				t.Errorf("expected %v, got %v", tt.expected.Time, got.Time)
			}
		})
	}
}

func TestDateResultTimePtr(t *testing.T) {
	known := DateResult{Kind: DateKnown, Time: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	if known.TimePtr() == nil {
		t.Fatal("expected non-nil pointer for known date")
	}
	if (DateResult{Kind: NoDeadline}).TimePtr() != nil {
		t.Error("expected nil pointer for no-deadline")
	}
	if (DateResult{Kind: DateUnknown}).TimePtr() != nil {
		t.Error("expected nil pointer for unknown date")
	}
}

func TestExtractRefID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"RFP #2024-17", "2024-17"},
		{"Bid No. 45-B", "45-B"},
		{"Solicitation: ABC-001", "ABC-001"},
		{"ITB 2025-003", "2025-003"},
		{"2024-17", "2024-17"},
		{"  RFQ Number 88 ", "88"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := ExtractRefID(tt.input); got != tt.expected {
			t.Errorf("ExtractRefID(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	base, _ := url.Parse("https://procurement.metrocity.gov/bids/open")

	tests := []struct {
		href     string
		expected string
	}{
		{"https://other.gov/doc.pdf", "https://other.gov/doc.pdf"},
		{"/bids/detail/17", "https://procurement.metrocity.gov/bids/detail/17"},
		{"detail/17", "https://procurement.metrocity.gov/bids/detail/17"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeURL(tt.href, base); got != tt.expected {
			t.Errorf("NormalizeURL(%q) = %q, expected %q", tt.href, got, tt.expected)
		}
	}

	if got := NormalizeURL("relative/path", nil); got != "" {
		t.Errorf("expected empty result without base, got %q", got)
	}
}

func TestCanonicalizeURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{
			"https://Bids.Example.GOV/detail/17?utm_source=feed&utm_campaign=x&id=17#section",
			"https://bids.example.gov/detail/17?id=17",
		},
		{
			"https://example.gov/a?fbclid=abc&gclid=def",
			"https://example.gov/a",
		},
		{
			"https://example.gov/a?page=2",
			"https://example.gov/a?page=2",
		},
	}

	for _, tt := range tests {
		if got := CanonicalizeURL(tt.input); got != tt.expected {
			t.Errorf("CanonicalizeURL(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}

func TestCleanDescription(t *testing.T) {
	long := "The City seeks proposals for comprehensive roadway maintenance services including pothole repair and snow removal"
	got := CleanDescription(long, 50)
	if len(got) > 54 {
		t.Fatalf("result too long: %d chars", len(got))
	}
	if got[len(got)-3:] != "..." {
		t.Errorf("expected ellipsis suffix, got %q", got)
	}
	// Must cut on a word boundary, never mid-word.
	if got == long[:50]+"..." && long[50] != ' ' {
		t.Errorf("truncated mid-word: %q", got)
	}

	short := "Short  text\n here"
	if got := CleanDescription(short, 100); got != "Short text here" {
		t.Errorf("expected collapsed whitespace, got %q", got)
	}
}
