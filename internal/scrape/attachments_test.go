package scrape

import (
	"strings"
	"testing"
)

func TestScanPDFForDeadlineRejectsGarbage(t *testing.T) {
	got, err := ScanPDFForDeadline(strings.NewReader("this is not a pdf"))
	if err == nil {
		t.Fatal("expected error for non-PDF input")
	}
	if got.Kind != DateUnknown {
		t.Errorf("expected DateUnknown on failure, got %v", got.Kind)
	}
}

func TestNearDeadlineLabel(t *testing.T) {
	filler := strings.Repeat("The project covers routine upkeep of municipal facilities and grounds. ", 3)
	text := "Proposals due no later than 02/01/2025 at the clerk's office. " + filler + "Award announced March 2025."

	tests := []struct {
		name     string
		snippet  string
		expected bool
	}{
		{"Date near due label", "02/01/2025", true},
		{"Date far from any label", "March 2025", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := strings.Index(text, tt.snippet)
			if start < 0 {
				t.Fatalf("snippet %q not found in fixture", tt.snippet)
			}
			got := nearDeadlineLabel(text, start, start+len(tt.snippet))
			if got != tt.expected {
				t.Errorf("nearDeadlineLabel(%q) = %v, expected %v", tt.snippet, got, tt.expected)
			}
		})
	}
}
