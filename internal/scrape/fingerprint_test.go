package scrape

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bidscout/bidscout/internal/models"
)

func sampleRaw() RawOpportunity {
	return RawOpportunity{
		Source:     "metro-city-bids",
		ExternalID: "2025-017",
		Title:      "Roadway Maintenance Services",
		Agency:     "Public Works",
		Summary:    "Annual roadway maintenance contract",
		DueDate:    DateResult{Kind: DateKnown, Time: time.Date(2025, 3, 1, 17, 0, 0, 0, time.UTC)},
		SourceURL:  "https://procurement.metrocity.gov/bids/detail/17",
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint(sampleRaw())
	b := Fingerprint(sampleRaw())
	if a != b {
		t.Fatalf("same input produced different fingerprints: %s vs %s", a, b)
	}
}

func TestFingerprintIdentityNormalization(t *testing.T) {
	a := sampleRaw()
	b := sampleRaw()
	b.ExternalID = "  2025-017 "
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("whitespace around external id changed the fingerprint")
	}

	b = sampleRaw()
	b.ExternalID = "2025-017"
	c := sampleRaw()
	c.ExternalID = "2025-017"
	c.Summary = "completely different summary"
	if Fingerprint(b) != Fingerprint(c) {
		t.Error("summary is mutable content and must not affect the fingerprint")
	}
}

func TestFingerprintFallsBackToTitle(t *testing.T) {
	a := sampleRaw()
	a.ExternalID = ""
	b := sampleRaw()
	b.ExternalID = ""
	b.Title = "ROADWAY   Maintenance Services"
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("title casing and spacing changed the fingerprint")
	}
}

func TestFingerprintChangesWithDueDate(t *testing.T) {
	a := sampleRaw()
	b := sampleRaw()
	b.DueDate = DateResult{Kind: DateKnown, Time: b.DueDate.Time.Add(48 * time.Hour)}
	if Fingerprint(a) == Fingerprint(b) {
		t.Error("moved due date should produce a new fingerprint")
	}

	c := sampleRaw()
	c.DueDate = DateResult{Kind: NoDeadline}
	if Fingerprint(a) == Fingerprint(c) {
		t.Error("no-deadline should fingerprint differently from a known date")
	}
}

func TestContentHashTracksMutableFields(t *testing.T) {
	a := sampleRaw()
	b := sampleRaw()
	if ContentHash(a) != ContentHash(b) {
		t.Fatal("identical content hashed differently")
	}

	b.Summary = "amended scope of work"
	if ContentHash(a) == ContentHash(b) {
		t.Error("changed summary should flip the content hash")
	}
}

func TestDeduperSeen(t *testing.T) {
	d := NewDeduper()
	fp := Fingerprint(sampleRaw())

	if d.Seen(fp) {
		t.Fatal("first sighting reported as seen")
	}
	if !d.Seen(fp) {
		t.Fatal("second sighting not reported as seen")
	}
	if d.Count() != 1 {
		t.Errorf("expected 1 tracked fingerprint, got %d", d.Count())
	}
}

type fakeFingerprintStore struct {
	exists bool
	hash   string
	err    error
}

func (f *fakeFingerprintStore) LookupFingerprint(ctx context.Context, fp string) (bool, string, error) {
	return f.exists, f.hash, f.err
}

func TestClassify(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		store    *fakeFingerprintStore
		hash     string
		expected models.Classification
		wantErr  bool
	}{
		{
			name:     "Unknown fingerprint is new",
			store:    &fakeFingerprintStore{exists: false},
			hash:     "abc",
			expected: models.ClassificationNew,
		},
		{
			name:     "Same content is duplicate",
			store:    &fakeFingerprintStore{exists: true, hash: "abc"},
			hash:     "abc",
			expected: models.ClassificationDuplicate,
		},
		{
			name:     "Different content is changed",
			store:    &fakeFingerprintStore{exists: true, hash: "old"},
			hash:     "abc",
			expected: models.ClassificationChanged,
		},
		{
			name:     "Lookup failure degrades to new",
			store:    &fakeFingerprintStore{err: errors.New("connection refused")},
			hash:     "abc",
			expected: models.ClassificationNew,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(ctx, tt.store, "fp", tt.hash)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}
