package scrape

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/bidscout/bidscout/internal/models"
)

// Fingerprint computes the stable identity hash for one posting: the same
// remote content always hashes the same, while a moved due date or changed
// title produces a new value (an "update", not a duplicate).
func Fingerprint(r RawOpportunity) string {
	identity := strings.ToLower(strings.TrimSpace(r.ExternalID))
	if identity == "" {
		identity = strings.ToLower(normalizeSpace(r.Title))
	}

	h := sha256.New()
	h.Write([]byte(r.Source))
	h.Write([]byte{0})
	h.Write([]byte(identity))
	h.Write([]byte{0})
	h.Write([]byte(dueDateToken(r.DueDate)))
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash covers the mutable fields. Two scrapes of an unchanged posting
// produce equal hashes; any visible edit flips it, which is what marks an
// existing fingerprint as "changed" rather than "duplicate".
func ContentHash(r RawOpportunity) string {
	parts := []string{
		normalizeSpace(r.Title),
		normalizeSpace(r.Agency),
		normalizeSpace(r.Summary),
		dueDateToken(r.DueDate),
		dueDateToken(r.PostedDate),
		r.SourceURL,
		strings.Join(r.Attachments, "|"),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

func dueDateToken(d DateResult) string {
	switch d.Kind {
	case DateKnown:
		return d.Time.UTC().Format(time.RFC3339)
	case NoDeadline:
		return "no-deadline"
	default:
		return "unknown"
	}
}

// Deduper is the run-local seen set. Pagination overlap and listing/detail
// double-surfacing both produce repeats within one run; those are dropped
// silently, not reported as errors.
type Deduper struct {
	seen map[string]struct{}
}

func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]struct{})}
}

// Seen marks fp and reports whether it had already appeared in this run.
func (d *Deduper) Seen(fp string) bool {
	if _, ok := d.seen[fp]; ok {
		return true
	}
	d.seen[fp] = struct{}{}
	return false
}

func (d *Deduper) Count() int { return len(d.seen) }

// FingerprintStore is the narrow view of the persistence collaborator the
// deduplicator consults for cross-run classification.
type FingerprintStore interface {
	// LookupFingerprint reports whether fp exists in prior runs and, if so,
	// the content hash stored for it.
	LookupFingerprint(ctx context.Context, fp string) (exists bool, contentHash string, err error)
}

// Classify decides new/changed/duplicate for a fingerprint against prior
// runs. A lookup failure degrades to "new" so a flaky store never blocks
// ingestion; the upsert downstream is idempotent either way.
func Classify(ctx context.Context, store FingerprintStore, fp, contentHash string) (models.Classification, error) {
	exists, stored, err := store.LookupFingerprint(ctx, fp)
	if err != nil {
		return models.ClassificationNew, err
	}
	if !exists {
		return models.ClassificationNew, nil
	}
	if stored != contentHash {
		return models.ClassificationChanged, nil
	}
	return models.ClassificationDuplicate, nil
}
