package listing

import (
	"time"
)

// Listing is one job posting, collapsed across the sources that reported it.
// The fingerprint is derived from the normalized (title, company, location)
// tuple and never changes after creation.
type Listing struct {
	Fingerprint string
	Title       string
	Company     string
	Location    string
	Sector      string
	Source      string
	URL         string
	PostedAt    *time.Time
	RawText     string
	FirstSeenAt time.Time

	// SourcesSeen records every connector that reported this posting during
	// a run. Informational only; the first-seen source wins for storage.
	SourcesSeen []string

	Score    *Score
	Notified bool
}

// Score is attached to a listing exactly once. Re-scoring is not performed;
// feedback influences only listings scored after it was recorded.
type Score struct {
	Value      int
	Rationale  string
	Highlights []string
	Concerns   []string
	ScoredAt   time.Time
}

// Scored reports whether a relevance score has been attached.
func (l *Listing) Scored() bool {
	return l.Score != nil
}
