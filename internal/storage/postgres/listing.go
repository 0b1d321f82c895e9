package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kvinther/job-agent/internal/listing"
)

type ListingStore struct {
	db *sqlx.DB
}

func NewListingStore(db *sqlx.DB) *ListingStore {
	return &ListingStore{db: db}
}

type listingRow struct {
	Fingerprint    string         `db:"fingerprint"`
	Title          string         `db:"title"`
	Company        string         `db:"company"`
	Location       string         `db:"location"`
	Sector         string         `db:"sector"`
	Source         string         `db:"source"`
	URL            string         `db:"url"`
	PostedAt       sql.NullTime   `db:"posted_at"`
	RawText        string         `db:"raw_text"`
	FirstSeenAt    time.Time      `db:"first_seen_at"`
	SourcesSeen    pq.StringArray `db:"sources_seen"`
	RelevanceScore sql.NullInt64  `db:"relevance_score"`
	Rationale      sql.NullString `db:"rationale"`
	Highlights     pq.StringArray `db:"highlights"`
	Concerns       pq.StringArray `db:"concerns"`
	ScoredAt       sql.NullTime   `db:"scored_at"`
	Notified       bool           `db:"notified"`
}

const listingColumns = `fingerprint, title, company, location, sector, source, url,
	posted_at, raw_text, first_seen_at, sources_seen,
	relevance_score, rationale, highlights, concerns, scored_at, notified`

func (r *listingRow) toDomain() *listing.Listing {
	l := &listing.Listing{
		Fingerprint: r.Fingerprint,
		Title:       r.Title,
		Company:     r.Company,
		Location:    r.Location,
		Sector:      r.Sector,
		Source:      r.Source,
		URL:         r.URL,
		RawText:     r.RawText,
		FirstSeenAt: r.FirstSeenAt,
		SourcesSeen: r.SourcesSeen,
		Notified:    r.Notified,
	}
	if r.PostedAt.Valid {
		posted := r.PostedAt.Time
		l.PostedAt = &posted
	}
	if r.RelevanceScore.Valid {
		l.Score = &listing.Score{
			Value:      int(r.RelevanceScore.Int64),
			Rationale:  r.Rationale.String,
			Highlights: r.Highlights,
			Concerns:   r.Concerns,
			ScoredAt:   r.ScoredAt.Time,
		}
	}
	return l
}

// Known returns the subset of the given fingerprints already persisted.
func (s *ListingStore) Known(ctx context.Context, fingerprints []string) (map[string]struct{}, error) {
	known := make(map[string]struct{}, len(fingerprints))
	if len(fingerprints) == 0 {
		return known, nil
	}

	query := `SELECT fingerprint FROM listings WHERE fingerprint = ANY($1)`
	rows, err := GetExecutor(ctx, s.db).QueryxContext(ctx, query, pq.Array(fingerprints))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		known[fp] = struct{}{}
	}
	return known, rows.Err()
}

// InsertBatch persists new listings. Conflicting fingerprints are left
// untouched: a listing is created once and never re-ingested.
func (s *ListingStore) InsertBatch(ctx context.Context, items []*listing.Listing) error {
	query := `
		INSERT INTO listings (
			fingerprint, title, company, location, sector, source, url,
			posted_at, raw_text, first_seen_at, sources_seen
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (fingerprint) DO NOTHING`

	exec := GetExecutor(ctx, s.db)
	for _, l := range items {
		var postedAt sql.NullTime
		if l.PostedAt != nil {
			postedAt = sql.NullTime{Time: *l.PostedAt, Valid: true}
		}

		_, err := exec.ExecContext(ctx, query,
			l.Fingerprint,
			l.Title,
			l.Company,
			l.Location,
			l.Sector,
			l.Source,
			l.URL,
			postedAt,
			l.RawText,
			l.FirstSeenAt,
			pq.Array(l.SourcesSeen),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// AttachScore sets a listing's score once. A listing that already carries a
// score is not updated; scores are immutable.
func (s *ListingStore) AttachScore(ctx context.Context, fingerprint string, score *listing.Score) error {
	query := `
		UPDATE listings
		SET relevance_score = $2,
			rationale = $3,
			highlights = $4,
			concerns = $5,
			scored_at = $6
		WHERE fingerprint = $1 AND relevance_score IS NULL`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		fingerprint,
		score.Value,
		score.Rationale,
		pq.Array(score.Highlights),
		pq.Array(score.Concerns),
		score.ScoredAt,
	)
	return err
}

// Unscored returns listings still awaiting a score, oldest first, so
// postings left over from failed runs are retried before new ones.
func (s *ListingStore) Unscored(ctx context.Context, limit int) ([]*listing.Listing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE relevance_score IS NULL
		ORDER BY first_seen_at ASC
		LIMIT $1`

	return s.queryListings(ctx, query, limit)
}

// ReadyForDigest returns scored listings not yet included in a delivered
// digest, regardless of which run first saw them.
func (s *ListingStore) ReadyForDigest(ctx context.Context) ([]*listing.Listing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE relevance_score IS NOT NULL AND NOT notified
		ORDER BY relevance_score DESC, first_seen_at ASC`

	return s.queryListings(ctx, query)
}

// RecentNotified returns the latest delivered listings, newest first. Used by
// the interactive feedback picker.
func (s *ListingStore) RecentNotified(ctx context.Context, limit int) ([]*listing.Listing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE notified
		ORDER BY first_seen_at DESC
		LIMIT $1`

	return s.queryListings(ctx, query, limit)
}

// MarkNotified flags the given listings as delivered. Only called after the
// sink accepted the digest; a failed delivery leaves the flags untouched so
// the next run retries.
func (s *ListingStore) MarkNotified(ctx context.Context, fingerprints []string) error {
	if len(fingerprints) == 0 {
		return nil
	}

	query := `UPDATE listings SET notified = TRUE WHERE fingerprint = ANY($1)`
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, pq.Array(fingerprints))
	return err
}

func (s *ListingStore) queryListings(ctx context.Context, query string, args ...any) ([]*listing.Listing, error) {
	rows, err := GetExecutor(ctx, s.db).QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*listing.Listing
	for rows.Next() {
		var row listingRow
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		result = append(result, row.toDomain())
	}
	return result, rows.Err()
}

// Stats summarizes the store for operator logging and the stats command.
type Stats struct {
	Listings int `db:"listings"`
	Scored   int `db:"scored"`
	Notified int `db:"notified"`
	Feedback int `db:"feedback"`
}

func (s *ListingStore) Stats(ctx context.Context) (*Stats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM listings) AS listings,
			(SELECT COUNT(*) FROM listings WHERE relevance_score IS NOT NULL) AS scored,
			(SELECT COUNT(*) FROM listings WHERE notified) AS notified,
			(SELECT COUNT(*) FROM feedback) AS feedback`

	var stats Stats
	if err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &stats, query); err != nil {
		return nil, err
	}
	return &stats, nil
}
