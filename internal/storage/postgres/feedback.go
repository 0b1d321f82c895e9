package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kvinther/job-agent/internal/feedback"
)

type FeedbackStore struct {
	db *sqlx.DB
}

func NewFeedbackStore(db *sqlx.DB) *FeedbackStore {
	return &FeedbackStore{db: db}
}

// Record appends one feedback entry. Identical submissions are collapsed by
// the (fingerprint, type, created_at) unique constraint; re-submitting is a
// no-op, not an error. Returns whether a new entry was stored.
func (s *FeedbackStore) Record(ctx context.Context, fb feedback.Feedback) (bool, error) {
	query := `
		INSERT INTO feedback (listing_fingerprint, feedback_type, note, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (listing_fingerprint, feedback_type, created_at) DO NOTHING`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		fb.ListingFingerprint,
		string(fb.Type),
		fb.Note,
		fb.CreatedAt,
	)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

type contextRow struct {
	Fingerprint string         `db:"listing_fingerprint"`
	Type        string         `db:"feedback_type"`
	Note        string         `db:"note"`
	CreatedAt   time.Time      `db:"created_at"`
	Title       sql.NullString `db:"title"`
	Company     sql.NullString `db:"company"`
	Sector      sql.NullString `db:"sector"`
}

// ContextFor returns the feedback history for one fingerprint, most recent
// first, joined with whatever the listings table still knows about it. An
// unknown fingerprint yields an empty history, never an error.
func (s *FeedbackStore) ContextFor(ctx context.Context, fingerprint string, limit int) (feedback.Context, error) {
	query := `
		SELECT f.listing_fingerprint, f.feedback_type, f.note, f.created_at,
			l.title, l.company, l.sector
		FROM feedback f
		LEFT JOIN listings l ON l.fingerprint = f.listing_fingerprint
		WHERE f.listing_fingerprint = $1
		ORDER BY f.created_at DESC
		LIMIT $2`

	return s.queryContext(ctx, query, fingerprint, limit)
}

// Recent returns the newest feedback entries across all fingerprints, used
// as general scoring context alongside the per-fingerprint history.
func (s *FeedbackStore) Recent(ctx context.Context, limit int) (feedback.Context, error) {
	query := `
		SELECT f.listing_fingerprint, f.feedback_type, f.note, f.created_at,
			l.title, l.company, l.sector
		FROM feedback f
		LEFT JOIN listings l ON l.fingerprint = f.listing_fingerprint
		ORDER BY f.created_at DESC
		LIMIT $1`

	return s.queryContext(ctx, query, limit)
}

// AggregateBias summarizes like/dislike counts by sector across the corpus.
func (s *FeedbackStore) AggregateBias(ctx context.Context) (*feedback.AggregateBias, error) {
	query := `
		SELECT f.feedback_type, COALESCE(l.sector, '') AS sector, COUNT(*) AS count
		FROM feedback f
		LEFT JOIN listings l ON l.fingerprint = f.listing_fingerprint
		GROUP BY f.feedback_type, COALESCE(l.sector, '')`

	rows, err := GetExecutor(ctx, s.db).QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bias := &feedback.AggregateBias{
		LikedBySector:    make(map[string]int),
		DislikedBySector: make(map[string]int),
	}

	for rows.Next() {
		var fbType, sector string
		var count int
		if err := rows.Scan(&fbType, &sector, &count); err != nil {
			return nil, err
		}

		switch feedback.Type(fbType) {
		case feedback.TypeLike:
			bias.Liked += count
			bias.LikedBySector[sector] += count
		case feedback.TypeDislike:
			bias.Disliked += count
			bias.DislikedBySector[sector] += count
		}
	}
	return bias, rows.Err()
}

func (s *FeedbackStore) queryContext(ctx context.Context, query string, args ...any) (feedback.Context, error) {
	rows, err := GetExecutor(ctx, s.db).QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result feedback.Context
	for rows.Next() {
		var row contextRow
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		result = append(result, feedback.ContextEntry{
			Feedback: feedback.Feedback{
				ListingFingerprint: row.Fingerprint,
				Type:               feedback.Type(row.Type),
				Note:               row.Note,
				CreatedAt:          row.CreatedAt,
			},
			Title:   row.Title.String,
			Company: row.Company.String,
			Sector:  row.Sector.String,
		})
	}
	return result, rows.Err()
}
