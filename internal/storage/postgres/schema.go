package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS listings (
	fingerprint     TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	company         TEXT NOT NULL,
	location        TEXT NOT NULL,
	sector          TEXT NOT NULL DEFAULT '',
	source          TEXT NOT NULL,
	url             TEXT NOT NULL DEFAULT '',
	posted_at       TIMESTAMPTZ,
	raw_text        TEXT NOT NULL DEFAULT '',
	first_seen_at   TIMESTAMPTZ NOT NULL,
	sources_seen    TEXT[] NOT NULL DEFAULT '{}',
	relevance_score INTEGER,
	rationale       TEXT,
	highlights      TEXT[],
	concerns        TEXT[],
	scored_at       TIMESTAMPTZ,
	notified        BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_listings_score ON listings (relevance_score);
CREATE INDEX IF NOT EXISTS idx_listings_notified ON listings (notified);

CREATE TABLE IF NOT EXISTS feedback (
	id                  BIGSERIAL PRIMARY KEY,
	listing_fingerprint TEXT NOT NULL,
	feedback_type       TEXT NOT NULL,
	note                TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL,
	UNIQUE (listing_fingerprint, feedback_type, created_at)
);

CREATE INDEX IF NOT EXISTS idx_feedback_fingerprint ON feedback (listing_fingerprint);
`

// EnsureSchema creates the tables on first start. Both tables must survive
// process restarts between scheduled runs; everything else is derived.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
