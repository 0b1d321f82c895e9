package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/kvinther/job-agent/internal/feedback"
	"github.com/kvinther/job-agent/internal/listing"
)

// Runs against a real Postgres when JOB_AGENT_TEST_DSN is set, e.g.
// JOB_AGENT_TEST_DSN="host=localhost user=postgres dbname=job_agent_test sslmode=disable"
type StoreTestSuite struct {
	suite.Suite
	db       *sqlx.DB
	listings *ListingStore
	feedback *FeedbackStore
	ctx      context.Context
}

func TestStoreTestSuite(t *testing.T) {
	if os.Getenv("JOB_AGENT_TEST_DSN") == "" {
		t.Skip("JOB_AGENT_TEST_DSN not set, skipping store integration tests")
	}
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) SetupTest() {
	s.ctx = context.Background()

	db, err := sqlx.Connect("postgres", os.Getenv("JOB_AGENT_TEST_DSN"))
	require.NoError(s.T(), err)
	s.db = db

	_, err = db.ExecContext(s.ctx, `DROP TABLE IF EXISTS listings; DROP TABLE IF EXISTS feedback`)
	require.NoError(s.T(), err)
	require.NoError(s.T(), EnsureSchema(s.ctx, db))

	s.listings = NewListingStore(db)
	s.feedback = NewFeedbackStore(db)
}

func (s *StoreTestSuite) TearDownTest() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *StoreTestSuite) insertListing(fp string, firstSeen time.Time) {
	err := s.listings.InsertBatch(s.ctx, []*listing.Listing{{
		Fingerprint: fp,
		Title:       "Konsulent",
		Company:     "KL",
		Location:    "København",
		Sector:      "offentlig",
		Source:      "jobindex",
		FirstSeenAt: firstSeen,
		SourcesSeen: []string{"jobindex"},
	}})
	s.Require().NoError(err)
}

func (s *StoreTestSuite) TestInsertIsIdempotent() {
	now := time.Now().UTC()
	s.insertListing("fp-1", now)
	s.insertListing("fp-1", now.Add(time.Hour))

	known, err := s.listings.Known(s.ctx, []string{"fp-1", "fp-2"})
	s.NoError(err)
	s.Len(known, 1)
	s.Contains(known, "fp-1")
}

func (s *StoreTestSuite) TestScoreLifecycle() {
	now := time.Now().UTC()
	s.insertListing("fp-1", now)

	unscored, err := s.listings.Unscored(s.ctx, 10)
	s.NoError(err)
	s.Len(unscored, 1)

	score := &listing.Score{
		Value:      82,
		Rationale:  "good fit",
		Highlights: []string{"sector"},
		Concerns:   []string{"seniority"},
		ScoredAt:   now,
	}
	s.NoError(s.listings.AttachScore(s.ctx, "fp-1", score))

	// Second attach must not overwrite; scores are immutable.
	s.NoError(s.listings.AttachScore(s.ctx, "fp-1", &listing.Score{Value: 10, ScoredAt: now}))

	ready, err := s.listings.ReadyForDigest(s.ctx)
	s.NoError(err)
	s.Require().Len(ready, 1)
	s.Require().NotNil(ready[0].Score)
	s.Equal(82, ready[0].Score.Value)
	s.Equal([]string{"sector"}, ready[0].Score.Highlights)

	s.NoError(s.listings.MarkNotified(s.ctx, []string{"fp-1"}))

	ready, err = s.listings.ReadyForDigest(s.ctx)
	s.NoError(err)
	s.Empty(ready)
}

func (s *StoreTestSuite) TestFeedbackIdempotentAndOrdered() {
	now := time.Now().UTC().Truncate(time.Microsecond)
	s.insertListing("fp-1", now)

	fb := feedback.Feedback{
		ListingFingerprint: "fp-1",
		Type:               feedback.TypeLike,
		Note:               "relevant",
		CreatedAt:          now,
	}

	inserted, err := s.feedback.Record(s.ctx, fb)
	s.NoError(err)
	s.True(inserted)

	inserted, err = s.feedback.Record(s.ctx, fb)
	s.NoError(err)
	s.False(inserted, "identical feedback is a no-op")

	later := fb
	later.Type = feedback.TypeDislike
	later.CreatedAt = now.Add(time.Minute)
	_, err = s.feedback.Record(s.ctx, later)
	s.NoError(err)

	history, err := s.feedback.ContextFor(s.ctx, "fp-1", 10)
	s.NoError(err)
	s.Require().Len(history, 2)
	s.Equal(feedback.TypeDislike, history[0].Type, "most recent first")
	s.Equal("Konsulent", history[0].Title)

	bias, err := s.feedback.AggregateBias(s.ctx)
	s.NoError(err)
	s.Equal(1, bias.Liked)
	s.Equal(1, bias.Disliked)
	s.Equal(1, bias.LikedBySector["offentlig"])
}

func (s *StoreTestSuite) TestFeedbackForUnknownFingerprint() {
	fb := feedback.Feedback{
		ListingFingerprint: "gone",
		Type:               feedback.TypeDislike,
		CreatedAt:          time.Now().UTC(),
	}
	inserted, err := s.feedback.Record(s.ctx, fb)
	s.NoError(err)
	s.True(inserted, "feedback references, it does not own")

	history, err := s.feedback.ContextFor(s.ctx, "gone", 10)
	s.NoError(err)
	s.Require().Len(history, 1)
	s.Empty(history[0].Title)
}

func (s *StoreTestSuite) TestStats() {
	now := time.Now().UTC()
	s.insertListing("fp-1", now)

	stats, err := s.listings.Stats(s.ctx)
	s.NoError(err)
	s.Equal(1, stats.Listings)
	s.Equal(0, stats.Scored)
}
