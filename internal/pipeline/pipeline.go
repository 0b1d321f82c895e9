// Package pipeline coordinates one run of the agent: fetch, normalize,
// deduplicate, persist, score, compose and deliver.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kvinther/job-agent/internal/ai"
	"github.com/kvinther/job-agent/internal/digest"
	"github.com/kvinther/job-agent/internal/feedback"
	"github.com/kvinther/job-agent/internal/listing"
	"github.com/kvinther/job-agent/internal/profile"
	"github.com/kvinther/job-agent/internal/sink"
	"github.com/kvinther/job-agent/internal/source"
)

// ListingStore is the slice of persistence the coordinator needs for
// listings. Satisfied by postgres.ListingStore.
type ListingStore interface {
	Known(ctx context.Context, fingerprints []string) (map[string]struct{}, error)
	InsertBatch(ctx context.Context, items []*listing.Listing) error
	AttachScore(ctx context.Context, fingerprint string, score *listing.Score) error
	Unscored(ctx context.Context, limit int) ([]*listing.Listing, error)
	ReadyForDigest(ctx context.Context) ([]*listing.Listing, error)
	MarkNotified(ctx context.Context, fingerprints []string) error
}

// FeedbackStore supplies the scoring context. Satisfied by
// postgres.FeedbackStore.
type FeedbackStore interface {
	Recent(ctx context.Context, limit int) (feedback.Context, error)
	ContextFor(ctx context.Context, fingerprint string, limit int) (feedback.Context, error)
	AggregateBias(ctx context.Context) (*feedback.AggregateBias, error)
}

// Transactor runs a function inside one database transaction. Satisfied by
// postgres.TransactionManager.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Config struct {
	// ScoreBatch bounds how many unscored listings one run assesses.
	ScoreBatch int `mapstructure:"score_batch"`
	// Concurrency bounds parallel scoring calls.
	Concurrency int `mapstructure:"concurrency"`
	// RecentFeedback is how many feedback entries accompany each prompt.
	RecentFeedback int `mapstructure:"recent_feedback"`
}

const (
	defaultScoreBatch     = 50
	defaultConcurrency    = 3
	defaultRecentFeedback = 20
)

// RunStats summarizes one run for logging and the exit report.
type RunStats struct {
	Fetched       int
	Malformed     int
	Collapsed     int
	NewListings   int
	Scored        int
	ScoreFailures int
	Delivered     int
	SourceErrors  map[string]error
}

type Coordinator struct {
	connectors []source.Connector
	normalizer *listing.Normalizer
	resolver   *listing.Resolver
	listings   ListingStore
	feedback   FeedbackStore
	tx         Transactor
	scorer     ai.Scorer
	composer   *digest.Composer
	sink       sink.Sink
	candidate  *profile.CandidateProfile
	cfg        Config
	logger     *zap.Logger

	now func() time.Time
}

func NewCoordinator(
	connectors []source.Connector,
	normalizer *listing.Normalizer,
	resolver *listing.Resolver,
	listings ListingStore,
	feedbackStore FeedbackStore,
	tx Transactor,
	scorer ai.Scorer,
	composer *digest.Composer,
	s sink.Sink,
	candidate *profile.CandidateProfile,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	if cfg.ScoreBatch <= 0 {
		cfg.ScoreBatch = defaultScoreBatch
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.RecentFeedback <= 0 {
		cfg.RecentFeedback = defaultRecentFeedback
	}

	return &Coordinator{
		connectors: connectors,
		normalizer: normalizer,
		resolver:   resolver,
		listings:   listings,
		feedback:   feedbackStore,
		tx:         tx,
		scorer:     scorer,
		composer:   composer,
		sink:       s,
		candidate:  candidate,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Run executes one full cycle. Connector and scoring failures are isolated
// and reported in the stats; store and delivery failures abort the run. A
// rerun over the same sources is a no-op apart from retrying what failed.
func (c *Coordinator) Run(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{SourceErrors: make(map[string]error)}

	batch, err := c.ingest(ctx, stats)
	if err != nil {
		return stats, err
	}

	if err := c.persistNew(ctx, batch, stats); err != nil {
		return stats, fmt.Errorf("persisting listings: %w", err)
	}

	if err := c.scorePending(ctx, stats); err != nil {
		return stats, err
	}

	if err := c.deliver(ctx, stats); err != nil {
		return stats, err
	}

	c.logger.Info("run finished",
		zap.Int("fetched", stats.Fetched),
		zap.Int("malformed", stats.Malformed),
		zap.Int("new_listings", stats.NewListings),
		zap.Int("scored", stats.Scored),
		zap.Int("score_failures", stats.ScoreFailures),
		zap.Int("delivered", stats.Delivered),
		zap.Int("source_errors", len(stats.SourceErrors)),
	)

	return stats, nil
}

// ingest fetches every source concurrently and returns the deduplicated
// batch. A failing source contributes nothing but does not stop the others.
func (c *Coordinator) ingest(ctx context.Context, stats *RunStats) ([]*listing.Listing, error) {
	var mu sync.Mutex
	var records []source.Record

	g, gctx := errgroup.WithContext(ctx)
	for _, conn := range c.connectors {
		conn := conn
		g.Go(func() error {
			fetched, err := conn.Fetch(gctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.Warn("source failed, continuing without it",
					zap.String("source", conn.ID()),
					zap.Error(err),
				)
				stats.SourceErrors[conn.ID()] = err
				return nil
			}
			records = append(records, fetched...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stats.Fetched = len(records)

	if len(c.connectors) > 0 && len(stats.SourceErrors) == len(c.connectors) {
		return nil, errors.New("all sources failed")
	}

	var batch []*listing.Listing
	for _, rec := range records {
		l, err := c.normalizer.Normalize(rec.Source, rec.Fields)
		if err != nil {
			stats.Malformed++
			continue
		}
		batch = append(batch, l)
	}

	collapsed := c.resolver.Collapse(batch)
	stats.Collapsed = len(batch) - len(collapsed)
	return collapsed, nil
}

// persistNew inserts listings not yet known, inside one transaction so a
// partially written batch never survives a crash.
func (c *Coordinator) persistNew(ctx context.Context, batch []*listing.Listing, stats *RunStats) error {
	if len(batch) == 0 {
		return nil
	}

	fps := make([]string, len(batch))
	for i, l := range batch {
		fps[i] = l.Fingerprint
	}

	return c.tx.WithTransaction(ctx, func(ctx context.Context) error {
		known, err := c.listings.Known(ctx, fps)
		if err != nil {
			return err
		}

		now := c.now().UTC()
		var fresh []*listing.Listing
		for _, l := range batch {
			if _, ok := known[l.Fingerprint]; ok {
				continue
			}
			l.FirstSeenAt = now
			fresh = append(fresh, l)
		}

		if err := c.listings.InsertBatch(ctx, fresh); err != nil {
			return err
		}
		stats.NewListings = len(fresh)
		return nil
	})
}

// scorePending assesses unscored listings with bounded concurrency. A
// listing whose assessment fails stays unscored and is picked up by the
// next run.
func (c *Coordinator) scorePending(ctx context.Context, stats *RunStats) error {
	pending, err := c.listings.Unscored(ctx, c.cfg.ScoreBatch)
	if err != nil {
		return fmt.Errorf("loading unscored listings: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	history, err := c.feedback.Recent(ctx, c.cfg.RecentFeedback)
	if err != nil {
		return fmt.Errorf("loading feedback: %w", err)
	}
	bias, err := c.feedback.AggregateBias(ctx)
	if err != nil {
		return fmt.Errorf("loading feedback bias: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)

	for _, l := range pending {
		l := l
		g.Go(func() error {
			// Feedback naming this exact fingerprint takes precedence over
			// the general recent history.
			specific, err := c.feedback.ContextFor(gctx, l.Fingerprint, c.cfg.RecentFeedback)
			if err != nil {
				return fmt.Errorf("loading feedback for %s: %w", l.Fingerprint, err)
			}

			assessment, err := c.scorer.Score(gctx, l, c.candidate, append(specific, history...), bias)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				c.logger.Warn("scoring failed, listing stays pending",
					zap.String("fingerprint", l.Fingerprint),
					zap.String("title", l.Title),
					zap.Error(err),
				)
				mu.Lock()
				stats.ScoreFailures++
				mu.Unlock()
				return nil
			}

			score := &listing.Score{
				Value:      assessment.Value,
				Rationale:  assessment.Rationale,
				Highlights: assessment.Highlights,
				Concerns:   assessment.Concerns,
				ScoredAt:   c.now().UTC(),
			}
			if err := c.listings.AttachScore(gctx, l.Fingerprint, score); err != nil {
				return fmt.Errorf("storing score for %s: %w", l.Fingerprint, err)
			}

			mu.Lock()
			stats.Scored++
			mu.Unlock()
			return nil
		})
	}

	return g.Wait()
}

// deliver composes a digest from everything scored but not yet sent.
// Listings are flagged as notified only after the sink accepted the digest,
// so a failed delivery is retried wholesale next run.
func (c *Coordinator) deliver(ctx context.Context, stats *RunStats) error {
	ready, err := c.listings.ReadyForDigest(ctx)
	if err != nil {
		return fmt.Errorf("loading digest candidates: %w", err)
	}

	// An empty digest is still handed over; the sink decides whether to
	// suppress it.
	d := c.composer.Compose(c.now().UTC(), ready)

	if err := c.sink.Deliver(ctx, d); err != nil {
		return fmt.Errorf("delivering digest via %s: %w", c.sink.Name(), err)
	}

	if err := c.listings.MarkNotified(ctx, d.Fingerprints()); err != nil {
		return fmt.Errorf("marking listings notified: %w", err)
	}
	stats.Delivered = d.Total
	return nil
}
