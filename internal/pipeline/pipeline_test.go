package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kvinther/job-agent/internal/ai"
	"github.com/kvinther/job-agent/internal/digest"
	"github.com/kvinther/job-agent/internal/feedback"
	"github.com/kvinther/job-agent/internal/listing"
	"github.com/kvinther/job-agent/internal/profile"
	"github.com/kvinther/job-agent/internal/source"
)

type fakeConnector struct {
	id      string
	records []source.Record
	err     error
	calls   int
}

func (f *fakeConnector) ID() string { return f.id }

func (f *fakeConnector) Fetch(context.Context) ([]source.Record, error) {
	f.calls++
	return f.records, f.err
}

type memoryStore struct {
	mu       sync.Mutex
	listings map[string]*listing.Listing
	inserts  int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{listings: make(map[string]*listing.Listing)}
}

func (m *memoryStore) Known(_ context.Context, fps []string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	known := make(map[string]struct{})
	for _, fp := range fps {
		if _, ok := m.listings[fp]; ok {
			known[fp] = struct{}{}
		}
	}
	return known, nil
}

func (m *memoryStore) InsertBatch(_ context.Context, items []*listing.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range items {
		if _, ok := m.listings[l.Fingerprint]; ok {
			continue
		}
		cp := *l
		m.listings[l.Fingerprint] = &cp
		m.inserts++
	}
	return nil
}

func (m *memoryStore) AttachScore(_ context.Context, fp string, score *listing.Score) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[fp]
	if !ok {
		return fmt.Errorf("unknown fingerprint %s", fp)
	}
	if l.Score == nil {
		l.Score = score
	}
	return nil
}

func (m *memoryStore) Unscored(_ context.Context, limit int) ([]*listing.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*listing.Listing
	for _, l := range m.listings {
		if l.Score == nil {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) ReadyForDigest(context.Context) ([]*listing.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*listing.Listing
	for _, l := range m.listings {
		if l.Score != nil && !l.Notified {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out, nil
}

func (m *memoryStore) MarkNotified(_ context.Context, fps []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, fp := range fps {
		if l, ok := m.listings[fp]; ok {
			l.Notified = true
		}
	}
	return nil
}

type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeFeedbackStore struct {
	history feedback.Context
}

func (f *fakeFeedbackStore) Recent(context.Context, int) (feedback.Context, error) {
	return f.history, nil
}

func (f *fakeFeedbackStore) ContextFor(context.Context, string, int) (feedback.Context, error) {
	return nil, nil
}

func (f *fakeFeedbackStore) AggregateBias(context.Context) (*feedback.AggregateBias, error) {
	return &feedback.AggregateBias{}, nil
}

type fakeScorer struct {
	mu     sync.Mutex
	calls  int
	value  int
	failFP map[string]error
}

func (f *fakeScorer) Score(_ context.Context, l *listing.Listing, _ *profile.CandidateProfile, _ feedback.Context, _ *feedback.AggregateBias) (*ai.Assessment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.failFP[l.Fingerprint]; ok {
		return nil, err
	}
	return &ai.Assessment{Value: f.value, Rationale: "fits"}, nil
}

type fakeSink struct {
	mu        sync.Mutex
	delivered []*digest.Digest
	err       error
}

func (f *fakeSink) Name() string { return "fake" }

// Deliver suppresses empty digests like the real sinks do.
func (f *fakeSink) Deliver(_ context.Context, d *digest.Digest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.Empty() {
		return nil
	}
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, d)
	return nil
}

func record(title, company, location string) source.Record {
	return source.Record{
		Fields: map[string]any{
			"title":    title,
			"company":  company,
			"location": location,
		},
	}
}

type fixture struct {
	coordinator *Coordinator
	store       *memoryStore
	scorer      *fakeScorer
	sink        *fakeSink
}

func newFixture(t *testing.T, connectors ...source.Connector) *fixture {
	t.Helper()
	log := zap.NewNop()

	store := newMemoryStore()
	scorer := &fakeScorer{value: 75}
	sk := &fakeSink{}

	c := NewCoordinator(
		connectors,
		listing.NewNormalizer(nil, log),
		listing.NewResolver(log),
		store,
		&fakeFeedbackStore{},
		passthroughTx{},
		scorer,
		digest.NewComposer(60, nil, log),
		sk,
		&profile.CandidateProfile{Name: "Kim"},
		Config{Concurrency: 2},
		log,
	)
	c.now = func() time.Time { return time.Date(2026, 8, 24, 8, 0, 0, 0, time.UTC) }

	return &fixture{coordinator: c, store: store, scorer: scorer, sink: sk}
}

func TestRunFullCycle(t *testing.T) {
	a := &fakeConnector{id: "a", records: []source.Record{
		record("Konsulent", "KL", "København"),
		record("Analytiker", "DST", "København"),
	}}
	// Same posting again under a different source.
	b := &fakeConnector{id: "b", records: []source.Record{
		record("Konsulent", "KL", "København"),
	}}
	for i := range a.records {
		a.records[i].Source = "a"
	}
	b.records[0].Source = "b"

	fx := newFixture(t, a, b)
	stats, err := fx.coordinator.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Fetched)
	assert.Equal(t, 1, stats.Collapsed)
	assert.Equal(t, 2, stats.NewListings)
	assert.Equal(t, 2, stats.Scored)
	assert.Equal(t, 2, stats.Delivered)
	assert.Empty(t, stats.SourceErrors)

	require.Len(t, fx.sink.delivered, 1)
	assert.Equal(t, 2, fx.sink.delivered[0].Total)

	for _, l := range fx.store.listings {
		assert.True(t, l.Notified)
		require.NotNil(t, l.Score)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	conn := &fakeConnector{id: "a", records: []source.Record{record("Konsulent", "KL", "København")}}
	conn.records[0].Source = "a"

	fx := newFixture(t, conn)

	_, err := fx.coordinator.Run(context.Background())
	require.NoError(t, err)

	stats, err := fx.coordinator.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, stats.NewListings, "rerun must not re-ingest")
	assert.Equal(t, 0, stats.Scored, "rerun must not re-score")
	assert.Equal(t, 0, stats.Delivered, "rerun must not re-notify")
	assert.Equal(t, 1, fx.store.inserts)
	assert.Equal(t, 1, fx.scorer.calls)
	assert.Len(t, fx.sink.delivered, 1)
}

func TestRunIsolatesConnectorFailure(t *testing.T) {
	good := &fakeConnector{id: "good", records: []source.Record{record("Konsulent", "KL", "København")}}
	good.records[0].Source = "good"
	bad := &fakeConnector{id: "bad", err: errors.New("HTTP 429")}

	fx := newFixture(t, good, bad)
	stats, err := fx.coordinator.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.NewListings)
	assert.Equal(t, 1, stats.Delivered)
	require.Contains(t, stats.SourceErrors, "bad")
}

func TestRunFailsWhenAllSourcesFail(t *testing.T) {
	a := &fakeConnector{id: "a", err: errors.New("down")}
	b := &fakeConnector{id: "b", err: errors.New("down")}

	fx := newFixture(t, a, b)
	_, err := fx.coordinator.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all sources failed")
}

func TestRunSkipsMalformedRecords(t *testing.T) {
	conn := &fakeConnector{id: "a", records: []source.Record{
		record("Konsulent", "KL", "København"),
		{Source: "a", Fields: map[string]any{"title": "No company"}},
	}}
	conn.records[0].Source = "a"

	fx := newFixture(t, conn)
	stats, err := fx.coordinator.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Malformed)
	assert.Equal(t, 1, stats.NewListings)
}

func TestRunScoringFailureLeavesListingPending(t *testing.T) {
	conn := &fakeConnector{id: "a", records: []source.Record{
		record("Konsulent", "KL", "København"),
		record("Analytiker", "DST", "Aarhus"),
	}}
	for i := range conn.records {
		conn.records[i].Source = "a"
	}

	fx := newFixture(t, conn)
	failing := listing.Fingerprint("Analytiker", "DST", "Aarhus")
	fx.scorer.failFP = map[string]error{failing: errors.New("model overloaded")}

	stats, err := fx.coordinator.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Scored)
	assert.Equal(t, 1, stats.ScoreFailures)
	assert.Equal(t, 1, stats.Delivered)
	require.Nil(t, fx.store.listings[failing].Score)

	// The next run picks the failed listing up again.
	fx.scorer.failFP = nil
	stats, err = fx.coordinator.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scored)
	assert.Equal(t, 1, stats.Delivered)
	require.NotNil(t, fx.store.listings[failing].Score)
}

func TestRunSinkFailureKeepsListingsUnnotified(t *testing.T) {
	conn := &fakeConnector{id: "a", records: []source.Record{record("Konsulent", "KL", "København")}}
	conn.records[0].Source = "a"

	fx := newFixture(t, conn)
	fx.sink.err = errors.New("smtp unreachable")

	_, err := fx.coordinator.Run(context.Background())
	require.Error(t, err)

	for _, l := range fx.store.listings {
		assert.False(t, l.Notified)
	}

	// Delivery succeeds on the rerun without re-scoring anything.
	fx.sink.err = nil
	stats, err := fx.coordinator.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Scored)
	assert.Equal(t, 1, stats.Delivered)
	assert.Len(t, fx.sink.delivered, 1)
}
