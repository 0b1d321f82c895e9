package listing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintStableAcrossSources(t *testing.T) {
	// Normalization collapses case and surrounding/internal whitespace.
	a := Fingerprint("Analysekonsulent", "Epinion", "Aarhus")
	b := Fingerprint("  analysekonsulent ", "EPINION", "aarhus ")
	c := Fingerprint("Analyse  konsulent", "Epinion", "Aarhus")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, fingerprintLen)
}

func TestFingerprintDistinguishesFields(t *testing.T) {
	base := Fingerprint("Konsulent", "KL", "København")
	assert.NotEqual(t, base, Fingerprint("Konsulent", "KL", "Aarhus"))
	assert.NotEqual(t, base, Fingerprint("Konsulent", "DI", "København"))
	assert.NotEqual(t, base, Fingerprint("Chefkonsulent", "KL", "København"))
}

func TestCollapseKeepsFirstSeenSource(t *testing.T) {
	r := NewResolver(nil)

	batch := []*Listing{
		{Title: "Konsulent", Company: "KL", Location: "København", Source: "jobindex", URL: "https://jobindex.dk/1", SourcesSeen: []string{"jobindex"}},
		{Title: "Data Analyst", Company: "Vestas", Location: "Aarhus", Source: "jobnet", SourcesSeen: []string{"jobnet"}},
		{Title: "konsulent", Company: "kl", Location: "københavn", Source: "jobnet", URL: "https://jobnet.dk/9", SourcesSeen: []string{"jobnet"}},
	}

	unique := r.Collapse(batch)
	require.Len(t, unique, 2)

	first := unique[0]
	assert.Equal(t, "jobindex", first.Source, "first occurrence wins")
	assert.Equal(t, "https://jobindex.dk/1", first.URL)
	assert.Equal(t, []string{"jobindex", "jobnet"}, first.SourcesSeen)

	for _, l := range unique {
		assert.NotEmpty(t, l.Fingerprint)
	}
}

func TestCollapseMergesIdenticalOpenings(t *testing.T) {
	// Two distinct seats with the same title, company and location merge.
	// The sources cannot tell them apart, so this is the accepted behavior.
	r := NewResolver(nil)

	batch := []*Listing{
		{Title: "Software Engineer", Company: "LEGO", Location: "Billund", Source: "boardapi", SourcesSeen: []string{"boardapi"}},
		{Title: "Software Engineer", Company: "LEGO", Location: "Billund", Source: "boardapi", SourcesSeen: []string{"boardapi"}},
	}

	unique := r.Collapse(batch)
	assert.Len(t, unique, 1)
	assert.Equal(t, []string{"boardapi"}, unique[0].SourcesSeen)
}
