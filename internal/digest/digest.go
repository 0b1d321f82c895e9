// Package digest turns scored listings into the sectioned summary that gets
// delivered to the candidate. Composition is pure: it reads listings and
// produces a value, leaving persistence and delivery to the caller.
package digest

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kvinther/job-agent/internal/listing"
)

// OtherSector collects listings whose sector could not be inferred.
const OtherSector = "Other"

// strongMatchThreshold marks the scores called out in the digest subject.
const strongMatchThreshold = 80

type Digest struct {
	GeneratedAt   time.Time
	Sections      []Section
	Total         int
	StrongMatches int
}

type Section struct {
	Sector  string
	Entries []*listing.Listing
}

func (d *Digest) Empty() bool {
	return d.Total == 0
}

type Composer struct {
	minRelevance int
	mustInclude  []string
	logger       *zap.Logger
}

// NewComposer builds a composer that admits listings scoring at least
// minRelevance, plus any listing whose title matches a must-include keyword
// regardless of score.
func NewComposer(minRelevance int, mustInclude []string, logger *zap.Logger) *Composer {
	keywords := make([]string, 0, len(mustInclude))
	for _, kw := range mustInclude {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}

	return &Composer{
		minRelevance: minRelevance,
		mustInclude:  keywords,
		logger:       logger,
	}
}

// Compose filters and groups the given listings into a digest. Listings
// without a score are skipped. Sections are ordered by their best score,
// entries within a section by score descending with first-seen time as the
// tie-break, so reruns over the same data produce the same digest.
func (c *Composer) Compose(now time.Time, items []*listing.Listing) *Digest {
	bySector := make(map[string][]*listing.Listing)

	for _, l := range items {
		if !l.Scored() {
			continue
		}
		if !c.admits(l) {
			continue
		}

		sector := l.Sector
		if sector == "" {
			sector = OtherSector
		}
		bySector[sector] = append(bySector[sector], l)
	}

	d := &Digest{GeneratedAt: now}
	for sector, entries := range bySector {
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].Score.Value != entries[j].Score.Value {
				return entries[i].Score.Value > entries[j].Score.Value
			}
			return entries[i].FirstSeenAt.Before(entries[j].FirstSeenAt)
		})

		d.Sections = append(d.Sections, Section{Sector: sector, Entries: entries})
		d.Total += len(entries)
		for _, l := range entries {
			if l.Score.Value >= strongMatchThreshold {
				d.StrongMatches++
			}
		}
	}

	sort.SliceStable(d.Sections, func(i, j int) bool {
		si, sj := d.Sections[i], d.Sections[j]
		if si.Entries[0].Score.Value != sj.Entries[0].Score.Value {
			return si.Entries[0].Score.Value > sj.Entries[0].Score.Value
		}
		return si.Sector < sj.Sector
	})

	c.logger.Debug("digest composed",
		zap.Int("candidates", len(items)),
		zap.Int("included", d.Total),
		zap.Int("sections", len(d.Sections)),
		zap.Int("strong_matches", d.StrongMatches),
	)

	return d
}

// Fingerprints lists every included listing, section order preserved.
func (d *Digest) Fingerprints() []string {
	fps := make([]string, 0, d.Total)
	for _, section := range d.Sections {
		for _, l := range section.Entries {
			fps = append(fps, l.Fingerprint)
		}
	}
	return fps
}

func (c *Composer) admits(l *listing.Listing) bool {
	if l.Score.Value >= c.minRelevance {
		return true
	}

	title := strings.ToLower(l.Title)
	for _, kw := range c.mustInclude {
		if strings.Contains(title, kw) {
			return true
		}
	}
	return false
}
