package listing

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"go.uber.org/zap"
)

// fingerprintLen keeps the stored key short while leaving plenty of margin
// against accidental collisions (64 bits of digest).
const fingerprintLen = 16

// Fingerprint derives the stable identity of a posting from its normalized
// title, company and location. URLs differ per job board for the same
// posting, so identity is the semantic tuple, not the URL. Two genuinely
// distinct openings sharing the tuple merge into one fingerprint; the source
// data cannot distinguish them, so this is an accepted false-merge.
func Fingerprint(title, company, location string) string {
	key := normalizeKey(title) + "|" + normalizeKey(company) + "|" + normalizeKey(location)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

func normalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Resolver assigns fingerprints and collapses duplicates within a batch.
type Resolver struct {
	logger *zap.Logger
}

func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger}
}

// Collapse assigns each listing its fingerprint and returns one listing per
// fingerprint, preserving first-seen order. The first occurrence wins for
// source and URL; later occurrences only extend SourcesSeen.
func (r *Resolver) Collapse(batch []*Listing) []*Listing {
	unique := make([]*Listing, 0, len(batch))
	byFingerprint := make(map[string]*Listing, len(batch))

	for _, l := range batch {
		l.Fingerprint = Fingerprint(l.Title, l.Company, l.Location)

		first, seen := byFingerprint[l.Fingerprint]
		if !seen {
			byFingerprint[l.Fingerprint] = l
			unique = append(unique, l)
			continue
		}

		first.addSourceSeen(l.Source)
		r.logger.Debug("collapsed duplicate listing",
			zap.String("fingerprint", l.Fingerprint),
			zap.String("title", l.Title),
			zap.String("kept_source", first.Source),
			zap.String("duplicate_source", l.Source),
		)
	}

	if dropped := len(batch) - len(unique); dropped > 0 {
		r.logger.Info("deduplicated batch",
			zap.Int("initial", len(batch)),
			zap.Int("dropped", dropped),
			zap.Int("left", len(unique)),
		)
	}

	return unique
}

func (l *Listing) addSourceSeen(src string) {
	for _, s := range l.SourcesSeen {
		if s == src {
			return
		}
	}
	l.SourcesSeen = append(l.SourcesSeen, src)
}
