package listing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

// ErrMalformedListing marks a raw record that cannot become a listing.
// Callers skip and log such records; they are never fatal to a run.
var ErrMalformedListing = errors.New("malformed listing")

// UnspecifiedLocation is the sentinel used when a source omits the location.
const UnspecifiedLocation = "unspecified"

// rawFields covers the field names the known connectors emit. Sources
// disagree on naming, so several aliases map to the same canonical field
// and the first non-empty one wins.
type rawFields struct {
	Title    string `mapstructure:"title"`
	Name     string `mapstructure:"name"`
	Position string `mapstructure:"position"`

	Company  string `mapstructure:"company"`
	Employer string `mapstructure:"employer"`

	Location string `mapstructure:"location"`
	Area     string `mapstructure:"area"`

	Sector string `mapstructure:"sector"`

	URL  string `mapstructure:"url"`
	Link string `mapstructure:"link"`

	Description string `mapstructure:"description"`
	Text        string `mapstructure:"text"`

	PostedAt string `mapstructure:"posted_at"`
}

// Normalizer turns source-specific raw records into canonical listing
// skeletons with the fingerprint still unset.
type Normalizer struct {
	sectors map[string][]string
	logger  *zap.Logger
}

// NewNormalizer creates a normalizer. sectors maps a sector name to lower-case
// title keywords used to infer a sector when the source does not provide one.
func NewNormalizer(sectors map[string][]string, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{sectors: sectors, logger: logger}
}

// Normalize converts one raw record from the named source. Records missing a
// title or company are rejected with ErrMalformedListing. Displayed fields
// keep their original casing; lower-casing happens only at fingerprint time.
func (n *Normalizer) Normalize(src string, fields map[string]any) (*Listing, error) {
	var raw rawFields
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &raw,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("build record decoder: %w", err)
	}
	if err := decoder.Decode(fields); err != nil {
		return nil, fmt.Errorf("%w: decode record from %s: %v", ErrMalformedListing, src, err)
	}

	title := firstNonEmpty(raw.Title, raw.Name, raw.Position)
	company := firstNonEmpty(raw.Company, raw.Employer)

	if title == "" {
		return nil, fmt.Errorf("%w: record from %s has no title", ErrMalformedListing, src)
	}
	if company == "" {
		return nil, fmt.Errorf("%w: record from %s has no company", ErrMalformedListing, src)
	}

	location := firstNonEmpty(raw.Location, raw.Area)
	if location == "" {
		location = UnspecifiedLocation
	}

	sector := strings.TrimSpace(raw.Sector)
	if sector == "" {
		sector = n.inferSector(title)
	}

	l := &Listing{
		Title:       title,
		Company:     company,
		Location:    location,
		Sector:      sector,
		Source:      src,
		URL:         firstNonEmpty(raw.URL, raw.Link),
		RawText:     firstNonEmpty(raw.Description, raw.Text),
		FirstSeenAt: time.Now().UTC(),
		SourcesSeen: []string{src},
	}

	if posted := strings.TrimSpace(raw.PostedAt); posted != "" {
		if ts, err := parseTimestamp(posted); err == nil {
			l.PostedAt = &ts
		} else {
			n.logger.Debug("unparseable posted_at, ignoring",
				zap.String("source", src),
				zap.String("posted_at", posted),
			)
		}
	}

	return l, nil
}

func (n *Normalizer) inferSector(title string) string {
	lowered := strings.ToLower(title)
	for sector, keywords := range n.sectors {
		for _, kw := range keywords {
			if kw != "" && strings.Contains(lowered, strings.ToLower(kw)) {
				return sector
			}
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func parseTimestamp(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	var lastErr error
	for _, layout := range layouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
