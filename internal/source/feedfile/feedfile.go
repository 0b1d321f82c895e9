// Package feedfile reads raw listing records from a local JSON feed. Career
// page exports are produced out-of-band (the scraping itself is outside this
// system); this connector only ingests the dumped records.
package feedfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kvinther/job-agent/internal/source"
)

type Config struct {
	Name   string `mapstructure:"name"`
	Path   string `mapstructure:"path"`
	Sector string `mapstructure:"sector"`
}

type Connector struct {
	cfg Config
}

func New(cfg Config) *Connector {
	if cfg.Name == "" {
		cfg.Name = "feedfile"
	}
	return &Connector{cfg: cfg}
}

func (c *Connector) ID() string { return c.cfg.Name }

// Fetch parses the feed file as a JSON array of objects. A configured sector
// is stamped onto records that lack one, mirroring how career feeds are
// curated per sector.
func (c *Connector) Fetch(_ context.Context) ([]source.Record, error) {
	data, err := os.ReadFile(c.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("read feed file %q: %w", c.cfg.Path, err)
	}

	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse feed file %q: %w", c.cfg.Path, err)
	}

	records := make([]source.Record, 0, len(raw))
	for _, fields := range raw {
		if c.cfg.Sector != "" {
			if _, ok := fields["sector"]; !ok {
				fields["sector"] = c.cfg.Sector
			}
		}
		records = append(records, source.Record{Source: c.ID(), Fields: fields})
	}

	return records, nil
}
