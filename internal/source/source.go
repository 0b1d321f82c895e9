// Package source defines the connector contract. A connector produces raw
// records from one origin; the record shape is source-specific and flows
// opaquely into the normalizer.
package source

import "context"

// Record is one raw listing as a connector reported it. Fields carries the
// source's own field names; nothing downstream interprets them except the
// normalizer.
type Record struct {
	Source string
	Fields map[string]any
}

// Connector fetches raw records from one origin. A failing connector only
// removes its own records from a run; it never aborts the pipeline.
type Connector interface {
	ID() string
	Fetch(ctx context.Context) ([]Record, error)
}
