// Package sink defines where composed digests get delivered.
package sink

import (
	"context"

	"github.com/kvinther/job-agent/internal/digest"
)

// Sink delivers a digest to the candidate. Deliver must be atomic from the
// caller's point of view: either the digest reached the candidate and nil is
// returned, or an error is returned and the caller may retry the whole digest
// on the next run.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, d *digest.Digest) error
}
