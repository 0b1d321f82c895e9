package ai

import (
	"context"

	"github.com/kvinther/job-agent/internal/feedback"
	"github.com/kvinther/job-agent/internal/listing"
	"github.com/kvinther/job-agent/internal/profile"
)

// Assessment is the reasoning service's verdict on one listing. Value is
// already validated and clamped into [0,100] by the implementation.
type Assessment struct {
	Value      int
	Rationale  string
	Highlights []string
	Concerns   []string
	Raw        string
}

// Scorer asks the external reasoning capability how relevant a listing is to
// the candidate, given per-listing feedback history and the aggregate bias.
type Scorer interface {
	Score(ctx context.Context, l *listing.Listing, p *profile.CandidateProfile, history feedback.Context, bias *feedback.AggregateBias) (*Assessment, error)
}
