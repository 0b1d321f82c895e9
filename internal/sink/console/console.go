// Package console prints digests to stdout. Used when no mail transport is
// configured, and handy for dry runs.
package console

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/kvinther/job-agent/internal/digest"
)

type Sink struct {
	out io.Writer
}

func New() *Sink {
	return &Sink{out: os.Stdout}
}

func (s *Sink) Name() string {
	return "console"
}

func (s *Sink) Deliver(ctx context.Context, d *digest.Digest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.Empty() {
		return nil
	}

	fmt.Fprintf(s.out, "Job digest %s — %d listings, %d strong\n",
		d.GeneratedAt.Format("2006-01-02"), d.Total, d.StrongMatches)

	for _, section := range d.Sections {
		fmt.Fprintf(s.out, "\n## %s\n", section.Sector)
		for _, l := range section.Entries {
			fmt.Fprintf(s.out, "  [%3d] %s — %s (%s)\n", l.Score.Value, l.Title, l.Company, l.Location)
			if l.URL != "" {
				fmt.Fprintf(s.out, "        %s\n", l.URL)
			}
			if l.Score.Rationale != "" {
				fmt.Fprintf(s.out, "        %s\n", l.Score.Rationale)
			}
		}
	}
	return nil
}
