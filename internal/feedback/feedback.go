// Package feedback models user accept/reject judgments and turns them into
// scoring context. There is no trained model anywhere: history is plain data
// re-read on every scoring call.
package feedback

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type Type string

const (
	TypeLike    Type = "like"
	TypeDislike Type = "dislike"
)

// ParseType accepts user-facing spellings of a feedback type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "like", "liked":
		return TypeLike, nil
	case "dislike", "disliked":
		return TypeDislike, nil
	}
	return "", fmt.Errorf("unknown feedback type %q (want like or dislike)", s)
}

// Feedback is one append-only judgment. The fingerprint is a reference, not
// ownership: the listing may no longer exist when feedback arrives.
type Feedback struct {
	ListingFingerprint string
	Type               Type
	Note               string
	CreatedAt          time.Time
}

// ContextEntry is a feedback entry joined with the listing it referenced,
// as far as the store still knows it.
type ContextEntry struct {
	Feedback
	Title   string
	Company string
	Sector  string
}

// Context is the per-fingerprint feedback history, most recent first.
type Context []ContextEntry

// PromptSection renders the history for the scoring prompt. An empty history
// renders a placeholder rather than an empty block.
func (c Context) PromptSection() string {
	if len(c) == 0 {
		return "No feedback history yet."
	}

	var liked, disliked []string
	for _, e := range c {
		line := fmt.Sprintf("- %s at %s (%s)", e.Title, e.Company, sectorOrUnknown(e.Sector))
		if e.Note != "" {
			line += fmt.Sprintf(" (note: %q)", e.Note)
		}
		switch e.Type {
		case TypeLike:
			liked = append(liked, line)
		case TypeDislike:
			disliked = append(disliked, line)
		}
	}

	var b strings.Builder
	if len(liked) > 0 {
		b.WriteString("### Jobs the candidate LIKED:\n")
		b.WriteString(strings.Join(liked, "\n"))
		b.WriteString("\n")
	}
	if len(disliked) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("### Jobs the candidate DISLIKED:\n")
		b.WriteString(strings.Join(disliked, "\n"))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// AggregateBias summarizes feedback across the whole corpus, as global
// context distinct from per-listing history.
type AggregateBias struct {
	Liked    int
	Disliked int

	LikedBySector    map[string]int
	DislikedBySector map[string]int
}

// PromptSection renders the cross-listing summary for the scoring prompt.
func (b *AggregateBias) PromptSection() string {
	if b == nil || (b.Liked == 0 && b.Disliked == 0) {
		return "No aggregate feedback yet."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Across all listings the candidate liked %d and disliked %d.\n", b.Liked, b.Disliked)

	if line := sectorLine("Liked sectors", b.LikedBySector); line != "" {
		sb.WriteString(line)
	}
	if line := sectorLine("Disliked sectors", b.DislikedBySector); line != "" {
		sb.WriteString(line)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func sectorLine(label string, counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}
	type pair struct {
		sector string
		count  int
	}
	pairs := make([]pair, 0, len(counts))
	for s, c := range counts {
		pairs = append(pairs, pair{sectorOrUnknown(s), c})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].sector < pairs[j].sector
	})

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, fmt.Sprintf("%s (%d)", p.sector, p.count))
	}
	return fmt.Sprintf("%s: %s\n", label, strings.Join(parts, ", "))
}

func sectorOrUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown sector"
	}
	return s
}
