// Package profile holds the fixed candidate profile the relevance scorer
// matches listings against. It is loaded once from configuration and passed
// around as an immutable value.
package profile

import (
	"fmt"
	"strings"
)

type CandidateProfile struct {
	Name        string `mapstructure:"name"`
	Email       string `mapstructure:"email"`
	Location    string `mapstructure:"location"`
	Languages   string `mapstructure:"languages"`
	Education   string `mapstructure:"education"`
	Experience  string `mapstructure:"experience"`
	Skills      string `mapstructure:"skills"`
	TargetRoles string `mapstructure:"target-roles"`
}

// Validate reports whether the profile carries enough substance to score
// against. Contact details are optional; the matching sections are not.
func (p *CandidateProfile) Validate() error {
	if p == nil {
		return fmt.Errorf("profile is required")
	}
	if strings.TrimSpace(p.Skills) == "" && strings.TrimSpace(p.Experience) == "" {
		return fmt.Errorf("profile needs at least one of skills or experience")
	}
	return nil
}

// PromptText renders the profile as the markdown block embedded in every
// scoring prompt.
func (p *CandidateProfile) PromptText() string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Candidate Profile: %s\n\n", strings.TrimSpace(p.Name))

	if p.Location != "" || p.Languages != "" {
		b.WriteString("### Location & Languages\n")
		if p.Location != "" {
			fmt.Fprintf(&b, "- Location: %s\n", p.Location)
		}
		if p.Languages != "" {
			fmt.Fprintf(&b, "- Languages: %s\n", p.Languages)
		}
		b.WriteString("\n")
	}

	writeSection(&b, "Education", p.Education)
	writeSection(&b, "Professional Experience", p.Experience)
	writeSection(&b, "Skills & Competencies", p.Skills)
	writeSection(&b, "Target Roles & Preferences", p.TargetRoles)

	return strings.TrimRight(b.String(), "\n")
}

func writeSection(b *strings.Builder, heading, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	fmt.Fprintf(b, "### %s\n%s\n\n", heading, body)
}
