package plan

import (
	"fmt"
	"strings"

	"planbot/internal/storage"
)

const (
	maxTitleLen = 60
	maxLeadLen  = 140
	maxTags     = 10
)

// Validate checks a single post for publication readiness and returns one
// defect string per failed rule. An empty slice means the post is ready.
// Every rule is checked independently, so a post can accumulate several
// defects in one pass.
func Validate(p storage.Post) []string {
	var defects []string

	title := strings.TrimSpace(p.Title)
	switch {
	case title == "":
		defects = append(defects, "title is empty")
	case len([]rune(title)) > maxTitleLen:
		defects = append(defects, fmt.Sprintf("title is %d characters, limit is %d", len([]rune(title)), maxTitleLen))
	}

	lead := strings.TrimSpace(p.Lead)
	switch {
	case lead == "":
		defects = append(defects, "lead is empty")
	case len([]rune(lead)) > maxLeadLen:
		defects = append(defects, fmt.Sprintf("lead is %d characters, limit is %d", len([]rune(lead)), maxLeadLen))
	}

	if strings.TrimSpace(p.Body) == "" {
		defects = append(defects, "body is empty")
	}

	ctaText := strings.TrimSpace(p.CTAText)
	ctaURL := strings.TrimSpace(p.CTAURL)
	if ctaText != "" && ctaURL == "" {
		defects = append(defects, "CTA text is set but CTA URL is missing")
	}
	if ctaURL != "" && ctaText == "" {
		defects = append(defects, "CTA URL is set but CTA text is missing")
	}

	if tags := strings.Fields(p.Tags); len(tags) > maxTags {
		defects = append(defects, fmt.Sprintf("%d hashtags, limit is %d", len(tags), maxTags))
	}

	if strings.TrimSpace(p.CoverURL) == "" {
		defects = append(defects, "cover image is missing")
	}

	if !p.Scheduled() {
		defects = append(defects, "publish time is not set")
	}

	return defects
}
