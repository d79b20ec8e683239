package plan

import (
	"strings"
	"testing"
	"time"

	"planbot/internal/storage"
)

func readyPost() storage.Post {
	return storage.Post{
		Number:    1,
		Status:    storage.StatusDraft,
		Title:     "Seven habits of careful reviewers",
		Lead:      "A short pitch that fits the limit.",
		Body:      "Full text of the post.",
		CTAText:   "Read more",
		CTAURL:    "https://example.org/post",
		Tags:      "#review #habits",
		CoverURL:  "https://example.org/cover.jpg",
		PublishAt: time.Date(2025, 9, 8, 7, 0, 0, 0, time.UTC),
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*storage.Post)
		defects int
		mention string
	}{
		{"ready post", func(p *storage.Post) {}, 0, ""},
		{"empty title", func(p *storage.Post) { p.Title = "   " }, 1, "title"},
		{"title at limit", func(p *storage.Post) { p.Title = strings.Repeat("a", 60) }, 0, ""},
		{"title one over limit", func(p *storage.Post) { p.Title = strings.Repeat("a", 61) }, 1, "title"},
		{"empty lead", func(p *storage.Post) { p.Lead = "" }, 1, "lead"},
		{"lead over limit", func(p *storage.Post) { p.Lead = strings.Repeat("x", 141) }, 1, "lead"},
		{"empty body", func(p *storage.Post) { p.Body = "" }, 1, "body"},
		{"cta text without url", func(p *storage.Post) { p.CTAURL = "" }, 1, "URL"},
		{"cta url without text", func(p *storage.Post) { p.CTAText = "" }, 1, "text"},
		{"no cta at all is fine", func(p *storage.Post) { p.CTAText = ""; p.CTAURL = "" }, 0, ""},
		{"ten tags ok", func(p *storage.Post) { p.Tags = strings.TrimSpace(strings.Repeat("#t ", 10)) }, 0, ""},
		{"eleven tags", func(p *storage.Post) { p.Tags = strings.TrimSpace(strings.Repeat("#t ", 11)) }, 1, "hashtags"},
		{"no tags is fine", func(p *storage.Post) { p.Tags = "" }, 0, ""},
		{"missing cover", func(p *storage.Post) { p.CoverURL = "" }, 1, "cover"},
		{"unscheduled", func(p *storage.Post) { p.PublishAt = time.Time{} }, 1, "publish"},
		{"everything wrong", func(p *storage.Post) {
			*p = storage.Post{Number: 1, CTAText: "go"}
		}, 6, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := readyPost()
			tc.mutate(&p)
			defects := Validate(p)
			if len(defects) != tc.defects {
				t.Fatalf("got %d defects %q, want %d", len(defects), defects, tc.defects)
			}
			if tc.mention == "" {
				return
			}
			found := false
			for _, d := range defects {
				if strings.Contains(d, tc.mention) {
					found = true
				}
			}
			if !found {
				t.Fatalf("no defect mentions %q in %q", tc.mention, defects)
			}
		})
	}
}

func TestValidateCountsRunesNotBytes(t *testing.T) {
	t.Parallel()

	p := readyPost()
	p.Title = strings.Repeat("я", 60) // 120 bytes, 60 runes
	if defects := Validate(p); len(defects) != 0 {
		t.Fatalf("60-rune title rejected: %q", defects)
	}
}
