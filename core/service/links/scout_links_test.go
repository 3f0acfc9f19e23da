package links

import (
	"testing"

	"scout_server/core/domain"
)

// TestNormalizeURL tests tracking-parameter and fragment stripping.
func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "utm params and fragment stripped, real params kept",
			raw:  "https://x.com/jobs?utm_source=email&id=1#top",
			want: "https://x.com/jobs?id=1",
		},
		{
			name: "host lower-cased, path case preserved",
			raw:  "https://Example.COM/Jobs/123",
			want: "https://example.com/Jobs/123",
		},
		{
			name: "empty leftover query dropped",
			raw:  "https://example.com/jobs?utm_campaign=weekly&utm_medium=email",
			want: "https://example.com/jobs",
		},
		{
			name: "fbclid and gclid stripped",
			raw:  "https://example.com/job/42?fbclid=abc&gclid=def&ref=digest",
			want: "https://example.com/job/42?ref=digest",
		},
		{
			name: "parameter order preserved",
			raw:  "https://example.com/search?b=2&utm_term=go&a=1",
			want: "https://example.com/search?b=2&a=1",
		},
		{
			name: "no query untouched",
			raw:  "https://example.com/careers",
			want: "https://example.com/careers",
		},
		{
			name: "surrounding whitespace trimmed",
			raw:  "  https://example.com/jobs  ",
			want: "https://example.com/jobs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeURL(tt.raw)
			if got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

// TestNormalizeURLIdempotent verifies normalizing twice equals normalizing once.
func TestNormalizeURLIdempotent(t *testing.T) {
	inputs := []string{
		"https://x.com/jobs?utm_source=email&id=1#top",
		"https://Example.COM/Jobs?a=1&utm_medium=email",
		"https://seek.com.au/job/123",
		"not a url at all",
	}
	for _, raw := range inputs {
		once := NormalizeURL(raw)
		twice := NormalizeURL(once)
		if once != twice {
			t.Errorf("NormalizeURL not idempotent for %q: first %q, second %q", raw, once, twice)
		}
	}
}

// TestIsValidURL tests URL validation boundaries.
func TestIsValidURL(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"https://example.com/jobs", true},
		{"http://example.com", true},
		{"ftp://example.com/file", false},
		{"mailto:someone@example.com", false},
		{"javascript:void(0)", false},
		{"https://localhost/jobs", false},
		{"/relative/path", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsValidURL(tt.raw); got != tt.want {
			t.Errorf("IsValidURL(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

// TestClassify tests the first-match-wins precedence chain.
func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		anchor string
		want   domain.LinkType
	}{
		{
			name:   "careers path with list anchor is a job list, not a posting",
			url:    "https://example.com/careers",
			anchor: "See all jobs",
			want:   domain.LinkTypeJobList,
		},
		{
			name: "careers path alone is a job list",
			url:  "https://example.com/careers",
			want: domain.LinkTypeJobList,
		},
		{
			name: "job board posting",
			url:  "https://www.seek.com.au/job/123",
			want: domain.LinkTypeJobPosting,
		},
		{
			name: "lever subdomain posting",
			url:  "https://jobs.lever.co/acme/abc-123",
			want: domain.LinkTypeJobPosting,
		},
		{
			name: "generic posting path",
			url:  "https://example.com/jobs/backend-engineer-42",
			want: domain.LinkTypeJobPosting,
		},
		{
			name: "board search page is a list",
			url:  "https://www.linkedin.com/jobs/search",
			want: domain.LinkTypeJobList,
		},
		{
			name: "about page",
			url:  "https://example.com/about",
			want: domain.LinkTypeCompanyPage,
		},
		{
			name:   "unsubscribe by anchor",
			url:    "https://example.com/preferences",
			anchor: "Unsubscribe",
			want:   domain.LinkTypeUnsubscribe,
		},
		{
			name: "unsubscribe by URL",
			url:  "https://example.com/unsubscribe/abc",
			want: domain.LinkTypeUnsubscribe,
		},
		{
			name: "tracking host",
			url:  "https://click.mailer.example.net/x/y",
			want: domain.LinkTypeTracking,
		},
		{
			name: "plain article link",
			url:  "https://example.com/blog/some-post",
			want: domain.LinkTypeOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			normalized := NormalizeURL(tt.url)
			got := Classify(normalized, tt.url, tt.anchor)
			if got != tt.want {
				t.Errorf("Classify(%q, anchor %q) = %q, want %q", tt.url, tt.anchor, got, tt.want)
			}
		})
	}
}

// TestExtract tests dedupe by normalized URL and anchor precedence.
func TestExtract(t *testing.T) {
	html := `
		<p>New roles this week:</p>
		<a href="https://example.com/jobs/1?utm_source=email">Backend Engineer</a>
		<a href="https://example.com/jobs/1">Backend Engineer (again)</a>
		<a href="MAILTO:hr@example.com">Email us</a>
		Bare link: https://example.com/careers
	`
	text := "Also see https://example.com/jobs/1 and https://example.com/jobs/2."

	got := Extract(ExtractInput{HTML: html, Text: text})

	byURL := make(map[string]domain.ExtractedLink)
	for _, l := range got {
		byURL[l.URL] = l
	}

	if len(got) != 3 {
		t.Fatalf("Extract returned %d links, want 3: %+v", len(got), got)
	}

	job1, ok := byURL["https://example.com/jobs/1"]
	if !ok {
		t.Fatal("expected deduplicated link https://example.com/jobs/1")
	}
	if job1.AnchorText != "Backend Engineer" {
		t.Errorf("first anchor should win, got %q", job1.AnchorText)
	}
	if job1.Type != domain.LinkTypeJobPosting {
		t.Errorf("jobs/1 classified as %q, want job_posting", job1.Type)
	}

	careers, ok := byURL["https://example.com/careers"]
	if !ok {
		t.Fatal("expected bare careers link")
	}
	if !careers.IsLikelyJobList {
		t.Error("careers link should be flagged as a job list")
	}

	if _, ok := byURL["https://example.com/jobs/2"]; !ok {
		t.Error("expected text-only link https://example.com/jobs/2")
	}
}

// TestCandidateLinks tests filtering and the cap.
func TestCandidateLinks(t *testing.T) {
	all := []domain.ExtractedLink{
		{URL: "https://example.com/jobs/1", Type: domain.LinkTypeJobPosting},
		{URL: "https://example.com/unsubscribe", Type: domain.LinkTypeUnsubscribe, IsUnsubscribe: true},
		{URL: "https://click.example.net/t", Type: domain.LinkTypeTracking, IsTracking: true},
		{URL: "https://example.com/careers", Type: domain.LinkTypeJobList},
		{URL: "https://example.com/blog", Type: domain.LinkTypeOther},
	}

	candidates := CandidateLinks(all, 0)
	if len(candidates) != 3 {
		t.Fatalf("CandidateLinks returned %d, want 3", len(candidates))
	}
	for _, l := range candidates {
		if l.IsUnsubscribe || l.IsTracking {
			t.Errorf("unsubscribe/tracking link %q survived filtering", l.URL)
		}
	}

	capped := CandidateLinks(all, 2)
	if len(capped) != 2 {
		t.Fatalf("CandidateLinks with max=2 returned %d", len(capped))
	}
}
