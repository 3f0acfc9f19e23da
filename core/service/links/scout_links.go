package links

import (
	"regexp"
	"strings"

	"scout_server/core/domain"
)

var (
	anchorPattern  = regexp.MustCompile(`(?is)<a\s[^>]*?href\s*=\s*["']?([^"'\s>]+)["']?[^>]*>(.*?)</a>`)
	bareURLPattern = regexp.MustCompile(`https?://[^\s<>"'\)\]]+`)
	tagPattern     = regexp.MustCompile(`(?s)<[^>]*>`)
	spacePattern   = regexp.MustCompile(`\s+`)
)

// ExtractInput carries the body variants to scan. Either field may be empty.
type ExtractInput struct {
	HTML string
	Text string
}

// Extract scans HTML and plain text for hyperlinks, normalizes each URL and
// classifies it. The result is deduplicated by normalized URL; HTML-derived
// links win for anchor text. URLs failing validation are excluded entirely.
func Extract(input ExtractInput) []domain.ExtractedLink {
	var result []domain.ExtractedLink
	seen := make(map[string]bool)

	add := func(rawURL, anchorText string) {
		rawURL = strings.TrimRight(rawURL, ".,;")
		if !IsValidURL(rawURL) {
			return
		}
		normalized := NormalizeURL(rawURL)
		if seen[normalized] {
			return
		}
		seen[normalized] = true

		linkType := Classify(normalized, rawURL, anchorText)
		result = append(result, domain.ExtractedLink{
			RawURL:          rawURL,
			URL:             normalized,
			AnchorText:      anchorText,
			Type:            linkType,
			Domain:          DomainOf(normalized),
			IsLikelyJobList: linkType == domain.LinkTypeJobList,
			IsUnsubscribe:   linkType == domain.LinkTypeUnsubscribe,
			IsTracking:      linkType == domain.LinkTypeTracking,
		})
	}

	// Anchors first so their anchor text takes precedence.
	if input.HTML != "" {
		for _, m := range anchorPattern.FindAllStringSubmatch(input.HTML, -1) {
			add(m[1], cleanAnchorText(m[2]))
		}
		// Bare URLs in the HTML that were not wrapped in an anchor.
		for _, raw := range bareURLPattern.FindAllString(input.HTML, -1) {
			add(raw, "")
		}
	}

	if input.Text != "" {
		for _, raw := range bareURLPattern.FindAllString(input.Text, -1) {
			add(raw, "")
		}
	}

	return result
}

// CandidateLinks filters out unsubscribe and tracking links before the
// extraction call, capped at max to bound prompt size.
func CandidateLinks(all []domain.ExtractedLink, max int) []domain.ExtractedLink {
	candidates := make([]domain.ExtractedLink, 0, len(all))
	for _, l := range all {
		if !l.IsCandidate() {
			continue
		}
		candidates = append(candidates, l)
		if max > 0 && len(candidates) >= max {
			break
		}
	}
	return candidates
}

func cleanAnchorText(inner string) string {
	text := tagPattern.ReplaceAllString(inner, " ")
	text = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
	).Replace(text)
	return strings.TrimSpace(spacePattern.ReplaceAllString(text, " "))
}
