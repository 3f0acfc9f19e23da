package normalize

import (
	"regexp"
	"strings"
)

// =============================================================================
// HTML Cleaning
// =============================================================================
//
// Best-effort plain-text approximation of HTML email bodies. This is a regex
// chain, not an HTML parser: good enough to feed link extraction and the LLM,
// cheap enough to run on every message.

var (
	scriptPattern = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	stylePattern  = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style>`)

	// 1x1 images and anything explicitly sized to a single pixel.
	trackingPixelPattern = regexp.MustCompile(`(?is)<img\b[^>]*(?:width\s*=\s*["']?1["']?|height\s*=\s*["']?1["']?)[^>]*>`)

	// Inline event handlers and tracking-data attributes.
	eventAttrPattern = regexp.MustCompile(`(?i)\s(?:on[a-z]+|data-track[a-z\-]*)\s*=\s*(?:"[^"]*"|'[^']*'|[^\s>]+)`)

	// Block-level closes become newlines so text keeps its visual breaks.
	blockClosePattern = regexp.MustCompile(`(?i)</(?:p|div|h[1-6]|li|tr|table|blockquote)>|<br\s*/?>`)

	remainingTagPattern = regexp.MustCompile(`(?s)<[^>]*>`)
	blankLinesPattern   = regexp.MustCompile(`\n{3,}`)
	trailingWSPattern   = regexp.MustCompile(`[ \t]+\n`)
)

var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
)

// CleanHTML strips script/style blocks, tracking pixels and handler
// attributes, converts block boundaries to newlines, drops the remaining tags
// and collapses repeated blank lines.
func CleanHTML(html string) string {
	if html == "" {
		return ""
	}

	s := scriptPattern.ReplaceAllString(html, "")
	s = stylePattern.ReplaceAllString(s, "")
	s = trackingPixelPattern.ReplaceAllString(s, "")
	s = eventAttrPattern.ReplaceAllString(s, "")
	s = blockClosePattern.ReplaceAllString(s, "\n")
	s = remainingTagPattern.ReplaceAllString(s, "")
	s = entityReplacer.Replace(s)
	s = trailingWSPattern.ReplaceAllString(s, "\n")
	s = blankLinesPattern.ReplaceAllString(s, "\n\n")

	return strings.TrimSpace(s)
}

// StripTrackingMarkup removes script/style/pixel/handler noise but keeps the
// tag structure, for the stored cleaned-HTML body.
func StripTrackingMarkup(html string) string {
	if html == "" {
		return ""
	}
	s := scriptPattern.ReplaceAllString(html, "")
	s = stylePattern.ReplaceAllString(s, "")
	s = trackingPixelPattern.ReplaceAllString(s, "")
	s = eventAttrPattern.ReplaceAllString(s, "")
	return s
}
