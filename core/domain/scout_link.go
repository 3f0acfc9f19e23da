package domain

// =============================================================================
// Extracted Links
// =============================================================================

// LinkType is the semantic classification of a hyperlink found in a message.
type LinkType string

const (
	LinkTypeJobPosting  LinkType = "job_posting"
	LinkTypeJobList     LinkType = "job_list"
	LinkTypeCompanyPage LinkType = "company_page"
	LinkTypeUnsubscribe LinkType = "unsubscribe"
	LinkTypeTracking    LinkType = "tracking"
	LinkTypeOther       LinkType = "other"
)

// ExtractedLink is a hyperlink found in a message body, always scoped to the
// message it came from.
type ExtractedLink struct {
	RawURL     string   `json:"raw_url"`
	URL        string   `json:"url"` // normalized
	AnchorText string   `json:"anchor_text,omitempty"`
	Type       LinkType `json:"type"`
	Domain     string   `json:"domain"`

	IsLikelyJobList bool `json:"is_likely_job_list"`
	IsUnsubscribe   bool `json:"is_unsubscribe"`
	IsTracking      bool `json:"is_tracking"`
}

// IsCandidate reports whether the link is worth sending to the extraction
// service. Unsubscribe and tracking links are pure noise there.
func (l *ExtractedLink) IsCandidate() bool {
	return !l.IsUnsubscribe && !l.IsTracking
}
