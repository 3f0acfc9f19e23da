package domain

import "time"

// =============================================================================
// Job Leads
// =============================================================================

// LeadStatus is the human-review state of a persisted lead.
type LeadStatus string

const (
	LeadStatusNew          LeadStatus = "new"
	LeadStatusUndecided    LeadStatus = "undecided"
	LeadStatusAddedToHuntr LeadStatus = "added_to_huntr"
	LeadStatusRejected     LeadStatus = "rejected"
	LeadStatusDuplicate    LeadStatus = "duplicate"
)

// ValidLeadStatus reports whether s is a known lead status.
func ValidLeadStatus(s LeadStatus) bool {
	switch s {
	case LeadStatusNew, LeadStatusUndecided, LeadStatusAddedToHuntr,
		LeadStatusRejected, LeadStatusDuplicate:
		return true
	}
	return false
}

// LeadCandidate is an unpersisted job opportunity proposed by the extraction
// service, tied to one link.
type LeadCandidate struct {
	URL           string   `json:"url"`
	NormalizedURL string   `json:"normalized_url"`
	Type          LinkType `json:"type"`

	Title    string `json:"title,omitempty"`
	Company  string `json:"company,omitempty"`
	Location string `json:"location,omitempty"`

	// DedupeKey identifies the job independent of the advertising URL,
	// derived from company+title when available, else the normalized URL.
	DedupeKey  string  `json:"dedupe_key"`
	Confidence float64 `json:"confidence"` // [0,1]
}

// JobLead is a persisted lead. Primary identity is (UserID, NormalizedURL);
// secondary identity is (UserID, CanonicalJobKey).
type JobLead struct {
	ID     int64  `json:"id"`
	UserID string `json:"user_id"`

	URL             string   `json:"url"`
	NormalizedURL   string   `json:"normalized_url"`
	CanonicalJobKey string   `json:"canonical_job_key"`
	Type            LinkType `json:"type"`

	Title    string `json:"title,omitempty"`
	Company  string `json:"company,omitempty"`
	Location string `json:"location,omitempty"`

	Confidence float64    `json:"confidence"`
	Status     LeadStatus `json:"status"`

	SourceMessageID int64  `json:"source_message_id"`
	SourceLabel     string `json:"source_label,omitempty"`
	ExtractionJobID string `json:"extraction_job_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IngestOutcome is the dedupe decision made for one candidate.
type IngestOutcome string

const (
	IngestInserted         IngestOutcome = "inserted"
	IngestDedupedByURL     IngestOutcome = "deduped_by_url"
	IngestDuplicateFlagged IngestOutcome = "duplicate_flagged"
)

// =============================================================================
// Extraction Jobs (audit trail)
// =============================================================================

// ExtractionJobStatus is the terminal state of one extraction call.
type ExtractionJobStatus string

const (
	ExtractionSucceeded ExtractionJobStatus = "succeeded"
	ExtractionFailed    ExtractionJobStatus = "failed"
)

// TokenUsage holds LLM token counters for one call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ExtractionJob is one record per extraction call. It exists purely for
// auditability and never mutates after creation.
type ExtractionJob struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	MessageID int64  `json:"message_id"`

	Model              string `json:"model"`
	CustomInstructions string `json:"custom_instructions,omitempty"`

	Usage TokenUsage `json:"usage"`

	// OutputLeads is the full candidate list the call returned, kept even
	// when downstream dedupe drops a candidate.
	OutputLeads []LeadCandidate     `json:"output_leads,omitempty"`
	LeadCount   int                 `json:"lead_count"`
	Status      ExtractionJobStatus `json:"status"`
	Error       string              `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
