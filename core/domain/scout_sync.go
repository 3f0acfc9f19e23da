package domain

import (
	"strconv"
	"time"
)

// =============================================================================
// Sync Watermark
// =============================================================================

// SyncWatermark is the per-user incremental sync progress marker. The token is
// provider-assigned and opaque, but order-comparable; it only ever advances.
type SyncWatermark struct {
	ID       int64  `json:"id"`
	UserID   string `json:"user_id"`
	Provider string `json:"provider"`

	LastProgressToken string    `json:"last_progress_token"`
	LastRunAt         time.Time `json:"last_run_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CompareTokens orders two progress tokens: -1 if a < b, 0 if equal, 1 if
// a > b. Tokens that both parse as unsigned integers (Gmail history ids)
// compare numerically; otherwise shorter-then-lexicographic, which keeps
// ordering consistent for any monotonically growing opaque token.
func CompareTokens(a, b string) int {
	if a == b {
		return 0
	}
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		if na < nb {
			return -1
		}
		return 1
	}
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	if a < b {
		return -1
	}
	return 1
}

// MaxToken returns the greater of two progress tokens, treating the empty
// string as the minimum.
func MaxToken(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	if CompareTokens(a, b) >= 0 {
		return a
	}
	return b
}

// =============================================================================
// Sync Run Summary
// =============================================================================

// SyncMode is the strategy a run used to discover new messages.
type SyncMode string

const (
	SyncModeIncremental SyncMode = "incremental"
	SyncModeFallback    SyncMode = "fallback"
)

// SyncSummary is the structured result of one RunSync invocation. It is
// always returned, even when the run failed at the mode level.
type SyncSummary struct {
	UserID string   `json:"user_id"`
	Label  string   `json:"label"`
	Mode   SyncMode `json:"mode"`

	// UsedFallback is true when the run could not complete incrementally:
	// no watermark existed, the provider rejected it, or incremental sync
	// failed at the mode level. Signals the caller to retry or rescan.
	UsedFallback bool `json:"used_fallback"`

	Scanned   int `json:"scanned"`
	Processed int `json:"processed"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`

	LeadsInserted     int `json:"leads_inserted"`
	DedupedByURL      int `json:"deduped_by_url"`
	DuplicatesFlagged int `json:"duplicates_flagged"`

	Errors []string `json:"errors,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// AddError appends a human-readable error entry to the summary.
func (s *SyncSummary) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}
