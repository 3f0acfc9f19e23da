package out

import (
	"context"

	"scout_server/core/domain"
)

// =============================================================================
// Lead Extractor Port (LLM boundary)
// =============================================================================

// LeadExtractorPort sends email text plus candidate links to the extraction
// service and receives structured lead candidates. The call is all-or-nothing
// per message; retry and backoff are the caller's concern.
type LeadExtractorPort interface {
	Extract(ctx context.Context, input *ExtractionInput) (*ExtractionResult, error)
}

// ExtractionInput is the typed request for one extraction call.
type ExtractionInput struct {
	UserID  string
	EmailID int64

	EmailText string
	Links     []domain.ExtractedLink

	CustomInstructions string
}

// ExtractionResult is the typed response of one extraction call.
type ExtractionResult struct {
	Leads []domain.LeadCandidate
	Model string
	Usage domain.TokenUsage
}
