// Package leads owns lead-identity decisions: whether an extracted candidate
// is new, a URL duplicate, or a key duplicate.
package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"scout_server/core/domain"
	"scout_server/core/port/out"
	"scout_server/pkg/logger"
)

// Ingestor applies the two-tier dedupe check and issues the corresponding
// write. Safe to re-run: reprocessing the same message is a no-op at the URL
// tier, and a differently-URLed ad for the same role collapses to a tagged
// duplicate.
type Ingestor struct {
	leadRepo out.LeadRepository
	log      *logger.Logger
}

// NewIngestor creates an Ingestor.
func NewIngestor(leadRepo out.LeadRepository) *Ingestor {
	return &Ingestor{
		leadRepo: leadRepo,
		log:      logger.Default(),
	}
}

// IngestLead decides the fate of one candidate.
//
//  1. A lead already exists for (userID, normalizedURL) -> deduped_by_url,
//     no write.
//  2. Else, a non-duplicate lead shares the candidate's dedupe key -> insert
//     with status=duplicate, preserving the new URL's provenance.
//  3. Else -> insert with status=new.
//
// A unique-constraint race on the insert is a benign outcome equivalent to
// deduped_by_url, never an error.
func (s *Ingestor) IngestLead(ctx context.Context, userID string, messageID int64, extractionJobID, sourceLabel string, cand *domain.LeadCandidate) (domain.IngestOutcome, error) {
	normalizedURL := cand.NormalizedURL
	if normalizedURL == "" {
		normalizedURL = cand.URL
	}
	if normalizedURL == "" {
		return "", fmt.Errorf("lead candidate has no url")
	}

	// Tier 1: URL identity.
	existing, err := s.leadRepo.FindByURL(ctx, userID, normalizedURL)
	if err != nil && !errors.Is(err, out.ErrNotFound) {
		return "", fmt.Errorf("lookup lead by url: %w", err)
	}
	if existing != nil {
		return domain.IngestDedupedByURL, nil
	}

	lead := &domain.JobLead{
		UserID:          userID,
		URL:             cand.URL,
		NormalizedURL:   normalizedURL,
		CanonicalJobKey: dedupeKeyFor(cand, normalizedURL),
		Type:            cand.Type,
		Title:           cand.Title,
		Company:         cand.Company,
		Location:        cand.Location,
		Confidence:      cand.Confidence,
		Status:          domain.LeadStatusNew,
		SourceMessageID: messageID,
		SourceLabel:     sourceLabel,
		ExtractionJobID: extractionJobID,
	}

	// Tier 2: semantic identity.
	outcome := domain.IngestInserted
	if lead.CanonicalJobKey != normalizedURL {
		byKey, err := s.leadRepo.FindByKey(ctx, userID, lead.CanonicalJobKey)
		if err != nil && !errors.Is(err, out.ErrNotFound) {
			return "", fmt.Errorf("lookup lead by key: %w", err)
		}
		if byKey != nil {
			lead.Status = domain.LeadStatusDuplicate
			outcome = domain.IngestDuplicateFlagged
		}
	}

	if err := s.leadRepo.Insert(ctx, lead); err != nil {
		if errors.Is(err, out.ErrDuplicate) {
			// Concurrent run inserted the same URL first.
			s.log.Debug("[Ingestor] lead insert raced, treating as url dedupe: %s", normalizedURL)
			return domain.IngestDedupedByURL, nil
		}
		return "", fmt.Errorf("insert lead: %w", err)
	}

	return outcome, nil
}

// dedupeKeyFor resolves the semantic identity for a candidate: the extractor
// supplied key when present, else company+title, else the normalized URL.
func dedupeKeyFor(cand *domain.LeadCandidate, normalizedURL string) string {
	if cand.DedupeKey != "" {
		return cand.DedupeKey
	}
	company := strings.ToLower(strings.TrimSpace(cand.Company))
	title := strings.ToLower(strings.TrimSpace(cand.Title))
	if company != "" && title != "" {
		return company + "::" + title
	}
	return normalizedURL
}
