// Package sync runs the email-to-lead pipeline: discover new messages,
// normalize them, extract links, call the lead extractor and persist the
// results, advancing the per-user watermark as it goes.
package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"scout_server/core/domain"
	"scout_server/core/port/out"
	"scout_server/core/service/leads"
	"scout_server/core/service/links"
	"scout_server/core/service/normalize"
	"scout_server/pkg/apperr"
	"scout_server/pkg/logger"
)

// =============================================================================
// Orchestrator
// =============================================================================

// Options tunes one orchestrator instance.
type Options struct {
	// DefaultLabel is scanned when a run does not name a label.
	DefaultLabel string

	// MaxFetch caps how many messages a fallback scan lists.
	MaxFetch int

	// Workers bounds concurrent per-message processing.
	Workers int

	// MaxLinks caps how many candidate links one extraction call receives.
	MaxLinks int

	// LockTTL bounds how long a crashed run can hold the per-user lock.
	LockTTL time.Duration

	// BodyTTLDays is the retention of stored message bodies.
	BodyTTLDays int

	// CustomInstructions is extra operator guidance passed to the extractor.
	CustomInstructions string
}

// Orchestrator coordinates one full sync run. All state lives in the stores;
// the orchestrator itself is stateless and safe for concurrent use, with the
// run lock serializing runs per (user, label).
type Orchestrator struct {
	provider   out.MailProviderPort
	tokens     out.TokenSourcePort
	watermarks out.WatermarkRepository
	messages   out.MessageRepository
	bodies     out.MessageBodyRepository
	jobs       out.ExtractionJobRepository
	extractor  out.LeadExtractorPort
	ingestor   *leads.Ingestor
	lock       out.RunLock

	normalizer *normalize.Normalizer
	opts       Options
	log        *logger.Logger
}

// NewOrchestrator wires an Orchestrator. Zero-valued options fall back to
// conservative defaults.
func NewOrchestrator(
	provider out.MailProviderPort,
	tokens out.TokenSourcePort,
	watermarks out.WatermarkRepository,
	messages out.MessageRepository,
	bodies out.MessageBodyRepository,
	jobs out.ExtractionJobRepository,
	extractor out.LeadExtractorPort,
	ingestor *leads.Ingestor,
	lock out.RunLock,
	opts Options,
) *Orchestrator {
	if opts.DefaultLabel == "" {
		opts.DefaultLabel = "INBOX"
	}
	if opts.MaxFetch <= 0 {
		opts.MaxFetch = 50
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxLinks <= 0 {
		opts.MaxLinks = 20
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	return &Orchestrator{
		provider:   provider,
		tokens:     tokens,
		watermarks: watermarks,
		messages:   messages,
		bodies:     bodies,
		jobs:       jobs,
		extractor:  extractor,
		ingestor:   ingestor,
		lock:       lock,
		normalizer: normalize.New(),
		opts:       opts,
		log:        logger.Default(),
	}
}

// =============================================================================
// Run
// =============================================================================

// RunSync executes one sync run for a user. It chooses incremental history
// sync when a usable watermark exists and falls back to a bounded label scan
// otherwise. Per-message failures are recorded in the summary and never abort
// the run; the watermark only advances after the whole batch is processed.
func (o *Orchestrator) RunSync(ctx context.Context, userID, label string) (*domain.SyncSummary, error) {
	if label == "" {
		label = o.opts.DefaultLabel
	}

	acquired, err := o.lock.Acquire(ctx, userID, label, o.opts.LockTTL)
	if err != nil {
		return nil, apperr.ExternalError("sync lock", err)
	}
	if !acquired {
		return nil, apperr.Conflict("sync already running for this mailbox")
	}
	defer func() {
		if err := o.lock.Release(context.WithoutCancel(ctx), userID, label); err != nil {
			o.log.Warn("[Orchestrator.RunSync] lock release failed: user=%s err=%v", userID, err)
		}
	}()

	summary := &domain.SyncSummary{
		UserID:    userID,
		Label:     label,
		Mode:      domain.SyncModeIncremental,
		StartedAt: time.Now().UTC(),
	}
	defer func() { summary.Duration = time.Since(summary.StartedAt) }()

	token, err := o.tokens.Token(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeUnauthorized, "provider token unavailable", http.StatusUnauthorized)
	}

	wm, err := o.watermarks.Get(ctx, userID, o.provider.ProviderName())
	if err != nil {
		return nil, apperr.DatabaseError("load sync watermark", err)
	}

	var (
		ids           []string
		latestToken   string
		tokenRejected bool
	)

	if wm != nil && wm.LastProgressToken != "" {
		hist, err := o.provider.ListHistory(ctx, token, wm.LastProgressToken, label)
		switch {
		case isSyncRequired(err):
			o.log.Info("[Orchestrator.RunSync] watermark rejected, falling back: user=%s token=%s", userID, wm.LastProgressToken)
			summary.UsedFallback = true
			tokenRejected = true
		case err != nil:
			summary.UsedFallback = true
			summary.AddError(fmt.Sprintf("history scan: %v", err))
			return summary, nil
		default:
			ids = hist.AddedIDs
			latestToken = hist.LatestToken
		}
	} else {
		summary.UsedFallback = true
	}

	if summary.UsedFallback {
		summary.Mode = domain.SyncModeFallback
		refs, err := o.provider.ListMessageIDs(ctx, token, label, o.opts.MaxFetch)
		if err != nil {
			summary.AddError(fmt.Sprintf("label scan: %v", err))
			return summary, nil
		}
		for _, ref := range refs {
			ids = append(ids, ref.ID)
		}
	}

	summary.Scanned = len(ids)
	o.log.Info("[Orchestrator.RunSync] run started: user=%s label=%s mode=%s scanned=%d",
		userID, label, summary.Mode, summary.Scanned)

	batchToken := o.processBatch(ctx, token, userID, label, ids, summary)

	// First-run fallback derives an initial token from the newest processed
	// message so the next run can go incremental. A rejected-token fallback
	// scans a bounded window, so its tokens must not move the stored mark:
	// the next run retries incrementally from the same point.
	if !tokenRejected {
		latestToken = domain.MaxToken(latestToken, batchToken)
	}

	if err := o.advanceWatermark(ctx, userID, wm, latestToken); err != nil {
		summary.AddError(fmt.Sprintf("save watermark: %v", err))
	}

	o.log.Info("[Orchestrator.RunSync] run finished: user=%s processed=%d leads=%d deduped=%d errors=%d",
		userID, summary.Processed, summary.LeadsInserted, summary.DedupedByURL, len(summary.Errors))
	return summary, nil
}

// =============================================================================
// Batch Processing
// =============================================================================

// messageResult carries per-message tallies back to the batch aggregator.
type messageResult struct {
	inserted bool
	updated  bool

	leadsInserted     int
	dedupedByURL      int
	duplicatesFlagged int

	historyToken string
}

// processBatch fans message processing out over a bounded worker pool and
// folds the results into the summary. Returns the maximum history token seen
// across successfully processed messages.
func (o *Orchestrator) processBatch(ctx context.Context, token *oauth2.Token, userID, label string, ids []string, summary *domain.SyncSummary) string {
	var (
		mu       gosync.Mutex
		wg       gosync.WaitGroup
		sem      = make(chan struct{}, o.opts.Workers)
		maxToken string
	)

	for _, id := range ids {
		// Cancellation lets in-flight messages finish but starts no new ones.
		if err := ctx.Err(); err != nil {
			mu.Lock()
			summary.AddError(fmt.Sprintf("run cancelled: %v", err))
			mu.Unlock()
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(providerMessageID string) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := o.processMessage(ctx, token, userID, label, providerMessageID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.AddError(fmt.Sprintf("message %s: %v", providerMessageID, err))
				return
			}
			summary.Processed++
			if res.inserted {
				summary.Inserted++
			}
			if res.updated {
				summary.Updated++
			}
			summary.LeadsInserted += res.leadsInserted
			summary.DedupedByURL += res.dedupedByURL
			summary.DuplicatesFlagged += res.duplicatesFlagged
			maxToken = domain.MaxToken(maxToken, res.historyToken)
		}(id)
	}
	wg.Wait()

	return maxToken
}

// processMessage runs the full pipeline for one provider message: fetch,
// normalize, persist, extract links, extract leads, ingest.
func (o *Orchestrator) processMessage(ctx context.Context, token *oauth2.Token, userID, label, providerMessageID string) (*messageResult, error) {
	raw, err := o.provider.GetMessage(ctx, token, providerMessageID)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	msg := o.normalizer.Normalize(raw, userID, o.provider.ProviderName(), label)

	inserted, err := o.messages.Upsert(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	res := &messageResult{
		inserted:     inserted,
		updated:      !inserted,
		historyToken: raw.HistoryToken,
	}

	if msg.BodyText != "" || msg.BodyHTML != "" {
		body := &out.MessageBody{
			MessageID: msg.ID,
			UserID:    userID,
			Text:      msg.BodyText,
			HTML:      msg.BodyHTML,
			TTLDays:   o.opts.BodyTTLDays,
		}
		if err := o.bodies.SaveBody(ctx, body); err != nil {
			// Body storage is auxiliary; the canonical row already exists.
			o.log.Warn("[Orchestrator.processMessage] body save failed: message=%d err=%v", msg.ID, err)
		}
	}

	if msg.ParseStatus == domain.ParseStatusFailed {
		return res, nil
	}

	extracted := links.Extract(links.ExtractInput{
		HTML: msg.BodyHTML,
		Text: msg.BodyText,
	})
	candidates := links.CandidateLinks(extracted, o.opts.MaxLinks)

	// Nothing worth sending: no candidate links and no body text.
	if len(candidates) == 0 && strings.TrimSpace(msg.BodyText) == "" {
		return res, nil
	}

	if err := o.extractLeads(ctx, msg, candidates, res); err != nil {
		return nil, err
	}
	return res, nil
}

// extractLeads calls the extractor for one message, records the audit row and
// ingests every returned candidate. The audit row is written for every
// attempt, success or failure.
func (o *Orchestrator) extractLeads(ctx context.Context, msg *domain.CanonicalMessage, candidates []domain.ExtractedLink, res *messageResult) error {
	input := &out.ExtractionInput{
		UserID:             msg.UserID,
		EmailID:            msg.ID,
		EmailText:          msg.BodyText,
		Links:              candidates,
		CustomInstructions: o.opts.CustomInstructions,
	}

	job := &domain.ExtractionJob{
		ID:                 uuid.NewString(),
		UserID:             msg.UserID,
		MessageID:          msg.ID,
		CustomInstructions: o.opts.CustomInstructions,
		CreatedAt:          time.Now().UTC(),
	}

	result, err := o.extractor.Extract(ctx, input)
	if err != nil {
		job.Status = domain.ExtractionFailed
		job.Error = err.Error()
		o.recordJob(ctx, job)
		return fmt.Errorf("extract leads: %w", err)
	}

	job.Status = domain.ExtractionSucceeded
	job.Model = result.Model
	job.Usage = result.Usage
	job.OutputLeads = result.Leads
	job.LeadCount = len(result.Leads)
	o.recordJob(ctx, job)

	for i := range result.Leads {
		outcome, err := o.ingestor.IngestLead(ctx, msg.UserID, msg.ID, job.ID, msg.Label, &result.Leads[i])
		if err != nil {
			return fmt.Errorf("ingest lead: %w", err)
		}
		switch outcome {
		case domain.IngestInserted:
			res.leadsInserted++
		case domain.IngestDedupedByURL:
			res.dedupedByURL++
		case domain.IngestDuplicateFlagged:
			res.duplicatesFlagged++
		}
	}
	return nil
}

// recordJob persists the extraction audit row. Audit failures are logged but
// never fail the message.
func (o *Orchestrator) recordJob(ctx context.Context, job *domain.ExtractionJob) {
	if err := o.jobs.Insert(ctx, job); err != nil {
		o.log.Warn("[Orchestrator.recordJob] audit insert failed: job=%s err=%v", job.ID, err)
	}
}

// =============================================================================
// Watermark
// =============================================================================

// advanceWatermark persists the new progress token. The token never moves
// backwards; a run that saw nothing newer still refreshes last_run_at.
func (o *Orchestrator) advanceWatermark(ctx context.Context, userID string, wm *domain.SyncWatermark, latestToken string) error {
	now := time.Now().UTC()
	if wm == nil {
		if latestToken == "" {
			return nil
		}
		wm = &domain.SyncWatermark{
			UserID:   userID,
			Provider: o.provider.ProviderName(),
		}
	}
	wm.LastProgressToken = domain.MaxToken(wm.LastProgressToken, latestToken)
	wm.LastRunAt = now
	return o.watermarks.Save(ctx, wm)
}

// isSyncRequired reports whether err is the provider telling us the progress
// token is no longer usable.
func isSyncRequired(err error) bool {
	var pe *out.ProviderError
	if errors.As(err, &pe) {
		return pe.Code == out.ProviderErrSyncRequired
	}
	return false
}
