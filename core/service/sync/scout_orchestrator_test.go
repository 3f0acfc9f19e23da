package sync

import (
	"context"
	"encoding/base64"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"scout_server/core/domain"
	"scout_server/core/port/out"
	"scout_server/core/service/leads"
	"scout_server/pkg/apperr"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeProvider struct {
	messages map[string]*out.ProviderMessage

	historyErr    error
	historyAdded  []string
	historyLatest string

	listErr      error
	historyCalls int
	listCalls    int

	mu       gosync.Mutex
	getCalls int
}

func (f *fakeProvider) ProviderName() string { return "gmail" }

func (f *fakeProvider) ListMessageIDs(_ context.Context, _ *oauth2.Token, _ string, maxResults int) ([]out.ProviderMessageRef, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var refs []out.ProviderMessageRef
	for id := range f.messages {
		refs = append(refs, out.ProviderMessageRef{ID: id})
		if len(refs) >= maxResults {
			break
		}
	}
	return refs, nil
}

func (f *fakeProvider) ListHistory(_ context.Context, _ *oauth2.Token, _, _ string) (*out.ProviderHistoryResult, error) {
	f.historyCalls++
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return &out.ProviderHistoryResult{AddedIDs: f.historyAdded, LatestToken: f.historyLatest}, nil
}

func (f *fakeProvider) GetMessage(_ context.Context, _ *oauth2.Token, messageID string) (*out.ProviderMessage, error) {
	f.mu.Lock()
	f.getCalls++
	f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, out.NewProviderError("gmail", out.ProviderErrNotFound, "message not found", nil, false)
	}
	return msg, nil
}

type fakeTokens struct{ err error }

func (f *fakeTokens) Token(_ context.Context, _ string) (*oauth2.Token, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &oauth2.Token{AccessToken: "test"}, nil
}

type fakeWatermarks struct {
	wm    *domain.SyncWatermark
	saves int
}

func (f *fakeWatermarks) Get(_ context.Context, _, _ string) (*domain.SyncWatermark, error) {
	return f.wm, nil
}

func (f *fakeWatermarks) Save(_ context.Context, wm *domain.SyncWatermark) error {
	f.saves++
	f.wm = wm
	return nil
}

type fakeMessages struct {
	mu     gosync.Mutex
	nextID int64
	byKey  map[string]*domain.CanonicalMessage
}

func (f *fakeMessages) Upsert(_ context.Context, msg *domain.CanonicalMessage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byKey == nil {
		f.byKey = make(map[string]*domain.CanonicalMessage)
	}
	key := msg.UserID + "/" + msg.Provider + "/" + msg.ProviderMessageID
	if existing, ok := f.byKey[key]; ok {
		msg.ID = existing.ID
		f.byKey[key] = msg
		return false, nil
	}
	f.nextID++
	msg.ID = f.nextID
	f.byKey[key] = msg
	return true, nil
}

func (f *fakeMessages) GetByProviderID(_ context.Context, userID, provider, providerMessageID string) (*domain.CanonicalMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.byKey[userID+"/"+provider+"/"+providerMessageID]; ok {
		return msg, nil
	}
	return nil, out.ErrNotFound
}

type fakeBodies struct {
	mu    gosync.Mutex
	saved []*out.MessageBody
}

func (f *fakeBodies) SaveBody(_ context.Context, body *out.MessageBody) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, body)
	return nil
}

func (f *fakeBodies) GetBody(_ context.Context, _ int64) (*out.MessageBody, error) {
	return nil, nil
}

type fakeJobs struct {
	mu   gosync.Mutex
	jobs []*domain.ExtractionJob
}

func (f *fakeJobs) Insert(_ context.Context, job *domain.ExtractionJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

// fakeExtractor proposes one lead per candidate link.
type fakeExtractor struct {
	err   error
	calls int
}

func (f *fakeExtractor) Extract(_ context.Context, input *out.ExtractionInput) (*out.ExtractionResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	result := &out.ExtractionResult{
		Model: "test-model",
		Usage: domain.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
	for _, l := range input.Links {
		result.Leads = append(result.Leads, domain.LeadCandidate{
			URL:           l.RawURL,
			NormalizedURL: l.URL,
			Type:          domain.LinkTypeJobPosting,
			Title:         "Backend Engineer",
			Company:       "Acme",
			DedupeKey:     "acme::backend engineer",
			Confidence:    0.9,
		})
	}
	return result, nil
}

type fakeLeadRepo struct {
	mu     gosync.Mutex
	nextID int64
	leads  []*domain.JobLead
}

func (f *fakeLeadRepo) FindByURL(_ context.Context, userID, normalizedURL string) (*domain.JobLead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.leads {
		if l.UserID == userID && l.NormalizedURL == normalizedURL {
			return l, nil
		}
	}
	return nil, out.ErrNotFound
}

func (f *fakeLeadRepo) FindByKey(_ context.Context, userID, canonicalJobKey string) (*domain.JobLead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.leads {
		if l.UserID == userID && l.CanonicalJobKey == canonicalJobKey && l.Status != domain.LeadStatusDuplicate {
			return l, nil
		}
	}
	return nil, out.ErrNotFound
}

func (f *fakeLeadRepo) Insert(_ context.Context, lead *domain.JobLead) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.leads {
		if l.UserID == lead.UserID && l.NormalizedURL == lead.NormalizedURL {
			return out.ErrDuplicate
		}
	}
	f.nextID++
	lead.ID = f.nextID
	f.leads = append(f.leads, lead)
	return nil
}

func (f *fakeLeadRepo) ListByUser(_ context.Context, _ string, _ domain.LeadStatus, _, _ int) ([]*domain.JobLead, error) {
	return f.leads, nil
}

func (f *fakeLeadRepo) UpdateStatus(_ context.Context, _ string, _ int64, _ domain.LeadStatus) error {
	return nil
}

type fakeLock struct {
	held bool
}

func (f *fakeLock) Acquire(_ context.Context, _, _ string, _ time.Duration) (bool, error) {
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(_ context.Context, _, _ string) error {
	f.held = false
	return nil
}

// =============================================================================
// Fixture
// =============================================================================

type fixture struct {
	provider   *fakeProvider
	watermarks *fakeWatermarks
	messages   *fakeMessages
	bodies     *fakeBodies
	jobs       *fakeJobs
	extractor  *fakeExtractor
	leadRepo   *fakeLeadRepo
	lock       *fakeLock
	orch       *Orchestrator
}

func newFixture(provider *fakeProvider) *fixture {
	f := &fixture{
		provider:   provider,
		watermarks: &fakeWatermarks{},
		messages:   &fakeMessages{},
		bodies:     &fakeBodies{},
		jobs:       &fakeJobs{},
		extractor:  &fakeExtractor{},
		leadRepo:   &fakeLeadRepo{},
		lock:       &fakeLock{},
	}
	f.orch = NewOrchestrator(
		f.provider,
		&fakeTokens{},
		f.watermarks,
		f.messages,
		f.bodies,
		f.jobs,
		f.extractor,
		leads.NewIngestor(f.leadRepo),
		f.lock,
		Options{Workers: 2, MaxFetch: 50},
	)
	return f
}

func providerMessage(id, token, bodyText string) *out.ProviderMessage {
	return &out.ProviderMessage{
		ID:           id,
		ThreadID:     "t-" + id,
		HistoryToken: token,
		InternalDate: 1700000000000,
		Payload: &out.ProviderPart{
			MimeType: "multipart/alternative",
			Headers: []out.ProviderHeader{
				{Name: "From", Value: "Jobs Bot <bot@example.com>"},
				{Name: "Subject", Value: "New roles"},
			},
			Parts: []*out.ProviderPart{
				{
					MimeType: "text/plain",
					Data:     base64.URLEncoding.EncodeToString([]byte(bodyText)),
				},
			},
		},
	}
}

// =============================================================================
// Tests
// =============================================================================

// TestRunSyncFallbackFirstRun tests a first run: no watermark, fallback scan,
// lead inserted, watermark seeded from the processed message.
func TestRunSyncFallbackFirstRun(t *testing.T) {
	provider := &fakeProvider{
		messages: map[string]*out.ProviderMessage{
			"m1": providerMessage("m1", "100", "Apply now: https://seek.com.au/job/123"),
		},
	}
	f := newFixture(provider)

	summary, err := f.orch.RunSync(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	if !summary.UsedFallback || summary.Mode != domain.SyncModeFallback {
		t.Errorf("first run should fall back: %+v", summary)
	}
	if summary.Scanned != 1 || summary.Processed != 1 || summary.Inserted != 1 {
		t.Errorf("counters: %+v", summary)
	}
	if summary.LeadsInserted != 1 {
		t.Errorf("LeadsInserted = %d, want 1", summary.LeadsInserted)
	}
	if len(summary.Errors) != 0 {
		t.Errorf("unexpected errors: %v", summary.Errors)
	}

	if f.watermarks.wm == nil || f.watermarks.wm.LastProgressToken != "100" {
		t.Errorf("watermark should be seeded from the batch: %+v", f.watermarks.wm)
	}
	if len(f.jobs.jobs) != 1 || f.jobs.jobs[0].Status != domain.ExtractionSucceeded {
		t.Errorf("audit trail: %+v", f.jobs.jobs)
	}
	if len(f.bodies.saved) != 1 {
		t.Errorf("body should be stored, got %d", len(f.bodies.saved))
	}
	if f.lock.held {
		t.Error("lock should be released after the run")
	}
}

// TestRunSyncRerunDedupes tests that reprocessing the same message dedupes at
// the URL tier instead of inserting again.
func TestRunSyncRerunDedupes(t *testing.T) {
	provider := &fakeProvider{
		messages: map[string]*out.ProviderMessage{
			"m1": providerMessage("m1", "100", "Apply now: https://seek.com.au/job/123"),
		},
	}
	f := newFixture(provider)
	ctx := context.Background()

	if _, err := f.orch.RunSync(ctx, "user-1", ""); err != nil {
		t.Fatal(err)
	}

	// Second run goes incremental off the seeded watermark and re-delivers
	// the same message (history is at-least-once).
	provider.historyAdded = []string{"m1"}
	provider.historyLatest = "120"

	summary, err := f.orch.RunSync(ctx, "user-1", "")
	if err != nil {
		t.Fatalf("second RunSync: %v", err)
	}

	if summary.UsedFallback {
		t.Error("second run should be incremental")
	}
	if summary.LeadsInserted != 0 || summary.DedupedByURL != 1 {
		t.Errorf("rerun should dedupe by url: %+v", summary)
	}
	if summary.Inserted != 0 || summary.Updated != 1 {
		t.Errorf("message rerun should update, not insert: %+v", summary)
	}
	if f.watermarks.wm.LastProgressToken != "120" {
		t.Errorf("watermark = %q, want 120", f.watermarks.wm.LastProgressToken)
	}
	if len(f.leadRepo.leads) != 1 {
		t.Errorf("store should still hold one lead, has %d", len(f.leadRepo.leads))
	}
	// The rerun's audit row still carries the candidate the dedupe dropped.
	if len(f.jobs.jobs) != 2 {
		t.Fatalf("audit rows = %d, want 2", len(f.jobs.jobs))
	}
	if got := f.jobs.jobs[1].OutputLeads; len(got) != 1 || got[0].Company != "Acme" {
		t.Errorf("deduped candidate missing from audit row: %+v", got)
	}
}

// TestRunSyncHistoryRejectedFallsBack tests the expired-token path: the run
// falls back for the batch but leaves the stored token alone, so the next run
// retries incrementally from the same point. The fallback scan is bounded, so
// advancing from its tokens could skip anything between the old token and the
// scan window.
func TestRunSyncHistoryRejectedFallsBack(t *testing.T) {
	provider := &fakeProvider{
		messages: map[string]*out.ProviderMessage{
			"m1": providerMessage("m1", "300", "Apply now: https://seek.com.au/job/123"),
		},
		historyErr: out.NewProviderError("gmail", out.ProviderErrSyncRequired, "history id expired", nil, false),
	}
	f := newFixture(provider)
	f.watermarks.wm = &domain.SyncWatermark{
		UserID: "user-1", Provider: "gmail", LastProgressToken: "200",
	}

	summary, err := f.orch.RunSync(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	if !summary.UsedFallback || summary.Mode != domain.SyncModeFallback {
		t.Errorf("rejected token should fall back: %+v", summary)
	}
	if provider.listCalls != 1 {
		t.Errorf("fallback should list the label, calls=%d", provider.listCalls)
	}
	if summary.Processed != 1 || summary.LeadsInserted != 1 {
		t.Errorf("fallback batch should still process: %+v", summary)
	}
	if f.watermarks.wm.LastProgressToken != "200" {
		t.Errorf("watermark = %q, want 200 (rejected token must not advance from the fallback batch)",
			f.watermarks.wm.LastProgressToken)
	}
}

// TestRunSyncWatermarkNeverRegresses tests that an older batch token cannot
// move the watermark backwards.
func TestRunSyncWatermarkNeverRegresses(t *testing.T) {
	provider := &fakeProvider{
		messages: map[string]*out.ProviderMessage{
			"m1": providerMessage("m1", "150", "Apply now: https://seek.com.au/job/123"),
		},
		historyAdded:  []string{"m1"},
		historyLatest: "150",
	}
	f := newFixture(provider)
	f.watermarks.wm = &domain.SyncWatermark{
		UserID: "user-1", Provider: "gmail", LastProgressToken: "500",
	}

	if _, err := f.orch.RunSync(context.Background(), "user-1", ""); err != nil {
		t.Fatal(err)
	}

	if f.watermarks.wm.LastProgressToken != "500" {
		t.Errorf("watermark regressed to %q", f.watermarks.wm.LastProgressToken)
	}
	if f.watermarks.saves != 1 {
		t.Errorf("last_run_at refresh should still save, saves=%d", f.watermarks.saves)
	}
}

// TestRunSyncModeFailureReportsSummary tests that a mode-level provider
// failure is reported in the summary, not as a transport error.
func TestRunSyncModeFailureReportsSummary(t *testing.T) {
	provider := &fakeProvider{
		listErr: out.NewProviderError("gmail", out.ProviderErrServer, "upstream 503", nil, true),
	}
	f := newFixture(provider)

	summary, err := f.orch.RunSync(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("mode failure should not be a hard error: %v", err)
	}
	if len(summary.Errors) != 1 {
		t.Errorf("summary errors: %v", summary.Errors)
	}
	if f.watermarks.saves != 0 {
		t.Error("failed run must not touch the watermark")
	}
	if f.lock.held {
		t.Error("lock should be released after a failed run")
	}
}

// TestRunSyncHistoryFailureFlagsFallback tests that an incremental mode-level
// failure is reported with the fallback flag set so the caller can retry or
// switch strategy.
func TestRunSyncHistoryFailureFlagsFallback(t *testing.T) {
	provider := &fakeProvider{
		historyErr: out.NewProviderError("gmail", out.ProviderErrRateLimit, "quota exceeded", nil, true),
	}
	f := newFixture(provider)
	f.watermarks.wm = &domain.SyncWatermark{
		UserID: "user-1", Provider: "gmail", LastProgressToken: "200",
	}

	summary, err := f.orch.RunSync(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("mode failure should not be a hard error: %v", err)
	}

	if !summary.UsedFallback {
		t.Error("history failure should set the fallback flag")
	}
	if len(summary.Errors) != 1 {
		t.Errorf("summary errors: %v", summary.Errors)
	}
	if f.watermarks.saves != 0 {
		t.Error("failed run must not touch the watermark")
	}
}

// TestRunSyncCancelledStartsNoMessages tests that cancellation stops new
// messages from being dispatched.
func TestRunSyncCancelledStartsNoMessages(t *testing.T) {
	provider := &fakeProvider{
		messages: map[string]*out.ProviderMessage{
			"m1": providerMessage("m1", "100", "Apply now: https://seek.com.au/job/123"),
			"m2": providerMessage("m2", "110", "Apply now: https://seek.com.au/job/456"),
		},
	}
	f := newFixture(provider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := f.orch.RunSync(ctx, "user-1", "")
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	if provider.getCalls != 0 {
		t.Errorf("no message fetch should start after cancel, got %d", provider.getCalls)
	}
	if summary.Processed != 0 {
		t.Errorf("Processed = %d, want 0", summary.Processed)
	}
	if len(summary.Errors) != 1 {
		t.Errorf("cancellation should be recorded once: %v", summary.Errors)
	}
}

// TestRunSyncPerMessageErrorIsolated tests that one broken message does not
// abort the batch.
func TestRunSyncPerMessageErrorIsolated(t *testing.T) {
	provider := &fakeProvider{
		messages: map[string]*out.ProviderMessage{
			"m1": providerMessage("m1", "100", "Apply now: https://seek.com.au/job/123"),
		},
		historyAdded:  []string{"m1", "m-missing"},
		historyLatest: "110",
	}
	f := newFixture(provider)
	f.watermarks.wm = &domain.SyncWatermark{
		UserID: "user-1", Provider: "gmail", LastProgressToken: "90",
	}

	summary, err := f.orch.RunSync(context.Background(), "user-1", "")
	if err != nil {
		t.Fatal(err)
	}

	if summary.Processed != 1 || summary.LeadsInserted != 1 {
		t.Errorf("healthy message should still process: %+v", summary)
	}
	if len(summary.Errors) != 1 {
		t.Errorf("broken message should be recorded: %v", summary.Errors)
	}
	if f.watermarks.wm.LastProgressToken != "110" {
		t.Errorf("watermark = %q, want 110", f.watermarks.wm.LastProgressToken)
	}
}

// TestRunSyncExtractionFailureAudited tests that a failed extraction still
// writes its audit row and surfaces as a per-message error.
func TestRunSyncExtractionFailureAudited(t *testing.T) {
	provider := &fakeProvider{
		messages: map[string]*out.ProviderMessage{
			"m1": providerMessage("m1", "100", "Apply now: https://seek.com.au/job/123"),
		},
	}
	f := newFixture(provider)
	f.extractor.err = errors.New("model unavailable")

	summary, err := f.orch.RunSync(context.Background(), "user-1", "")
	if err != nil {
		t.Fatal(err)
	}

	if len(summary.Errors) != 1 {
		t.Errorf("extraction failure should be recorded: %v", summary.Errors)
	}
	if len(f.jobs.jobs) != 1 || f.jobs.jobs[0].Status != domain.ExtractionFailed {
		t.Fatalf("audit row must be written on failure: %+v", f.jobs.jobs)
	}
	if f.jobs.jobs[0].Error == "" {
		t.Error("failed audit row should carry the error")
	}
	if len(f.leadRepo.leads) != 0 {
		t.Error("no leads should be written when extraction fails")
	}
}

// TestRunSyncLockHeld tests that a concurrent run is rejected with a conflict.
func TestRunSyncLockHeld(t *testing.T) {
	f := newFixture(&fakeProvider{})
	f.lock.held = true

	_, err := f.orch.RunSync(context.Background(), "user-1", "")
	if err == nil {
		t.Fatal("expected conflict error")
	}
	if ae := apperr.AsAppError(err); ae.Code != apperr.CodeConflict {
		t.Errorf("error = %v, want conflict", err)
	}
}

// TestRunSyncSkipsEmptyMessage tests that a message with no candidate links
// and no text never reaches the extractor.
func TestRunSyncSkipsEmptyMessage(t *testing.T) {
	provider := &fakeProvider{
		messages: map[string]*out.ProviderMessage{
			"m1": providerMessage("m1", "100", "   "),
		},
	}
	f := newFixture(provider)

	summary, err := f.orch.RunSync(context.Background(), "user-1", "")
	if err != nil {
		t.Fatal(err)
	}

	if f.extractor.calls != 0 {
		t.Errorf("extractor called %d times, want 0", f.extractor.calls)
	}
	if summary.Processed != 1 {
		t.Errorf("message should still be persisted: %+v", summary)
	}
}
