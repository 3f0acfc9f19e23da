// Package provider implements mail provider adapters.
package provider

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"scout_server/core/port/out"
)

// =============================================================================
// Gmail Adapter
// =============================================================================

// GmailAdapter implements out.MailProviderPort for Gmail. History ids serve
// as progress tokens.
type GmailAdapter struct {
	config *oauth2.Config
	cb     *gobreaker.CircuitBreaker
}

// GmailConfig holds Gmail OAuth client configuration.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// NewGmailAdapter creates a new Gmail adapter.
func NewGmailAdapter(cfg *GmailConfig) *GmailAdapter {
	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			gmail.GmailReadonlyScope,
		},
		Endpoint: google.Endpoint,
	}

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	}

	return &GmailAdapter{
		config: config,
		cb:     gobreaker.NewCircuitBreaker(cbSettings),
	}
}

// ProviderName returns the provider identifier.
func (a *GmailAdapter) ProviderName() string {
	return "gmail"
}

// OAuthConfig exposes the OAuth client config for token refresh.
func (a *GmailAdapter) OAuthConfig() *oauth2.Config {
	return a.config
}

// =============================================================================
// Listing
// =============================================================================

// ListMessageIDs lists up to maxResults most-recent message ids for a label.
// Gmail returns messages newest first.
func (a *GmailAdapter) ListMessageIDs(ctx context.Context, token *oauth2.Token, label string, maxResults int) ([]out.ProviderMessageRef, error) {
	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, a.wrapError(err, "failed to create gmail service")
	}

	if maxResults <= 0 {
		maxResults = 50
	}

	var refs []out.ProviderMessageRef
	pageToken := ""
	for {
		req := svc.Users.Messages.List("me").MaxResults(int64(maxResults - len(refs)))
		if label != "" {
			req = req.LabelIds(label)
		}
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		var resp *gmail.ListMessagesResponse
		cbErr := a.executeWithCircuitBreaker("ListMessageIDs", func() error {
			var apiErr error
			resp, apiErr = req.Context(ctx).Do()
			return apiErr
		})
		if cbErr != nil {
			return nil, a.wrapError(cbErr, "failed to list messages")
		}

		for _, m := range resp.Messages {
			refs = append(refs, out.ProviderMessageRef{ID: m.Id, ThreadID: m.ThreadId})
		}

		if resp.NextPageToken == "" || len(refs) >= maxResults {
			break
		}
		pageToken = resp.NextPageToken
	}

	if len(refs) > maxResults {
		refs = refs[:maxResults]
	}
	return refs, nil
}

// ListHistory returns "message added" events since the given history id. A
// 404 from History.List means the id fell out of Gmail's history window and
// the caller must do a full scan.
func (a *GmailAdapter) ListHistory(ctx context.Context, token *oauth2.Token, sinceToken, label string) (*out.ProviderHistoryResult, error) {
	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, a.wrapError(err, "failed to create gmail service")
	}

	startID, err := parseHistoryID(sinceToken)
	if err != nil {
		return nil, out.NewProviderError("gmail", out.ProviderErrSyncRequired, "unusable progress token", err, false)
	}

	result := &out.ProviderHistoryResult{LatestToken: sinceToken}
	seen := make(map[string]bool)
	pageToken := ""

	for {
		req := svc.Users.History.List("me").
			StartHistoryId(startID).
			HistoryTypes("messageAdded")
		if label != "" {
			req = req.LabelId(label)
		}
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		var resp *gmail.ListHistoryResponse
		cbErr := a.executeWithCircuitBreaker("ListHistory", func() error {
			var apiErr error
			resp, apiErr = req.Context(ctx).Do()
			return apiErr
		})
		if cbErr != nil {
			if apiErr, ok := cbErr.(*googleapi.Error); ok && apiErr.Code == 404 {
				return nil, out.NewProviderError("gmail", out.ProviderErrSyncRequired, "history id expired", cbErr, false)
			}
			return nil, a.wrapError(cbErr, "failed to list history")
		}

		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil || seen[added.Message.Id] {
					continue
				}
				seen[added.Message.Id] = true
				result.AddedIDs = append(result.AddedIDs, added.Message.Id)
			}
		}

		if resp.HistoryId > 0 {
			result.LatestToken = formatHistoryID(resp.HistoryId)
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	return result, nil
}

// =============================================================================
// Message Reading
// =============================================================================

// GetMessage retrieves a single message with its full MIME part tree. Part
// bodies stay base64url encoded.
func (a *GmailAdapter) GetMessage(ctx context.Context, token *oauth2.Token, messageID string) (*out.ProviderMessage, error) {
	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, a.wrapError(err, "failed to create gmail service")
	}

	var msg *gmail.Message
	cbErr := a.executeWithCircuitBreaker("GetMessage", func() error {
		var apiErr error
		msg, apiErr = svc.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, a.wrapError(cbErr, "failed to get message")
	}

	return convertMessage(msg), nil
}

func convertMessage(msg *gmail.Message) *out.ProviderMessage {
	return &out.ProviderMessage{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		HistoryToken: formatHistoryID(msg.HistoryId),
		Snippet:      msg.Snippet,
		LabelIDs:     msg.LabelIds,
		InternalDate: msg.InternalDate,
		Payload:      convertPart(msg.Payload),
	}
}

func convertPart(part *gmail.MessagePart) *out.ProviderPart {
	if part == nil {
		return nil
	}

	p := &out.ProviderPart{
		MimeType: part.MimeType,
		Filename: part.Filename,
	}
	for _, h := range part.Headers {
		p.Headers = append(p.Headers, out.ProviderHeader{Name: h.Name, Value: h.Value})
	}
	if part.Body != nil {
		p.Data = part.Body.Data
	}
	for _, child := range part.Parts {
		p.Parts = append(p.Parts, convertPart(child))
	}
	return p
}

// =============================================================================
// Internal Helpers
// =============================================================================

// parseHistoryID converts a progress token back to a Gmail history id.
func parseHistoryID(token string) (uint64, error) {
	return strconv.ParseUint(token, 10, 64)
}

// formatHistoryID renders a history id as a progress token. Zero ids (absent
// on some responses) become the empty token.
func formatHistoryID(id uint64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatUint(id, 10)
}

func (a *GmailAdapter) getService(ctx context.Context, token *oauth2.Token) (*gmail.Service, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return gmail.NewService(ctx, option.WithTokenSource(
		a.config.TokenSource(ctx, token),
	))
}

// executeWithCircuitBreaker wraps an API call with circuit breaker protection.
// Client errors (4xx) pass through without tripping the breaker.
func (a *GmailAdapter) executeWithCircuitBreaker(operation string, fn func() error) error {
	_, err := a.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if apiErr, ok := err.(*googleapi.Error); ok {
				switch apiErr.Code {
				case 500, 502, 503, 429:
					return nil, err
				default:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	if nce, ok := err.(*nonCircuitError); ok {
		return nce.err
	}

	if err != nil {
		log.Printf("[GmailAdapter] Circuit breaker error for %s: state=%s, err=%v",
			operation, a.cb.State().String(), err)
	}
	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

// wrapError maps a Gmail API error onto the provider error taxonomy.
func (a *GmailAdapter) wrapError(err error, message string) error {
	if apiErr, ok := err.(*googleapi.Error); ok {
		switch apiErr.Code {
		case 401:
			return out.NewProviderError("gmail", out.ProviderErrTokenExpired, message, err, false)
		case 403:
			return out.NewProviderError("gmail", out.ProviderErrAuth, message, err, false)
		case 404:
			return out.NewProviderError("gmail", out.ProviderErrNotFound, message, err, false)
		case 429:
			return out.NewProviderError("gmail", out.ProviderErrRateLimit, message, err, true)
		case 500, 502, 503:
			return out.NewProviderError("gmail", out.ProviderErrServer, message, err, true)
		}
	}
	return out.NewProviderError("gmail", out.ProviderErrServer, message, err, true)
}
