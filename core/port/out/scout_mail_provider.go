// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"

	"golang.org/x/oauth2"
)

// =============================================================================
// Mail Provider Port
// =============================================================================

// MailProviderPort is the outbound port for the upstream mail provider.
// History delivery is at-least-once; progress tokens are opaque,
// order-comparable and monotonically non-decreasing per mailbox.
type MailProviderPort interface {
	// ProviderName returns the provider identifier, e.g. "gmail".
	ProviderName() string

	// ListMessageIDs lists up to maxResults most-recent message ids for a
	// label, newest first.
	ListMessageIDs(ctx context.Context, token *oauth2.Token, label string, maxResults int) ([]ProviderMessageRef, error)

	// ListHistory returns "message added" events since the given progress
	// token, filtered to the label. Rejecting an expired or unknown token
	// yields a ProviderError with code ProviderErrSyncRequired.
	ListHistory(ctx context.Context, token *oauth2.Token, sinceToken, label string) (*ProviderHistoryResult, error)

	// GetMessage fetches the full message, including the MIME part tree.
	GetMessage(ctx context.Context, token *oauth2.Token, messageID string) (*ProviderMessage, error)
}

// TokenSourcePort supplies OAuth tokens for a user. Token acquisition and
// refresh live outside this subsystem.
type TokenSourcePort interface {
	Token(ctx context.Context, userID string) (*oauth2.Token, error)
}

// =============================================================================
// Provider Types
// =============================================================================

// ProviderMessageRef is a lightweight message reference from a list call.
type ProviderMessageRef struct {
	ID       string
	ThreadID string
}

// ProviderHistoryResult is the outcome of a history scan.
type ProviderHistoryResult struct {
	// AddedIDs are the distinct ids of messages added since the token.
	AddedIDs []string
	// LatestToken is the maximum progress token seen across all entries.
	LatestToken string
}

// ProviderMessage is a raw message as delivered by the provider.
type ProviderMessage struct {
	ID           string
	ThreadID     string
	HistoryToken string
	Snippet      string
	LabelIDs     []string
	InternalDate int64 // epoch millis
	Payload      *ProviderPart
}

// ProviderPart is one node of the MIME part tree. Body data stays in the
// provider's base64url encoding; decoding is the normalizer's job so a bad
// part can be skipped without losing its siblings.
type ProviderPart struct {
	MimeType string
	Filename string
	Headers  []ProviderHeader
	Data     string
	Parts    []*ProviderPart
}

// ProviderHeader is a single message header.
type ProviderHeader struct {
	Name  string
	Value string
}

// Header returns the first header value matching name (case-insensitive at
// the adapter; providers deliver canonical casing).
func (m *ProviderMessage) Header(name string) string {
	if m.Payload == nil {
		return ""
	}
	for _, h := range m.Payload.Headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

// =============================================================================
// Provider Error
// =============================================================================

// ProviderErrorCode represents provider error categories.
type ProviderErrorCode string

const (
	ProviderErrAuth         ProviderErrorCode = "auth_error"
	ProviderErrTokenExpired ProviderErrorCode = "token_expired"
	ProviderErrRateLimit    ProviderErrorCode = "rate_limit"
	ProviderErrNotFound     ProviderErrorCode = "not_found"
	ProviderErrServer       ProviderErrorCode = "server_error"
	ProviderErrSyncRequired ProviderErrorCode = "full_sync_required"
)

// ProviderError represents a provider-level failure.
type ProviderError struct {
	Provider  string
	Code      ProviderErrorCode
	Message   string
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new provider error.
func NewProviderError(provider string, code ProviderErrorCode, message string, err error, retryable bool) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Err:       err,
		Retryable: retryable,
	}
}
