package out

import (
	"context"
	"time"

	"scout_server/core/domain"
)

// =============================================================================
// Repository Ports
// =============================================================================

// WatermarkRepository persists per-user sync progress. The orchestrator is
// the only writer.
type WatermarkRepository interface {
	// Get returns the watermark for a user, or nil when none exists yet.
	Get(ctx context.Context, userID, provider string) (*domain.SyncWatermark, error)

	// Save upserts the watermark.
	Save(ctx context.Context, wm *domain.SyncWatermark) error
}

// MessageRepository persists canonical messages.
type MessageRepository interface {
	// Upsert creates or updates the row identified by
	// (userID, provider, providerMessageID) and reports whether a new row
	// was inserted.
	Upsert(ctx context.Context, msg *domain.CanonicalMessage) (inserted bool, err error)

	// GetByProviderID returns a message by its provider identity, or
	// ErrNotFound.
	GetByProviderID(ctx context.Context, userID, provider, providerMessageID string) (*domain.CanonicalMessage, error)
}

// MessageBodyRepository stores message bodies out of band.
type MessageBodyRepository interface {
	SaveBody(ctx context.Context, body *MessageBody) error
	GetBody(ctx context.Context, messageID int64) (*MessageBody, error)
}

// MessageBody holds the text and cleaned HTML of one canonical message.
type MessageBody struct {
	MessageID int64
	UserID    string
	Text      string
	HTML      string
	TTLDays   int
}

// LeadRepository persists job leads. Uniqueness of (user_id, normalized_url)
// is enforced by the store.
type LeadRepository interface {
	// FindByURL returns the lead for (userID, normalizedURL), or ErrNotFound.
	FindByURL(ctx context.Context, userID, normalizedURL string) (*domain.JobLead, error)

	// FindByKey returns a non-duplicate lead for (userID, canonicalJobKey),
	// or ErrNotFound.
	FindByKey(ctx context.Context, userID, canonicalJobKey string) (*domain.JobLead, error)

	// Insert adds a new lead. A unique-constraint violation on
	// (user_id, normalized_url) returns ErrDuplicate; callers treat it as a
	// benign race outcome.
	Insert(ctx context.Context, lead *domain.JobLead) error

	// ListByUser returns leads for review, newest first. status filters when
	// non-empty.
	ListByUser(ctx context.Context, userID string, status domain.LeadStatus, limit, offset int) ([]*domain.JobLead, error)

	// UpdateStatus transitions a lead's review status.
	UpdateStatus(ctx context.Context, userID string, leadID int64, status domain.LeadStatus) error
}

// ExtractionJobRepository persists the extraction audit trail.
type ExtractionJobRepository interface {
	Insert(ctx context.Context, job *domain.ExtractionJob) error
}

// =============================================================================
// Run Lock Port
// =============================================================================

// RunLock serializes sync runs per (user, label).
type RunLock interface {
	// Acquire takes the lock, returning false when another run holds it.
	Acquire(ctx context.Context, userID, label string, ttl time.Duration) (bool, error)

	// Release drops the lock. Best-effort; the TTL bounds a leak.
	Release(ctx context.Context, userID, label string) error
}
