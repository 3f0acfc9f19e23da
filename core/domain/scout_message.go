// Package domain contains the core types of the lead scouting pipeline.
package domain

import "time"

// =============================================================================
// Canonical Message
// =============================================================================

// ParseStatus records the outcome of normalizing a raw provider message.
type ParseStatus string

const (
	ParseStatusUnparsed ParseStatus = "unparsed"
	ParseStatusParsed   ParseStatus = "parsed"
	ParseStatusFailed   ParseStatus = "failed"
)

// Participant is an email address with an optional display name.
type Participant struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// CanonicalMessage is the normalized, store-ready representation of a raw
// provider message. Identity is (UserID, Provider, ProviderMessageID).
type CanonicalMessage struct {
	ID                int64  `json:"id"`
	UserID            string `json:"user_id"`
	Provider          string `json:"provider"`
	ProviderMessageID string `json:"provider_message_id"`
	ThreadID          string `json:"thread_id,omitempty"`

	From Participant   `json:"from"`
	To   []Participant `json:"to,omitempty"`
	Cc   []Participant `json:"cc,omitempty"`

	Subject  string `json:"subject"`
	BodyText string `json:"body_text,omitempty"`
	BodyHTML string `json:"body_html,omitempty"`

	// ContentHash is a stable digest over normalized sender, subject, sent
	// time and body text. Provider-side metadata churn does not change it.
	ContentHash string      `json:"content_hash"`
	ParseStatus ParseStatus `json:"parse_status"`

	Label  string    `json:"label,omitempty"`
	SentAt time.Time `json:"sent_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
