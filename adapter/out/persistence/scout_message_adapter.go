// Package persistence implements repository ports over Postgres via sqlx.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"scout_server/core/domain"
	"scout_server/core/port/out"
	"scout_server/core/service/normalize"
)

// =============================================================================
// MessageAdapter
// =============================================================================

// MessageAdapter persists canonical messages. Message bodies live in the body
// store; this table carries metadata only.
type MessageAdapter struct {
	db *sqlx.DB
}

func NewMessageAdapter(db *sqlx.DB) *MessageAdapter {
	return &MessageAdapter{db: db}
}

// =============================================================================
// Entity
// =============================================================================

type messageEntity struct {
	ID                int64          `db:"id"`
	UserID            string         `db:"user_id"`
	Provider          string         `db:"provider"`
	ProviderMessageID string         `db:"provider_message_id"`
	ThreadID          sql.NullString `db:"thread_id"`

	FromName  sql.NullString `db:"from_name"`
	FromEmail sql.NullString `db:"from_email"`
	ToAddrs   pq.StringArray `db:"to_addrs"`
	CcAddrs   pq.StringArray `db:"cc_addrs"`

	Subject     string         `db:"subject"`
	ContentHash string         `db:"content_hash"`
	ParseStatus string         `db:"parse_status"`
	Label       sql.NullString `db:"label"`
	SentAt      time.Time      `db:"sent_at"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (e *messageEntity) toDomain() *domain.CanonicalMessage {
	msg := &domain.CanonicalMessage{
		ID:                e.ID,
		UserID:            e.UserID,
		Provider:          e.Provider,
		ProviderMessageID: e.ProviderMessageID,
		Subject:           e.Subject,
		ContentHash:       e.ContentHash,
		ParseStatus:       domain.ParseStatus(e.ParseStatus),
		SentAt:            e.SentAt,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}

	if e.ThreadID.Valid {
		msg.ThreadID = e.ThreadID.String
	}
	if e.Label.Valid {
		msg.Label = e.Label.String
	}
	msg.From = domain.Participant{
		Name:  e.FromName.String,
		Email: e.FromEmail.String,
	}
	msg.To = parseAddrs(e.ToAddrs)
	msg.Cc = parseAddrs(e.CcAddrs)

	return msg
}

// Recipients are stored as "Name <email>" strings so the column stays
// readable in psql.
func formatAddrs(participants []domain.Participant) pq.StringArray {
	if len(participants) == 0 {
		return nil
	}
	addrs := make(pq.StringArray, len(participants))
	for i, p := range participants {
		if p.Name != "" {
			addrs[i] = fmt.Sprintf("%s <%s>", p.Name, p.Email)
		} else {
			addrs[i] = p.Email
		}
	}
	return addrs
}

func parseAddrs(addrs pq.StringArray) []domain.Participant {
	if len(addrs) == 0 {
		return nil
	}
	participants := make([]domain.Participant, len(addrs))
	for i, addr := range addrs {
		participants[i] = normalize.ParseAddress(addr)
	}
	return participants
}

// =============================================================================
// Operations
// =============================================================================

// Upsert creates or refreshes the row for (user_id, provider,
// provider_message_id). The xmax trick distinguishes a fresh insert from a
// conflict update in one round trip.
func (a *MessageAdapter) Upsert(ctx context.Context, msg *domain.CanonicalMessage) (bool, error) {
	query := `
		INSERT INTO messages (
			user_id, provider, provider_message_id, thread_id,
			from_name, from_email, to_addrs, cc_addrs,
			subject, content_hash, parse_status, label, sent_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (user_id, provider, provider_message_id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			from_name = EXCLUDED.from_name,
			from_email = EXCLUDED.from_email,
			to_addrs = EXCLUDED.to_addrs,
			cc_addrs = EXCLUDED.cc_addrs,
			subject = EXCLUDED.subject,
			content_hash = EXCLUDED.content_hash,
			parse_status = EXCLUDED.parse_status,
			label = EXCLUDED.label,
			sent_at = EXCLUDED.sent_at,
			updated_at = NOW()
		RETURNING id, created_at, updated_at, (xmax = 0) AS inserted
	`

	var inserted bool
	err := a.db.QueryRowContext(ctx, query,
		msg.UserID,
		msg.Provider,
		msg.ProviderMessageID,
		toNullString(msg.ThreadID),
		toNullString(msg.From.Name),
		toNullString(msg.From.Email),
		formatAddrs(msg.To),
		formatAddrs(msg.Cc),
		msg.Subject,
		msg.ContentHash,
		string(msg.ParseStatus),
		toNullString(msg.Label),
		msg.SentAt,
	).Scan(&msg.ID, &msg.CreatedAt, &msg.UpdatedAt, &inserted)
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// GetByProviderID returns a message by its provider identity.
func (a *MessageAdapter) GetByProviderID(ctx context.Context, userID, provider, providerMessageID string) (*domain.CanonicalMessage, error) {
	var entity messageEntity
	query := `
		SELECT * FROM messages
		WHERE user_id = $1 AND provider = $2 AND provider_message_id = $3
	`
	if err := a.db.GetContext(ctx, &entity, query, userID, provider, providerMessageID); err != nil {
		if err == sql.ErrNoRows {
			return nil, out.ErrNotFound
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

// =============================================================================
// Helper functions
// =============================================================================

func toNullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
