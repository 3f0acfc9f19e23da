package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"scout_server/core/domain"
	"scout_server/core/port/out"
)

// =============================================================================
// LeadAdapter
// =============================================================================

// LeadAdapter persists job leads. The unique index on
// (user_id, normalized_url) is the authority on URL identity; concurrent
// inserts of the same URL surface as out.ErrDuplicate.
type LeadAdapter struct {
	db *sqlx.DB
}

func NewLeadAdapter(db *sqlx.DB) *LeadAdapter {
	return &LeadAdapter{db: db}
}

// =============================================================================
// Entity
// =============================================================================

type leadEntity struct {
	ID     int64  `db:"id"`
	UserID string `db:"user_id"`

	URL             string `db:"url"`
	NormalizedURL   string `db:"normalized_url"`
	CanonicalJobKey string `db:"canonical_job_key"`
	Type            string `db:"type"`

	Title    sql.NullString `db:"title"`
	Company  sql.NullString `db:"company"`
	Location sql.NullString `db:"location"`

	Confidence float64 `db:"confidence"`
	Status     string  `db:"status"`

	SourceMessageID int64          `db:"source_message_id"`
	SourceLabel     sql.NullString `db:"source_label"`
	ExtractionJobID sql.NullString `db:"extraction_job_id"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (e *leadEntity) toDomain() *domain.JobLead {
	lead := &domain.JobLead{
		ID:              e.ID,
		UserID:          e.UserID,
		URL:             e.URL,
		NormalizedURL:   e.NormalizedURL,
		CanonicalJobKey: e.CanonicalJobKey,
		Type:            domain.LinkType(e.Type),
		Confidence:      e.Confidence,
		Status:          domain.LeadStatus(e.Status),
		SourceMessageID: e.SourceMessageID,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}

	if e.Title.Valid {
		lead.Title = e.Title.String
	}
	if e.Company.Valid {
		lead.Company = e.Company.String
	}
	if e.Location.Valid {
		lead.Location = e.Location.String
	}
	if e.SourceLabel.Valid {
		lead.SourceLabel = e.SourceLabel.String
	}
	if e.ExtractionJobID.Valid {
		lead.ExtractionJobID = e.ExtractionJobID.String
	}
	return lead
}

// =============================================================================
// Lookups
// =============================================================================

// FindByURL returns the lead for (userID, normalizedURL).
func (a *LeadAdapter) FindByURL(ctx context.Context, userID, normalizedURL string) (*domain.JobLead, error) {
	var entity leadEntity
	query := `SELECT * FROM leads WHERE user_id = $1 AND normalized_url = $2`
	if err := a.db.GetContext(ctx, &entity, query, userID, normalizedURL); err != nil {
		if err == sql.ErrNoRows {
			return nil, out.ErrNotFound
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

// FindByKey returns the newest non-duplicate lead sharing the job key. Rows
// already flagged duplicate never anchor further dedupe decisions.
func (a *LeadAdapter) FindByKey(ctx context.Context, userID, canonicalJobKey string) (*domain.JobLead, error) {
	var entity leadEntity
	query := `
		SELECT * FROM leads
		WHERE user_id = $1 AND canonical_job_key = $2 AND status != 'duplicate'
		ORDER BY created_at DESC
		LIMIT 1
	`
	if err := a.db.GetContext(ctx, &entity, query, userID, canonicalJobKey); err != nil {
		if err == sql.ErrNoRows {
			return nil, out.ErrNotFound
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

// =============================================================================
// Writes
// =============================================================================

// Insert adds a new lead. ON CONFLICT DO NOTHING makes a URL race lose
// quietly; the missing RETURNING row maps to out.ErrDuplicate.
func (a *LeadAdapter) Insert(ctx context.Context, lead *domain.JobLead) error {
	query := `
		INSERT INTO leads (
			user_id, url, normalized_url, canonical_job_key, type,
			title, company, location, confidence, status,
			source_message_id, source_label, extraction_job_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (user_id, normalized_url) DO NOTHING
		RETURNING id, created_at, updated_at
	`

	err := a.db.QueryRowContext(ctx, query,
		lead.UserID,
		lead.URL,
		lead.NormalizedURL,
		lead.CanonicalJobKey,
		string(lead.Type),
		toNullString(lead.Title),
		toNullString(lead.Company),
		toNullString(lead.Location),
		lead.Confidence,
		string(lead.Status),
		lead.SourceMessageID,
		toNullString(lead.SourceLabel),
		toNullString(lead.ExtractionJobID),
	).Scan(&lead.ID, &lead.CreatedAt, &lead.UpdatedAt)
	if err == sql.ErrNoRows {
		return out.ErrDuplicate
	}
	return err
}

// ListByUser returns leads for review, newest first.
func (a *LeadAdapter) ListByUser(ctx context.Context, userID string, status domain.LeadStatus, limit, offset int) ([]*domain.JobLead, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var entities []leadEntity
	var err error
	if status != "" {
		query := `
			SELECT * FROM leads
			WHERE user_id = $1 AND status = $2
			ORDER BY created_at DESC
			LIMIT $3 OFFSET $4
		`
		err = a.db.SelectContext(ctx, &entities, query, userID, string(status), limit, offset)
	} else {
		query := `
			SELECT * FROM leads
			WHERE user_id = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3
		`
		err = a.db.SelectContext(ctx, &entities, query, userID, limit, offset)
	}
	if err != nil {
		return nil, err
	}

	result := make([]*domain.JobLead, len(entities))
	for i := range entities {
		result[i] = entities[i].toDomain()
	}
	return result, nil
}

// UpdateStatus transitions a lead's review status.
func (a *LeadAdapter) UpdateStatus(ctx context.Context, userID string, leadID int64, status domain.LeadStatus) error {
	query := `
		UPDATE leads SET status = $1, updated_at = NOW()
		WHERE id = $2 AND user_id = $3
	`
	res, err := a.db.ExecContext(ctx, query, string(status), leadID, userID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return out.ErrNotFound
	}
	return nil
}
