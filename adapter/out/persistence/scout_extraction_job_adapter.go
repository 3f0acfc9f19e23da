package persistence

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"scout_server/core/domain"
)

// =============================================================================
// ExtractionJobAdapter
// =============================================================================

// ExtractionJobAdapter persists the extraction audit trail. Rows are
// append-only.
type ExtractionJobAdapter struct {
	db *sqlx.DB
}

func NewExtractionJobAdapter(db *sqlx.DB) *ExtractionJobAdapter {
	return &ExtractionJobAdapter{db: db}
}

// Insert records one extraction attempt.
func (a *ExtractionJobAdapter) Insert(ctx context.Context, job *domain.ExtractionJob) error {
	var outputLeads []byte
	if len(job.OutputLeads) > 0 {
		outputLeads, _ = json.Marshal(job.OutputLeads)
	}

	query := `
		INSERT INTO extraction_jobs (
			id, user_id, message_id, model, custom_instructions,
			prompt_tokens, completion_tokens, total_tokens,
			output_leads, lead_count, status, error, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := a.db.ExecContext(ctx, query,
		job.ID,
		job.UserID,
		job.MessageID,
		toNullString(job.Model),
		toNullString(job.CustomInstructions),
		job.Usage.PromptTokens,
		job.Usage.CompletionTokens,
		job.Usage.TotalTokens,
		outputLeads,
		job.LeadCount,
		string(job.Status),
		toNullString(job.Error),
		job.CreatedAt,
	)
	return err
}
