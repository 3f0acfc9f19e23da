package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"scout_server/core/domain"
)

// =============================================================================
// WatermarkAdapter
// =============================================================================

// WatermarkAdapter persists sync watermarks, one row per (user, provider).
type WatermarkAdapter struct {
	db *sqlx.DB
}

func NewWatermarkAdapter(db *sqlx.DB) *WatermarkAdapter {
	return &WatermarkAdapter{db: db}
}

type watermarkEntity struct {
	ID                int64     `db:"id"`
	UserID            string    `db:"user_id"`
	Provider          string    `db:"provider"`
	LastProgressToken string    `db:"last_progress_token"`
	LastRunAt         time.Time `db:"last_run_at"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (e *watermarkEntity) toDomain() *domain.SyncWatermark {
	return &domain.SyncWatermark{
		ID:                e.ID,
		UserID:            e.UserID,
		Provider:          e.Provider,
		LastProgressToken: e.LastProgressToken,
		LastRunAt:         e.LastRunAt,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

// Get returns the watermark for a user, or nil when no run has completed yet.
func (a *WatermarkAdapter) Get(ctx context.Context, userID, provider string) (*domain.SyncWatermark, error) {
	var entity watermarkEntity
	query := `SELECT * FROM sync_watermarks WHERE user_id = $1 AND provider = $2`
	if err := a.db.GetContext(ctx, &entity, query, userID, provider); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

// Save upserts the watermark.
func (a *WatermarkAdapter) Save(ctx context.Context, wm *domain.SyncWatermark) error {
	query := `
		INSERT INTO sync_watermarks (user_id, provider, last_progress_token, last_run_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			last_progress_token = EXCLUDED.last_progress_token,
			last_run_at = EXCLUDED.last_run_at,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	return a.db.QueryRowContext(ctx, query,
		wm.UserID,
		wm.Provider,
		wm.LastProgressToken,
		wm.LastRunAt,
	).Scan(&wm.ID, &wm.CreatedAt, &wm.UpdatedAt)
}
