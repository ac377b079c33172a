package database

import (
	"context"
	"fmt"
	"time"

	"fairytale-server/shared/interfaces"
	"fairytale-server/shared/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// Запись в журнал и увеличение стоимости истории - одна команда.
	appendUsageQuery = `
		WITH ins AS (
			INSERT INTO usage_records (id, owner_id, story_id, operation_type, vendor, model,
				cost_usd, latency_ms, success, error_kind, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING story_id, cost_usd
		)
		UPDATE stories s SET cost_accumulated_usd = s.cost_accumulated_usd + ins.cost_usd
		FROM ins WHERE s.id = ins.story_id`
	summarizeUsageQuery = `
		SELECT COALESCE(SUM(cost_usd), 0) AS total_cost_usd, COUNT(*) AS operations
		FROM usage_records
		WHERE owner_id = $1 AND created_at >= $2`
	listUsageByStoryQuery = `
		SELECT id, owner_id, story_id, operation_type, vendor, model, cost_usd, latency_ms,
			success, error_kind, created_at
		FROM usage_records WHERE story_id = $1 ORDER BY created_at`
)

var _ interfaces.UsageRepository = (*pgUsageRepository)(nil)

type pgUsageRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

func NewPgUsageRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.UsageRepository {
	return &pgUsageRepository{db: db, logger: logger.Named("PgUsageRepo")}
}

func (r *pgUsageRepository) Append(ctx context.Context, rec *models.UsageRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, appendUsageQuery,
		rec.ID, rec.OwnerID, rec.StoryID, rec.OperationType, rec.Vendor, rec.Model,
		rec.CostUSD, rec.LatencyMs, rec.Success, rec.ErrorKind, rec.Timestamp,
	)
	if err != nil {
		r.logger.Error("Failed to append usage record",
			zap.String("storyID", rec.StoryID.String()),
			zap.String("vendor", rec.Vendor),
			zap.Error(err),
		)
		return fmt.Errorf("db error appending usage record: %w", err)
	}
	return nil
}

func (r *pgUsageRepository) SummarizeSince(ctx context.Context, ownerID uuid.UUID, since time.Time) (*models.UsageSummary, error) {
	var summary models.UsageSummary
	if err := pgxscan.Get(ctx, r.db, &summary, summarizeUsageQuery, ownerID, since); err != nil {
		r.logger.Error("Failed to summarize usage", zap.String("ownerID", ownerID.String()), zap.Error(err))
		return nil, fmt.Errorf("db error summarizing usage: %w", err)
	}
	return &summary, nil
}

func (r *pgUsageRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]*models.UsageRecord, error) {
	records := make([]*models.UsageRecord, 0)
	if err := pgxscan.Select(ctx, r.db, &records, listUsageByStoryQuery, storyID); err != nil {
		return nil, fmt.Errorf("db error listing usage records: %w", err)
	}
	return records, nil
}
