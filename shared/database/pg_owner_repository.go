package database

import (
	"context"
	"errors"
	"fmt"

	"fairytale-server/shared/interfaces"
	"fairytale-server/shared/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	getOwnerSettingsQuery = `
		SELECT owner_id, email, approval_mode, tier, child_name, child_appearance, updated_at
		FROM owner_settings WHERE owner_id = $1`
	upsertOwnerSettingsQuery = `
		INSERT INTO owner_settings (owner_id, email, approval_mode, tier, child_name, child_appearance, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (owner_id) DO UPDATE SET
			email = EXCLUDED.email,
			approval_mode = EXCLUDED.approval_mode,
			tier = EXCLUDED.tier,
			child_name = EXCLUDED.child_name,
			child_appearance = EXCLUDED.child_appearance,
			updated_at = NOW()`
	isReviewerQuery     = `SELECT EXISTS (SELECT 1 FROM owner_reviewers WHERE owner_id = $1 AND reviewer_id = $2)`
	addReviewerQuery    = `INSERT INTO owner_reviewers (owner_id, reviewer_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	removeReviewerQuery = `DELETE FROM owner_reviewers WHERE owner_id = $1 AND reviewer_id = $2`
	listReviewersQuery  = `SELECT reviewer_id FROM owner_reviewers WHERE owner_id = $1 ORDER BY created_at`
)

var _ interfaces.OwnerRepository = (*pgOwnerRepository)(nil)

type pgOwnerRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

func NewPgOwnerRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.OwnerRepository {
	return &pgOwnerRepository{db: db, logger: logger.Named("PgOwnerRepo")}
}

func (r *pgOwnerRepository) Get(ctx context.Context, ownerID uuid.UUID) (*models.OwnerSettings, error) {
	var settings models.OwnerSettings
	if err := pgxscan.Get(ctx, r.db, &settings, getOwnerSettingsQuery, ownerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrOwnerNotFound
		}
		r.logger.Error("Failed to get owner settings", zap.String("ownerID", ownerID.String()), zap.Error(err))
		return nil, fmt.Errorf("db error getting owner settings: %w", err)
	}
	return &settings, nil
}

func (r *pgOwnerRepository) Upsert(ctx context.Context, s *models.OwnerSettings) error {
	_, err := r.db.Exec(ctx, upsertOwnerSettingsQuery,
		s.OwnerID, s.Email, s.ApprovalMode, s.Tier, s.ChildName, s.ChildAppearance,
	)
	if err != nil {
		r.logger.Error("Failed to upsert owner settings", zap.String("ownerID", s.OwnerID.String()), zap.Error(err))
		return fmt.Errorf("db error upserting owner settings: %w", err)
	}
	return nil
}

func (r *pgOwnerRepository) IsReviewer(ctx context.Context, ownerID, reviewerID uuid.UUID) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, isReviewerQuery, ownerID, reviewerID).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error checking reviewer: %w", err)
	}
	return exists, nil
}

func (r *pgOwnerRepository) AddReviewer(ctx context.Context, ownerID, reviewerID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, addReviewerQuery, ownerID, reviewerID); err != nil {
		return fmt.Errorf("db error adding reviewer: %w", err)
	}
	return nil
}

func (r *pgOwnerRepository) RemoveReviewer(ctx context.Context, ownerID, reviewerID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, removeReviewerQuery, ownerID, reviewerID); err != nil {
		return fmt.Errorf("db error removing reviewer: %w", err)
	}
	return nil
}

func (r *pgOwnerRepository) ListReviewers(ctx context.Context, ownerID uuid.UUID) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0)
	if err := pgxscan.Select(ctx, r.db, &ids, listReviewersQuery, ownerID); err != nil {
		return nil, fmt.Errorf("db error listing reviewers: %w", err)
	}
	return ids, nil
}
