package database

import (
	"context"
	"errors"
	"fmt"

	"fairytale-server/shared/interfaces"
	"fairytale-server/shared/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	getDynamicConfigByKeyQuery = `SELECT key, value, created_at, updated_at FROM dynamic_configs WHERE key = $1`
	getAllDynamicConfigsQuery  = `SELECT key, value, created_at, updated_at FROM dynamic_configs ORDER BY key`
	upsertDynamicConfigQuery   = `
		INSERT INTO dynamic_configs (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
		RETURNING created_at, updated_at`
)

var _ interfaces.DynamicConfigRepository = (*pgDynamicConfigRepository)(nil)

type pgDynamicConfigRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

// NewPgDynamicConfigRepository создает репозиторий динамических настроек (таблица вендоров, квоты).
func NewPgDynamicConfigRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.DynamicConfigRepository {
	return &pgDynamicConfigRepository{
		db:     db,
		logger: logger.Named("DynamicConfigRepo"),
	}
}

func (r *pgDynamicConfigRepository) GetByKey(ctx context.Context, key string) (*models.DynamicConfig, error) {
	var config models.DynamicConfig
	if err := pgxscan.Get(ctx, r.db, &config, getDynamicConfigByKeyQuery, key); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		r.logger.Error("Error getting dynamic config by key", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("failed to get dynamic config by key %s: %w", key, err)
	}
	return &config, nil
}

func (r *pgDynamicConfigRepository) GetAll(ctx context.Context) ([]*models.DynamicConfig, error) {
	configs := make([]*models.DynamicConfig, 0)
	if err := pgxscan.Select(ctx, r.db, &configs, getAllDynamicConfigsQuery); err != nil {
		r.logger.Error("Error getting all dynamic configs", zap.Error(err))
		return nil, fmt.Errorf("failed to get all dynamic configs: %w", err)
	}
	return configs, nil
}

// Upsert создает или обновляет настройку. updated_at выставляет триггер.
func (r *pgDynamicConfigRepository) Upsert(ctx context.Context, config *models.DynamicConfig) error {
	err := r.db.QueryRow(ctx, upsertDynamicConfigQuery, config.Key, config.Value).Scan(&config.CreatedAt, &config.UpdatedAt)
	if err != nil {
		r.logger.Error("Error upserting dynamic config", zap.String("key", config.Key), zap.Error(err))
		return fmt.Errorf("failed to upsert dynamic config %s: %w", config.Key, err)
	}
	r.logger.Info("Dynamic config upserted", zap.String("key", config.Key))
	return nil
}
