package database

import (
	"context"
	"fmt"

	"fairytale-server/shared/interfaces"
	"fairytale-server/shared/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	saveDeviceTokenQuery = `
		INSERT INTO user_device_tokens (user_id, token, platform, last_used_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, token)
		DO UPDATE SET platform = EXCLUDED.platform, last_used_at = NOW()`
	getDeviceTokensForUserQuery = `SELECT token, platform FROM user_device_tokens WHERE user_id = $1`
	deleteDeviceTokenQuery      = `DELETE FROM user_device_tokens WHERE token = $1`
)

var _ interfaces.DeviceTokenRepository = (*pgDeviceTokenRepository)(nil)

type pgDeviceTokenRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

func NewPgDeviceTokenRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.DeviceTokenRepository {
	return &pgDeviceTokenRepository{db: db, logger: logger.Named("DeviceTokenRepo")}
}

// SaveDeviceToken сохраняет или обновляет токен устройства (INSERT ... ON CONFLICT).
func (r *pgDeviceTokenRepository) SaveDeviceToken(ctx context.Context, ownerID uuid.UUID, token, platform string) error {
	if _, err := r.db.Exec(ctx, saveDeviceTokenQuery, ownerID, token, platform); err != nil {
		r.logger.Error("Failed to save device token",
			zap.String("ownerID", ownerID.String()),
			zap.String("platform", platform),
			zap.Error(err),
		)
		return fmt.Errorf("db error saving device token: %w", err)
	}
	return nil
}

func (r *pgDeviceTokenRepository) GetDeviceTokensForUser(ctx context.Context, ownerID uuid.UUID) ([]models.DeviceTokenInfo, error) {
	tokens := make([]models.DeviceTokenInfo, 0)
	if err := pgxscan.Select(ctx, r.db, &tokens, getDeviceTokensForUserQuery, ownerID); err != nil {
		r.logger.Error("Failed to query device tokens", zap.String("ownerID", ownerID.String()), zap.Error(err))
		return nil, fmt.Errorf("db error querying device tokens: %w", err)
	}
	return tokens, nil
}

// DeleteDeviceToken удаляет токен, например когда FCM/APNS сообщают, что он невалиден.
func (r *pgDeviceTokenRepository) DeleteDeviceToken(ctx context.Context, token string) error {
	tag, err := r.db.Exec(ctx, deleteDeviceTokenQuery, token)
	if err != nil {
		r.logger.Error("Failed to delete device token", zap.Error(err))
		return fmt.Errorf("db error deleting device token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Debug("Device token already absent")
	}
	return nil
}
