package interfaces

import (
	"context"
	"io"
	"time"

	"fairytale-server/shared/models"

	"github.com/google/uuid"
)

// UsageRepository - append-only журнал вызовов провайдеров.
type UsageRepository interface {
	// Append добавляет запись и увеличивает накопленную стоимость истории одной командой.
	Append(ctx context.Context, record *models.UsageRecord) error
	SummarizeSince(ctx context.Context, ownerID uuid.UUID, since time.Time) (*models.UsageSummary, error)
	ListByStory(ctx context.Context, storyID uuid.UUID) ([]*models.UsageRecord, error)
}

// OwnerRepository - настройки владельцев и их ревьюеры.
type OwnerRepository interface {
	// Get возвращает models.ErrOwnerNotFound, если настроек нет.
	Get(ctx context.Context, ownerID uuid.UUID) (*models.OwnerSettings, error)
	Upsert(ctx context.Context, settings *models.OwnerSettings) error
	IsReviewer(ctx context.Context, ownerID, reviewerID uuid.UUID) (bool, error)
	AddReviewer(ctx context.Context, ownerID, reviewerID uuid.UUID) error
	RemoveReviewer(ctx context.Context, ownerID, reviewerID uuid.UUID) error
	ListReviewers(ctx context.Context, ownerID uuid.UUID) ([]uuid.UUID, error)
}

// DeviceTokenRepository определяет методы для работы с хранилищем токенов устройств.
type DeviceTokenRepository interface {
	SaveDeviceToken(ctx context.Context, ownerID uuid.UUID, token, platform string) error
	GetDeviceTokensForUser(ctx context.Context, ownerID uuid.UUID) ([]models.DeviceTokenInfo, error)
	DeleteDeviceToken(ctx context.Context, token string) error
}

// DynamicConfigRepository определяет методы для доступа к динамическим настройкам.
type DynamicConfigRepository interface {
	GetByKey(ctx context.Context, key string) (*models.DynamicConfig, error)
	GetAll(ctx context.Context) ([]*models.DynamicConfig, error)
	Upsert(ctx context.Context, config *models.DynamicConfig) error
}

// ReviewTokenRepository хранит одноразовые email-токены.
type ReviewTokenRepository interface {
	// Save сохраняет токены истории с TTL.
	Save(ctx context.Context, tokens []models.ReviewToken) error
	// Redeem атомарно погашает токен для указанного действия и возвращает ID истории.
	// Неизвестный, использованный, просроченный токен или чужое действие - models.ErrTokenInvalid,
	// при этом состояние хранилища не меняется.
	Redeem(ctx context.Context, token string, action models.ReviewAction) (uuid.UUID, error)
	// Release возвращает погашенный токен в оборот, если решение так и не было сохранено.
	// Отозванный или просроченный токен не восстанавливается.
	Release(ctx context.Context, token string) error
	// RevokeForStory делает недействительными все оставшиеся токены истории.
	RevokeForStory(ctx context.Context, storyID uuid.UUID) error
}

// ObjectStore - хранилище бинарных объектов (входы, озвучка, обложки).
type ObjectStore interface {
	Put(ctx context.Context, key string, contentType string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}
