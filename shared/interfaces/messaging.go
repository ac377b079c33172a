package interfaces

import (
	"context"

	"fairytale-server/shared/models"
)

// PushNotificationPublisher публикует push-уведомления в очередь.
type PushNotificationPublisher interface {
	PublishPush(ctx context.Context, payload models.PushNotificationPayload) error
}

// ReviewEmailPublisher публикует письма с одноразовыми ссылками.
type ReviewEmailPublisher interface {
	PublishReviewEmail(ctx context.Context, payload models.ReviewEmailPayload) error
}

// ConfigUpdatePublisher рассылает изменения динамической конфигурации всем инстансам.
type ConfigUpdatePublisher interface {
	PublishConfigUpdate(ctx context.Context, config models.DynamicConfig) error
}

// ConfigUpdater применяет пришедшее изменение конфигурации.
type ConfigUpdater interface {
	Update(config models.DynamicConfig)
}
