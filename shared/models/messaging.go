package models

import "github.com/google/uuid"

// PushNotificationPayload определяет структуру для отправки Push-уведомлений.
type PushNotificationPayload struct {
	UserID       uuid.UUID         `json:"user_id"`        // ID владельца (обязательно)
	DeviceTokens []string          `json:"device_tokens"`  // Токены устройств (если нужны конкретные)
	Notification PushNotification  `json:"notification"`   // Основное тело уведомления
	Data         map[string]string `json:"data,omitempty"` // Дополнительные данные
}

// PushNotification содержит основные данные для отображения уведомления.
type PushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Image string `json:"image,omitempty"`
}

// ReviewEmailPayload - письмо владельцу с двумя одноразовыми ссылками.
type ReviewEmailPayload struct {
	OwnerID    uuid.UUID `json:"owner_id"`
	StoryID    uuid.UUID `json:"story_id"`
	To         string    `json:"to"`
	StoryTitle string    `json:"story_title"`
	ApproveURL string    `json:"approve_url"`
	DeclineURL string    `json:"decline_url"`
	ExpiresAt  int64     `json:"expires_at"` // unix seconds
}

// StoryStatusUpdate - кадр, который уходит подписчикам websocket при смене статуса.
type StoryStatusUpdate struct {
	StoryID     string       `json:"storyId"`
	Status      StoryStatus  `json:"status"`
	ErrorDetail *ErrorDetail `json:"errorDetail,omitempty"`
	Title       *string      `json:"title,omitempty"`
}

// Push data keys, общие для генератора и сервиса уведомлений.
const (
	PushDataKeyEventType = "eventType"
	PushDataKeyStoryID   = "storyId"

	PushEventStoryReady      = "story_ready"
	PushEventReviewRequested = "review_requested"
	PushEventStoryFailed     = "story_failed"
)
