package constants

// Основной ключ для локализации в data payload
const PushLocKey = "loc_key"

// Ключи локализации для Push-уведомлений
const (
	PushLocKeyStoryReady      = "notification_story_ready"
	PushLocKeyReviewRequested = "notification_review_requested"
	PushLocKeyStoryFailed     = "notification_story_failed"
)

// Имена аргументов локализации
const (
	PushLocArgStoryTitle = "storyTitle"
)

// Ключи для Fallback текста (если локализация на клиенте не сработает)
const (
	PushFallbackTitleKey = "fallback_title"
	PushFallbackBodyKey  = "fallback_body"
)
