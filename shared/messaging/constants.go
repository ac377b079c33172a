package messaging

// Exchange Names
const (
	ConfigUpdateExchangeName     = "config_update_exchange"
	configUpdateExchangeType     = "fanout"
	NotificationsDLXName         = "notifications_dlx"
	NotificationsDeadLetterQueue = "notifications_dlq"
)

// Queue Names
const (
	PushNotificationQueueName = "push_notifications"
	ReviewEmailQueueName      = "review_email_notifications"
)
