package constants

// События, которые отправляются подписчикам статуса истории.
const (
	WSEventStatusChanged = "status_changed"
	WSEventSnapshot      = "snapshot"
)
