package notifications

import (
	"fmt"

	"fairytale-server/shared/constants"
	"fairytale-server/shared/models"

	"github.com/google/uuid"
)

func storyTitle(story *models.Story) string {
	if story.Content != nil && story.Content.Title != "" {
		return story.Content.Title
	}
	return "Your story"
}

func build(story *models.Story, event, locKey, title, body string) (*models.PushNotificationPayload, error) {
	if story == nil {
		return nil, fmt.Errorf("cannot build %s push payload for nil story", event)
	}
	if story.OwnerID == uuid.Nil {
		return nil, fmt.Errorf("cannot build %s push payload for nil owner ID", event)
	}
	return &models.PushNotificationPayload{
		UserID: story.OwnerID,
		Notification: models.PushNotification{
			Title: title,
			Body:  body,
		},
		Data: map[string]string{
			models.PushDataKeyStoryID:      story.ID.String(),
			models.PushDataKeyEventType:    event,
			constants.PushLocKey:           locKey,
			constants.PushLocArgStoryTitle: storyTitle(story),
			constants.PushFallbackTitleKey: title,
			constants.PushFallbackBodyKey:  body,
		},
	}, nil
}

// BuildStoryReadyPushPayload - сказка одобрена и доступна ребенку.
func BuildStoryReadyPushPayload(story *models.Story) (*models.PushNotificationPayload, error) {
	return build(story, models.PushEventStoryReady, constants.PushLocKeyStoryReady,
		"Story ready!", fmt.Sprintf("\"%s\" is ready to read and listen.", storyTitle(story)))
}

// BuildReviewRequestedPushPayload - владельцу нужно одобрить сказку в приложении.
func BuildReviewRequestedPushPayload(story *models.Story) (*models.PushNotificationPayload, error) {
	return build(story, models.PushEventReviewRequested, constants.PushLocKeyReviewRequested,
		"Review needed", fmt.Sprintf("\"%s\" is waiting for your approval.", storyTitle(story)))
}

// BuildStoryFailedPushPayload - генерация завершилась ошибкой, можно повторить.
func BuildStoryFailedPushPayload(story *models.Story) (*models.PushNotificationPayload, error) {
	return build(story, models.PushEventStoryFailed, constants.PushLocKeyStoryFailed,
		"Story could not be created", "Something went wrong while creating the story. You can try again.")
}
