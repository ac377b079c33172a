package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"fairytale-server/shared/models"

	"go.uber.org/zap"
)

// NotificationSender доставляет push владельцу на все его устройства.
type NotificationSender interface {
	SendNotification(ctx context.Context, payload models.PushNotificationPayload) error
}

// EmailSender отправляет письмо с просьбой проверить сказку.
type EmailSender interface {
	SendReviewEmail(ctx context.Context, payload models.ReviewEmailPayload) error
}

// PushProcessor разбирает сообщения очереди push_notifications.
type PushProcessor struct {
	logger *zap.Logger
	sender NotificationSender
}

func NewPushProcessor(logger *zap.Logger, sender NotificationSender) *PushProcessor {
	return &PushProcessor{logger: logger.Named("push_processor"), sender: sender}
}

func (p *PushProcessor) Handle(ctx context.Context, body []byte) error {
	var payload models.PushNotificationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		p.logger.Error("Ошибка десериализации JSON", zap.Error(err), zap.ByteString("body", body))
		return fmt.Errorf("%w: decode push payload: %v", ErrPermanent, err)
	}
	p.logger.Info("Push получен",
		zap.String("user_id", payload.UserID.String()),
		zap.String("event", payload.Data[models.PushDataKeyEventType]),
		zap.String("story_id", payload.Data[models.PushDataKeyStoryID]),
	)
	return p.sender.SendNotification(ctx, payload)
}

// EmailProcessor разбирает сообщения очереди review_email_notifications.
type EmailProcessor struct {
	logger *zap.Logger
	sender EmailSender
}

func NewEmailProcessor(logger *zap.Logger, sender EmailSender) *EmailProcessor {
	return &EmailProcessor{logger: logger.Named("email_processor"), sender: sender}
}

func (p *EmailProcessor) Handle(ctx context.Context, body []byte) error {
	var payload models.ReviewEmailPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		p.logger.Error("Ошибка десериализации JSON", zap.Error(err))
		return fmt.Errorf("%w: decode email payload: %v", ErrPermanent, err)
	}
	if payload.To == "" || payload.ApproveURL == "" || payload.DeclineURL == "" {
		return fmt.Errorf("%w: email payload for story %s is incomplete", ErrPermanent, payload.StoryID)
	}
	p.logger.Info("Письмо ревью получено",
		zap.String("owner_id", payload.OwnerID.String()),
		zap.String("story_id", payload.StoryID.String()),
	)
	return p.sender.SendReviewEmail(ctx, payload)
}
