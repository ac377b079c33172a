package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"fairytale-server/notification-service/internal/messaging"
	"fairytale-server/shared/interfaces"
	"fairytale-server/shared/models"

	"go.uber.org/zap"
)

// PlatformSender отправляет push на одну платформу (FCM/APNS).
// Возвращает токены, которые платформа признала недействительными.
type PlatformSender interface {
	Send(ctx context.Context, tokens []string, notification models.PushNotification, data map[string]string) (invalid []string, err error)
	Platform() string // "android" или "ios"
}

type notificationService struct {
	tokens  interfaces.DeviceTokenRepository
	logger  *zap.Logger
	senders map[string]PlatformSender
}

// NewNotificationService создает сервис доставки push. Отправитель без платформы игнорируется.
func NewNotificationService(tokens interfaces.DeviceTokenRepository, logger *zap.Logger, senders ...PlatformSender) *notificationService {
	s := &notificationService{
		tokens:  tokens,
		logger:  logger.Named("notification_service"),
		senders: make(map[string]PlatformSender, len(senders)),
	}
	for _, sender := range senders {
		if sender != nil {
			s.senders[sender.Platform()] = sender
		}
	}
	return s
}

var _ messaging.NotificationSender = (*notificationService)(nil)

func (s *notificationService) SendNotification(ctx context.Context, payload models.PushNotificationPayload) error {
	log := s.logger.With(zap.String("user_id", payload.UserID.String()))

	deviceTokens, err := s.tokens.GetDeviceTokensForUser(ctx, payload.UserID)
	if err != nil {
		return fmt.Errorf("load device tokens: %w", err)
	}
	if len(payload.DeviceTokens) > 0 {
		deviceTokens = slices.DeleteFunc(deviceTokens, func(dt models.DeviceTokenInfo) bool {
			return !slices.Contains(payload.DeviceTokens, dt.Token)
		})
	}
	if len(deviceTokens) == 0 {
		log.Warn("Не найдено активных токенов для пользователя")
		return nil
	}

	byPlatform := make(map[string][]string)
	for _, dt := range deviceTokens {
		if _, ok := s.senders[dt.Platform]; !ok {
			log.Warn("Нет отправителя для платформы", zap.String("platform", dt.Platform))
			continue
		}
		byPlatform[dt.Platform] = append(byPlatform[dt.Platform], dt.Token)
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		sendErrors []error
		invalid    []string
	)
	for platform, tokens := range byPlatform {
		wg.Add(1)
		go func(sender PlatformSender, tokens []string) {
			defer wg.Done()
			bad, err := sender.Send(ctx, tokens, payload.Notification, payload.Data)
			mu.Lock()
			defer mu.Unlock()
			invalid = append(invalid, bad...)
			if err != nil {
				sendErrors = append(sendErrors, fmt.Errorf("%s: %w", sender.Platform(), err))
			}
		}(s.senders[platform], tokens)
	}
	wg.Wait()

	for _, token := range invalid {
		if err := s.tokens.DeleteDeviceToken(ctx, token); err != nil {
			log.Warn("Не удалось удалить невалидный токен", zap.String("token", tokenPrefix(token)), zap.Error(err))
		}
	}
	if len(invalid) > 0 {
		log.Info("Невалидные токены удалены", zap.Int("count", len(invalid)))
	}

	if len(sendErrors) > 0 {
		return errors.Join(sendErrors...)
	}
	log.Info("Отправка уведомлений завершена успешно", zap.Int("devices", len(deviceTokens)))
	return nil
}

// tokenPrefix возвращает начало токена для логирования.
func tokenPrefix(token string) string {
	const prefixLen = 10
	if len(token) < prefixLen {
		return token
	}
	return token[:prefixLen] + "..."
}
