package service

import (
	"context"
	"fmt"

	"fairytale-server/notification-service/internal/config"
	"fairytale-server/shared/models"

	firebase "firebase.google.com/go/v4"
	fcm "firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Firebase принимает не более 500 токенов в одном multicast.
const fcmBatchSize = 500

// --- Заглушка для FCM Sender ---

type stubFCMSender struct {
	logger *zap.Logger
}

func NewStubFCMSender(logger *zap.Logger) PlatformSender {
	return &stubFCMSender{logger: logger.Named("stub_fcm_sender")}
}

func (s *stubFCMSender) Send(_ context.Context, tokens []string, notification models.PushNotification, data map[string]string) ([]string, error) {
	s.logger.Info("ЗАГЛУШКА: Отправка FCM",
		zap.Int("tokens", len(tokens)),
		zap.String("title", notification.Title),
		zap.Any("data", data),
	)
	return nil, nil
}

func (s *stubFCMSender) Platform() string {
	return models.PlatformAndroid
}

// --- Реальный FCM Sender ---

// multicastClient - часть fcm.Client, которую использует отправитель.
type multicastClient interface {
	SendEachForMulticast(ctx context.Context, message *fcm.MulticastMessage) (*fcm.BatchResponse, error)
}

type fcmSender struct {
	client multicastClient
	logger *zap.Logger
}

// NewFCMSender создает отправитель FCM. Без CredentialsPath возвращает nil, nil.
func NewFCMSender(ctx context.Context, cfg config.FCMConfig, logger *zap.Logger) (PlatformSender, error) {
	if cfg.CredentialsPath == "" {
		logger.Warn("Путь к файлу ключа Firebase (FCM_CREDENTIALS_PATH) не указан, FCM sender не будет создан.")
		return nil, nil
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(cfg.CredentialsPath))
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации Firebase App из файла '%s': %w", cfg.CredentialsPath, err)
	}
	messagingClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения FCM Messaging client: %w", err)
	}

	logger.Info("FCM Sender успешно инициализирован", zap.String("credentials_path", cfg.CredentialsPath))
	return newFCMSender(messagingClient, logger), nil
}

func newFCMSender(client multicastClient, logger *zap.Logger) *fcmSender {
	return &fcmSender{client: client, logger: logger.Named("fcm_sender")}
}

func (s *fcmSender) Send(ctx context.Context, tokens []string, notification models.PushNotification, data map[string]string) ([]string, error) {
	var (
		invalid  []string
		failures int
	)
	for start := 0; start < len(tokens); start += fcmBatchSize {
		batch := tokens[start:min(start+fcmBatchSize, len(tokens))]
		br, err := s.client.SendEachForMulticast(ctx, &fcm.MulticastMessage{
			Tokens: batch,
			Notification: &fcm.Notification{
				Title:    notification.Title,
				Body:     notification.Body,
				ImageURL: notification.Image,
			},
			Data:    data,
			Android: &fcm.AndroidConfig{Priority: "high"},
		})
		if err != nil {
			// ошибка запроса целиком, а не конкретных токенов
			return invalid, fmt.Errorf("ошибка отправки FCM: %w", err)
		}

		for idx, resp := range br.Responses {
			if resp.Success {
				continue
			}
			token := batch[idx]
			if fcm.IsUnregistered(resp.Error) || fcm.IsSenderIDMismatch(resp.Error) || fcm.IsInvalidArgument(resp.Error) {
				invalid = append(invalid, token)
				s.logger.Warn("Обнаружен невалидный FCM токен", zap.String("token", tokenPrefix(token)), zap.Error(resp.Error))
				continue
			}
			failures++
			s.logger.Error("Ошибка доставки FCM для токена", zap.String("token", tokenPrefix(token)), zap.Error(resp.Error))
		}
	}

	s.logger.Info("Результат отправки FCM",
		zap.Int("total", len(tokens)),
		zap.Int("invalid", len(invalid)),
		zap.Int("failures", failures),
	)
	if failures > 0 {
		return invalid, fmt.Errorf("ошибка доставки %d из %d FCM сообщений", failures, len(tokens))
	}
	return invalid, nil
}

func (s *fcmSender) Platform() string {
	return models.PlatformAndroid
}
