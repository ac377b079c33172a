package service

import (
	"context"
	"fmt"
	"sync"

	"fairytale-server/notification-service/internal/config"
	"fairytale-server/shared/models"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// одновременных запросов к APNS на одно сообщение
const apnsParallelism = 16

// --- Заглушка для APNS Sender ---

type stubApnsSender struct {
	logger *zap.Logger
}

func NewStubApnsSender(logger *zap.Logger) PlatformSender {
	return &stubApnsSender{logger: logger.Named("stub_apns_sender")}
}

func (s *stubApnsSender) Send(_ context.Context, tokens []string, notification models.PushNotification, data map[string]string) ([]string, error) {
	s.logger.Info("ЗАГЛУШКА: Отправка APNS",
		zap.Int("tokens", len(tokens)),
		zap.String("title", notification.Title),
		zap.Any("data", data),
	)
	return nil, nil
}

func (s *stubApnsSender) Platform() string {
	return models.PlatformIOS
}

// --- Реальный APNS Sender ---

type pushClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type apnsSender struct {
	client pushClient
	logger *zap.Logger
	topic  string
}

// NewApnsSender создает отправитель APNS. Без полной конфигурации возвращает nil, nil.
func NewApnsSender(cfg config.APNSConfig, logger *zap.Logger) (PlatformSender, error) {
	if cfg.KeyPath == "" || cfg.KeyID == "" || cfg.TeamID == "" || cfg.Topic == "" {
		logger.Warn("APNS конфигурация не полная (KeyPath, KeyID, TeamID, Topic), APNS sender не будет создан.")
		return nil, nil
	}

	authKey, err := token.AuthKeyFromFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ключа APNS из файла %s: %w", cfg.KeyPath, err)
	}
	client := apns2.NewTokenClient(&token.Token{AuthKey: authKey, KeyID: cfg.KeyID, TeamID: cfg.TeamID})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	logger.Info("APNS Sender успешно инициализирован",
		zap.String("key_id", cfg.KeyID),
		zap.String("team_id", cfg.TeamID),
		zap.String("topic", cfg.Topic),
		zap.Bool("production", cfg.Production),
	)
	return newApnsSender(client, cfg.Topic, logger), nil
}

func newApnsSender(client pushClient, topic string, logger *zap.Logger) *apnsSender {
	return &apnsSender{client: client, topic: topic, logger: logger.Named("apns_sender")}
}

func (s *apnsSender) Send(ctx context.Context, tokens []string, notification models.PushNotification, data map[string]string) ([]string, error) {
	body := payload.NewPayload().
		AlertTitle(notification.Title).
		AlertBody(notification.Body).
		Sound("default").
		MutableContent()
	// кастомные данные на верхнем уровне payload, не в aps
	for k, v := range data {
		body.Custom(k, v)
	}

	var (
		mu       sync.Mutex
		invalid  []string
		failures int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(apnsParallelism)
	for _, deviceToken := range tokens {
		g.Go(func() error {
			res, err := s.client.PushWithContext(gctx, &apns2.Notification{
				DeviceToken: deviceToken,
				Topic:       s.topic,
				Payload:     body,
				Priority:    apns2.PriorityHigh,
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failures++
				s.logger.Error("Ошибка вызова APNS PushWithContext", zap.String("token", tokenPrefix(deviceToken)), zap.Error(err))
			case res.Sent():
				s.logger.Debug("APNS уведомление отправлено", zap.String("apns_id", res.ApnsID))
			case res.Reason == apns2.ReasonUnregistered || res.Reason == apns2.ReasonBadDeviceToken:
				invalid = append(invalid, deviceToken)
			default:
				failures++
				s.logger.Warn("APNS уведомление не отправлено",
					zap.String("token", tokenPrefix(deviceToken)),
					zap.Int("status_code", res.StatusCode),
					zap.String("reason", res.Reason),
				)
			}
			// ошибки одного токена не отменяют остальные
			return nil
		})
	}
	_ = g.Wait()

	if failures > 0 {
		return invalid, fmt.Errorf("ошибка доставки %d из %d APNS сообщений", failures, len(tokens))
	}
	return invalid, nil
}

func (s *apnsSender) Platform() string {
	return models.PlatformIOS
}
