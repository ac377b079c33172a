package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"fairytale-server/shared/interfaces"
	"fairytale-server/shared/models"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var (
	_ interfaces.PushNotificationPublisher = (*RabbitMQNotificationPublisher)(nil)
	_ interfaces.ReviewEmailPublisher      = (*RabbitMQNotificationPublisher)(nil)
)

// RabbitMQNotificationPublisher кладет push и email сообщения в рабочие очереди сервиса уведомлений.
type RabbitMQNotificationPublisher struct {
	mu     sync.Mutex
	ch     *amqp.Channel
	logger *zap.Logger
}

func NewRabbitMQNotificationPublisher(conn *amqp.Connection, logger *zap.Logger) (*RabbitMQNotificationPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	for _, q := range []string{PushNotificationQueueName, ReviewEmailQueueName} {
		if err := DeclareWorkQueue(ch, q); err != nil {
			_ = ch.Close()
			return nil, err
		}
	}
	return &RabbitMQNotificationPublisher{ch: ch, logger: logger.Named("NotificationPublisher")}, nil
}

func (p *RabbitMQNotificationPublisher) PublishPush(ctx context.Context, payload models.PushNotificationPayload) error {
	return p.publish(ctx, PushNotificationQueueName, payload)
}

func (p *RabbitMQNotificationPublisher) PublishReviewEmail(ctx context.Context, payload models.ReviewEmailPayload) error {
	return p.publish(ctx, ReviewEmailQueueName, payload)
}

func (p *RabbitMQNotificationPublisher) publish(ctx context.Context, queue string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", queue, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		p.logger.Error("Failed to publish notification", zap.String("queue", queue), zap.Error(err))
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	p.logger.Debug("Notification published", zap.String("queue", queue))
	return nil
}

func (p *RabbitMQNotificationPublisher) Close() error {
	return p.ch.Close()
}
