package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"fairytale-server/shared/interfaces"
	"fairytale-server/shared/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var _ interfaces.ConfigUpdatePublisher = (*RabbitMQConfigUpdatePublisher)(nil)

// RabbitMQConfigUpdatePublisher рассылает изменения конфигурации через fanout exchange.
type RabbitMQConfigUpdatePublisher struct {
	mu     sync.Mutex
	ch     *amqp.Channel
	logger *zap.Logger
}

func NewRabbitMQConfigUpdatePublisher(conn *amqp.Connection, logger *zap.Logger) (*RabbitMQConfigUpdatePublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is nil")
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := ch.ExchangeDeclare(ConfigUpdateExchangeName, configUpdateExchangeType, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange '%s': %w", ConfigUpdateExchangeName, err)
	}
	return &RabbitMQConfigUpdatePublisher{
		ch:     ch,
		logger: logger.Named("ConfigUpdatePublisher"),
	}, nil
}

func (p *RabbitMQConfigUpdatePublisher) PublishConfigUpdate(ctx context.Context, config models.DynamicConfig) error {
	body, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config update payload: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, ConfigUpdateExchangeName, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	})
	if err != nil {
		p.logger.Error("Failed to publish config update event", zap.String("key", config.Key), zap.Error(err))
		return fmt.Errorf("failed to publish config update event: %w", err)
	}
	p.logger.Debug("Config update event published", zap.String("key", config.Key))
	return nil
}

func (p *RabbitMQConfigUpdatePublisher) Close() error {
	return p.ch.Close()
}
