package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"fairytale-server/shared/interfaces"
	"fairytale-server/shared/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ConfigUpdateConsumer слушает fanout exchange и применяет изменения конфигурации.
// У каждого инстанса своя временная эксклюзивная очередь.
type ConfigUpdateConsumer struct {
	ch          *amqp.Channel
	updater     interfaces.ConfigUpdater
	logger      *zap.Logger
	queueName   string
	consumerTag string
	wg          sync.WaitGroup
}

func NewConfigUpdateConsumer(conn *amqp.Connection, updater interfaces.ConfigUpdater, logger *zap.Logger) (*ConfigUpdateConsumer, error) {
	if conn == nil {
		return nil, fmt.Errorf("RabbitMQ connection is nil")
	}
	if updater == nil {
		return nil, fmt.Errorf("ConfigUpdater is nil")
	}
	consumerTag := fmt.Sprintf("config_update_consumer_%d", time.Now().UnixNano())
	c := &ConfigUpdateConsumer{
		updater:     updater,
		logger:      logger.Named("ConfigUpdateConsumer").With(zap.String("consumerTag", consumerTag)),
		consumerTag: consumerTag,
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(ConfigUpdateExchangeName, configUpdateExchangeType, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange '%s': %w", ConfigUpdateExchangeName, err)
	}
	// Имя очереди генерирует брокер: durable=false, autoDelete=true, exclusive=true.
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", ConfigUpdateExchangeName, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to bind queue '%s': %w", q.Name, err)
	}
	c.ch = ch
	c.queueName = q.Name
	c.logger.Info("ConfigUpdateConsumer инициализирован", zap.String("queueName", c.queueName))
	return c, nil
}

// Start начинает получать сообщения в фоне.
func (c *ConfigUpdateConsumer) Start() error {
	deliveries, err := c.ch.Consume(c.queueName, c.consumerTag, false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register a consumer: %w", err)
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for d := range deliveries {
			c.handle(d)
		}
		c.logger.Info("Канал обновлений конфигурации закрыт")
	}()
	return nil
}

func (c *ConfigUpdateConsumer) handle(d amqp.Delivery) {
	var update models.DynamicConfig
	if err := json.Unmarshal(d.Body, &update); err != nil {
		c.logger.Error("failed to unmarshal config update message", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	c.updater.Update(update)
	if err := d.Ack(false); err != nil {
		c.logger.Error("failed to acknowledge message", zap.Error(err))
	}
}

// Stop отменяет подписку и ждет завершения обработчика.
func (c *ConfigUpdateConsumer) Stop() {
	c.logger.Info("Остановка ConfigUpdateConsumer...")
	if err := c.ch.Cancel(c.consumerTag, false); err != nil {
		c.logger.Warn("Ошибка отмены подписки", zap.Error(err))
	}
	c.wg.Wait()
	_ = c.ch.Close()
}
