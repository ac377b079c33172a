package messaging

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Connect подключается к RabbitMQ с несколькими попытками.
func Connect(url string, maxRetries int, retryDelay time.Duration, logger *zap.Logger) (*amqp.Connection, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	if maxRetries < 1 {
		maxRetries = 1
	}
	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			go func() {
				closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))
				if closeErr != nil {
					logger.Error("Соединение с RabbitMQ закрыто", zap.Error(closeErr))
				}
			}()
			return conn, nil
		}
		logger.Warn("Не удалось подключиться к RabbitMQ, повтор",
			zap.Int("attempt", i+1),
			zap.Int("maxRetries", maxRetries),
			zap.Duration("retryDelay", retryDelay),
			zap.Error(err),
		)
		time.Sleep(retryDelay)
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
}

// DeclareWorkQueue объявляет durable-очередь с общим DLX.
// Сообщения, отклоненные с requeue=false, попадают в notifications_dlq.
func DeclareWorkQueue(ch *amqp.Channel, queueName string) error {
	if err := ch.ExchangeDeclare(NotificationsDLXName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLX '%s': %w", NotificationsDLXName, err)
	}
	if _, err := ch.QueueDeclare(NotificationsDeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ '%s': %w", NotificationsDeadLetterQueue, err)
	}
	// Ключ маршрутизации в DLX - имя основной очереди.
	if err := ch.QueueBind(NotificationsDeadLetterQueue, queueName, NotificationsDLXName, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ to DLX for '%s': %w", queueName, err)
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    NotificationsDLXName,
		"x-dead-letter-routing-key": queueName,
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue '%s': %w", queueName, err)
	}
	return nil
}
