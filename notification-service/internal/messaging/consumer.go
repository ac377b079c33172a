package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sharedMessaging "fairytale-server/shared/messaging"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrPermanent помечает ошибки, которые не исчезнут при повторе (битый JSON и т.п.).
var ErrPermanent = errors.New("permanent failure")

// MessageHandler обрабатывает тело одного сообщения.
type MessageHandler interface {
	Handle(ctx context.Context, body []byte) error
}

// Consumer читает одну рабочую очередь пулом воркеров.
type Consumer struct {
	conn           *amqp.Connection
	logger         *zap.Logger
	queueName      string
	concurrency    int
	handler        MessageHandler
	processTimeout time.Duration
	stopChannel    chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup
}

func NewConsumer(conn *amqp.Connection, logger *zap.Logger, queueName string, concurrency int, handler MessageHandler) *Consumer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Consumer{
		conn:           conn,
		logger:         logger.Named("consumer").With(zap.String("queue", queueName)),
		queueName:      queueName,
		concurrency:    concurrency,
		handler:        handler,
		processTimeout: 30 * time.Second,
		stopChannel:    make(chan struct{}),
	}
}

// Start блокируется до Stop или закрытия канала доставок.
func (c *Consumer) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("не удалось открыть канал RabbitMQ: %w", err)
	}
	defer ch.Close()

	// Аргументы очереди должны совпадать с теми, что объявляет генератор
	if err := sharedMessaging.DeclareWorkQueue(ch, c.queueName); err != nil {
		return err
	}
	if err := ch.Qos(c.concurrency, 0, false); err != nil {
		return fmt.Errorf("не удалось установить QoS: %w", err)
	}

	msgs, err := ch.Consume(c.queueName, "notification-consumer-"+c.queueName, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("не удалось зарегистрировать консьюмера: %w", err)
	}
	c.logger.Info("Консьюмер запущен, ожидание сообщений...", zap.Int("concurrency", c.concurrency))

	drained := make(chan struct{})
	c.wg.Add(c.concurrency)
	for i := 0; i < c.concurrency; i++ {
		go func(workerID int) {
			defer c.wg.Done()
			logger := c.logger.With(zap.Int("worker_id", workerID))
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-msgs:
					if !ok {
						logger.Info("Канал сообщений закрыт, воркер завершает работу")
						return
					}
					c.process(ctx, logger, d)
				}
			}
		}(i)
	}
	go func() {
		c.wg.Wait()
		close(drained)
	}()

	select {
	case <-c.stopChannel:
		c.logger.Info("Получен сигнал остановки, отменяем контекст воркеров...")
		cancel()
		<-drained
		return nil
	case <-drained:
		return fmt.Errorf("канал доставок очереди '%s' закрыт", c.queueName)
	}
}

func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.stopChannel) })
}

// process подтверждает сообщение или отклоняет его.
// Временные ошибки повторяются один раз, затем сообщение уходит в DLQ.
func (c *Consumer) process(ctx context.Context, logger *zap.Logger, d amqp.Delivery) {
	log := logger.With(zap.Uint64("delivery_tag", d.DeliveryTag), zap.String("message_id", d.MessageId))

	processCtx, cancel := context.WithTimeout(ctx, c.processTimeout)
	err := c.handler.Handle(processCtx, d.Body)
	cancel()

	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			log.Error("Ошибка Ack сообщения", zap.Error(ackErr))
		}
		log.Debug("Сообщение обработано")
		return
	}

	requeue := !errors.Is(err, ErrPermanent) && !d.Redelivered
	log.Error("Ошибка обработки сообщения", zap.Error(err), zap.Bool("requeue", requeue))
	if nackErr := d.Nack(false, requeue); nackErr != nil {
		log.Error("Ошибка Nack сообщения", zap.Error(nackErr))
	}
}
