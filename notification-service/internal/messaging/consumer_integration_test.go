//go:build integration

package messaging_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fairytale-server/notification-service/internal/messaging"
	sharedMessaging "fairytale-server/shared/messaging"
	"fairytale-server/shared/models"

	"github.com/docker/docker/client"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// scriptedHandler возвращает ошибки из очереди results, потом nil.
type scriptedHandler struct {
	mu      sync.Mutex
	results []error
	bodies  [][]byte
}

func (h *scriptedHandler) Handle(_ context.Context, body []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bodies = append(h.bodies, body)
	if len(h.results) == 0 {
		return nil
	}
	err := h.results[0]
	h.results = h.results[1:]
	return err
}

func (h *scriptedHandler) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bodies)
}

type recordingEmailSender struct {
	mu   sync.Mutex
	sent []models.ReviewEmailPayload
}

func (s *recordingEmailSender) SendReviewEmail(_ context.Context, payload models.ReviewEmailPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, payload)
	return nil
}

func (s *recordingEmailSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type ConsumerSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	conn      *amqp.Connection
	ch        *amqp.Channel
	logger    *zap.Logger
}

func (s *ConsumerSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = zap.NewNop()

	var err error
	s.container, err = rabbitmq.Run(s.ctx,
		"rabbitmq:3-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").WithStartupTimeout(3*time.Minute),
		),
	)
	require.NoError(s.T(), err)

	url, err := s.container.AmqpURL(s.ctx)
	require.NoError(s.T(), err)
	s.conn, err = sharedMessaging.Connect(url, 10, time.Second, s.logger)
	require.NoError(s.T(), err)
	s.ch, err = s.conn.Channel()
	require.NoError(s.T(), err)
}

func (s *ConsumerSuite) TearDownSuite() {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.container != nil {
		if err := s.container.Terminate(s.ctx); err != nil {
			s.T().Logf("failed to terminate rabbitmq container: %v", err)
		}
	}
}

func (s *ConsumerSuite) SetupTest() {
	// DLQ общая для всех очередей, чистим между тестами
	_, err := s.ch.QueuePurge(sharedMessaging.NotificationsDeadLetterQueue, false)
	if err != nil {
		// Очереди еще нет, канал после ошибки закрыт
		s.ch, err = s.conn.Channel()
		require.NoError(s.T(), err)
	}
}

func TestConsumerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv)
	if err != nil {
		t.Skipf("Docker client init error: %v", err)
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		t.Skipf("Docker daemon is not accessible: %v", err)
	}
	_ = cli.Close()

	suite.Run(t, new(ConsumerSuite))
}

// startConsumer запускает консьюмер и возвращает функцию остановки.
func (s *ConsumerSuite) startConsumer(queue string, handler messaging.MessageHandler) func() {
	consumer := messaging.NewConsumer(s.conn, s.logger, queue, 2, handler)
	done := make(chan error, 1)
	go func() { done <- consumer.Start() }()

	// Очередь объявляет сам консьюмер
	require.Eventually(s.T(), func() bool {
		ch, err := s.conn.Channel()
		if err != nil {
			return false
		}
		defer ch.Close()
		_, err = ch.QueueDeclarePassive(queue, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange":    sharedMessaging.NotificationsDLXName,
			"x-dead-letter-routing-key": queue,
		})
		return err == nil
	}, 10*time.Second, 100*time.Millisecond)

	return func() {
		consumer.Stop()
		select {
		case err := <-done:
			assert.NoError(s.T(), err)
		case <-time.After(10 * time.Second):
			s.T().Error("consumer did not stop")
		}
	}
}

func (s *ConsumerSuite) publish(queue string, body []byte) {
	err := s.ch.PublishWithContext(s.ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Body:         body,
	})
	require.NoError(s.T(), err)
}

// deadLettered ждет сообщение очереди queue в DLQ.
func (s *ConsumerSuite) deadLettered(queue string) amqp.Delivery {
	var found amqp.Delivery
	require.Eventually(s.T(), func() bool {
		d, ok, err := s.ch.Get(sharedMessaging.NotificationsDeadLetterQueue, true)
		if err != nil || !ok {
			return false
		}
		if d.RoutingKey != queue {
			return false
		}
		found = d
		return true
	}, 15*time.Second, 100*time.Millisecond)
	return found
}

func (s *ConsumerSuite) TestSuccessIsAcked() {
	queue := "test_ok_" + uuid.NewString()
	handler := &scriptedHandler{}
	stop := s.startConsumer(queue, handler)
	defer stop()

	s.publish(queue, []byte(`{"ok":true}`))
	require.Eventually(s.T(), func() bool { return handler.calls() == 1 }, 10*time.Second, 50*time.Millisecond)

	// Подтвержденное сообщение не возвращается
	time.Sleep(300 * time.Millisecond)
	assert.Equal(s.T(), 1, handler.calls())
	q, err := s.ch.QueueDeclarePassive(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    sharedMessaging.NotificationsDLXName,
		"x-dead-letter-routing-key": queue,
	})
	require.NoError(s.T(), err)
	assert.Zero(s.T(), q.Messages)
}

func (s *ConsumerSuite) TestTransientErrorIsRetriedOnceThenDeadLettered() {
	queue := "test_transient_" + uuid.NewString()
	handler := &scriptedHandler{results: []error{errors.New("smtp timeout"), errors.New("smtp timeout")}}
	stop := s.startConsumer(queue, handler)
	defer stop()

	s.publish(queue, []byte(`{"attempt":"transient"}`))

	d := s.deadLettered(queue)
	assert.JSONEq(s.T(), `{"attempt":"transient"}`, string(d.Body))
	assert.Equal(s.T(), 2, handler.calls())
}

func (s *ConsumerSuite) TestPermanentErrorGoesStraightToDLQ() {
	queue := "test_permanent_" + uuid.NewString()
	handler := &scriptedHandler{results: []error{messaging.ErrPermanent}}
	stop := s.startConsumer(queue, handler)
	defer stop()

	s.publish(queue, []byte(`not json`))

	d := s.deadLettered(queue)
	assert.Equal(s.T(), "not json", string(d.Body))
	assert.Equal(s.T(), 1, handler.calls())
}

func (s *ConsumerSuite) TestPublishedReviewEmailReachesSender() {
	publisher, err := sharedMessaging.NewRabbitMQNotificationPublisher(s.conn, s.logger)
	require.NoError(s.T(), err)
	defer publisher.Close()

	sender := &recordingEmailSender{}
	stop := s.startConsumer(sharedMessaging.ReviewEmailQueueName, messaging.NewEmailProcessor(s.logger, sender))
	defer stop()

	payload := models.ReviewEmailPayload{
		OwnerID:    uuid.New(),
		StoryID:    uuid.New(),
		To:         "parent@example.com",
		StoryTitle: "Кот и шляпа",
		ApproveURL: "https://fairytale.local/api/v1/review/a?action=approve",
		DeclineURL: "https://fairytale.local/api/v1/review/d?action=decline",
		ExpiresAt:  time.Now().Add(72 * time.Hour).Unix(),
	}
	require.NoError(s.T(), publisher.PublishReviewEmail(s.ctx, payload))

	require.Eventually(s.T(), func() bool { return sender.count() == 1 }, 10*time.Second, 50*time.Millisecond)
	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(s.T(), payload, sender.sent[0])
}
