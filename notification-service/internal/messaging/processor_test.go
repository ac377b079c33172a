package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"fairytale-server/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockPushSender struct{ mock.Mock }

func (m *mockPushSender) SendNotification(ctx context.Context, payload models.PushNotificationPayload) error {
	return m.Called(ctx, payload).Error(0)
}

type mockEmailSender struct{ mock.Mock }

func (m *mockEmailSender) SendReviewEmail(ctx context.Context, payload models.ReviewEmailPayload) error {
	return m.Called(ctx, payload).Error(0)
}

func TestPushProcessor_Handle(t *testing.T) {
	sender := &mockPushSender{}
	p := NewPushProcessor(zap.NewNop(), sender)

	err := p.Handle(context.Background(), []byte("{not json"))
	assert.ErrorIs(t, err, ErrPermanent)

	payload := models.PushNotificationPayload{
		UserID:       uuid.New(),
		Notification: models.PushNotification{Title: "Сказка готова", Body: "The Tea Dragon"},
		Data:         map[string]string{models.PushDataKeyEventType: models.PushEventStoryReady},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	sender.On("SendNotification", mock.Anything, payload).Return(nil).Once()
	assert.NoError(t, p.Handle(context.Background(), body))

	transient := errors.New("fcm unavailable")
	sender.On("SendNotification", mock.Anything, payload).Return(transient).Once()
	err = p.Handle(context.Background(), body)
	assert.ErrorIs(t, err, transient)
	assert.NotErrorIs(t, err, ErrPermanent)

	sender.AssertExpectations(t)
}

func TestEmailProcessor_Handle(t *testing.T) {
	sender := &mockEmailSender{}
	p := NewEmailProcessor(zap.NewNop(), sender)

	incomplete, _ := json.Marshal(models.ReviewEmailPayload{StoryID: uuid.New(), To: "parent@example.com"})
	assert.ErrorIs(t, p.Handle(context.Background(), incomplete), ErrPermanent)
	assert.ErrorIs(t, p.Handle(context.Background(), []byte("[]")), ErrPermanent)

	payload := models.ReviewEmailPayload{
		OwnerID:    uuid.New(),
		StoryID:    uuid.New(),
		To:         "parent@example.com",
		StoryTitle: "The Tea Dragon",
		ApproveURL: "https://fairytale.example/api/v1/review/a?action=approve",
		DeclineURL: "https://fairytale.example/api/v1/review/d?action=decline",
		ExpiresAt:  1760000000,
	}
	body, _ := json.Marshal(payload)
	sender.On("SendReviewEmail", mock.Anything, payload).Return(nil).Once()
	assert.NoError(t, p.Handle(context.Background(), body))
	sender.AssertExpectations(t)
}
