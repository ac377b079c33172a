package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"fairytale-server/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockDeviceTokens struct{ mock.Mock }

func (m *mockDeviceTokens) SaveDeviceToken(ctx context.Context, ownerID uuid.UUID, token, platform string) error {
	return m.Called(ctx, ownerID, token, platform).Error(0)
}

func (m *mockDeviceTokens) GetDeviceTokensForUser(ctx context.Context, ownerID uuid.UUID) ([]models.DeviceTokenInfo, error) {
	args := m.Called(ctx, ownerID)
	tokens, _ := args.Get(0).([]models.DeviceTokenInfo)
	return tokens, args.Error(1)
}

func (m *mockDeviceTokens) DeleteDeviceToken(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

// recordingSender запоминает токены и возвращает заранее заданный результат.
type recordingSender struct {
	platform string
	invalid  []string
	err      error

	mu   sync.Mutex
	sent []string
}

func (s *recordingSender) Send(_ context.Context, tokens []string, _ models.PushNotification, _ map[string]string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, tokens...)
	return s.invalid, s.err
}

func (s *recordingSender) Platform() string { return s.platform }

func TestSendNotification_GroupsByPlatformAndPrunesInvalidTokens(t *testing.T) {
	owner := uuid.New()
	repo := &mockDeviceTokens{}
	repo.On("GetDeviceTokensForUser", mock.Anything, owner).Return([]models.DeviceTokenInfo{
		{Token: "android-1", Platform: models.PlatformAndroid},
		{Token: "android-2", Platform: models.PlatformAndroid},
		{Token: "ios-1", Platform: models.PlatformIOS},
		{Token: "web-1", Platform: "web"},
	}, nil).Once()
	repo.On("DeleteDeviceToken", mock.Anything, "android-2").Return(nil).Once()

	android := &recordingSender{platform: models.PlatformAndroid, invalid: []string{"android-2"}}
	ios := &recordingSender{platform: models.PlatformIOS}
	svc := NewNotificationService(repo, zap.NewNop(), android, ios, nil)

	err := svc.SendNotification(context.Background(), models.PushNotificationPayload{
		UserID:       owner,
		Notification: models.PushNotification{Title: "Сказка готова"},
	})

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"android-1", "android-2"}, android.sent)
	assert.Equal(t, []string{"ios-1"}, ios.sent)
	repo.AssertExpectations(t)
}

func TestSendNotification_RestrictsToRequestedTokens(t *testing.T) {
	owner := uuid.New()
	repo := &mockDeviceTokens{}
	repo.On("GetDeviceTokensForUser", mock.Anything, owner).Return([]models.DeviceTokenInfo{
		{Token: "ios-1", Platform: models.PlatformIOS},
		{Token: "ios-2", Platform: models.PlatformIOS},
	}, nil).Once()

	ios := &recordingSender{platform: models.PlatformIOS}
	svc := NewNotificationService(repo, zap.NewNop(), ios)

	require.NoError(t, svc.SendNotification(context.Background(), models.PushNotificationPayload{
		UserID:       owner,
		DeviceTokens: []string{"ios-2"},
	}))
	assert.Equal(t, []string{"ios-2"}, ios.sent)
}

func TestSendNotification_Errors(t *testing.T) {
	owner := uuid.New()

	repo := &mockDeviceTokens{}
	repo.On("GetDeviceTokensForUser", mock.Anything, owner).Return(nil, errors.New("db down")).Once()
	svc := NewNotificationService(repo, zap.NewNop())
	assert.Error(t, svc.SendNotification(context.Background(), models.PushNotificationPayload{UserID: owner}))

	repo = &mockDeviceTokens{}
	repo.On("GetDeviceTokensForUser", mock.Anything, owner).Return([]models.DeviceTokenInfo{
		{Token: "android-1", Platform: models.PlatformAndroid},
	}, nil).Once()
	failing := &recordingSender{platform: models.PlatformAndroid, err: errors.New("quota")}
	svc = NewNotificationService(repo, zap.NewNop(), failing)
	err := svc.SendNotification(context.Background(), models.PushNotificationPayload{UserID: owner})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "android")

	// без устройств отправлять нечего, это не ошибка
	repo = &mockDeviceTokens{}
	repo.On("GetDeviceTokensForUser", mock.Anything, owner).Return([]models.DeviceTokenInfo{}, nil).Once()
	svc = NewNotificationService(repo, zap.NewNop(), failing)
	assert.NoError(t, svc.SendNotification(context.Background(), models.PushNotificationPayload{UserID: owner}))
}
