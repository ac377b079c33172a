package mocks

import (
	"context"
	"time"

	"fairytale-server/shared/models"

	"github.com/stretchr/testify/mock"
)

// MockNotifier is a mock type for the notifier used by the approval gate and the pipeline
type MockNotifier struct {
	mock.Mock
}

func NewMockNotifier(t testingT) *MockNotifier {
	m := &MockNotifier{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (_m *MockNotifier) StoryReady(ctx context.Context, story *models.Story) error {
	return _m.Called(ctx, story).Error(0)
}

func (_m *MockNotifier) ReviewRequested(ctx context.Context, story *models.Story) error {
	return _m.Called(ctx, story).Error(0)
}

func (_m *MockNotifier) StoryFailed(ctx context.Context, story *models.Story) error {
	return _m.Called(ctx, story).Error(0)
}

func (_m *MockNotifier) ReviewEmail(ctx context.Context, story *models.Story, to, approveToken, declineToken string, expiresAt time.Time) error {
	return _m.Called(ctx, story, to, approveToken, declineToken, expiresAt).Error(0)
}
