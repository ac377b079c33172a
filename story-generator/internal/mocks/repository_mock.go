package mocks

import (
	"context"
	"io"
	"time"

	"fairytale-server/shared/interfaces"
	"fairytale-server/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockStoryRepository is a mock type for the interfaces.StoryRepository type
type MockStoryRepository struct {
	mock.Mock
}

func NewMockStoryRepository(t testingT) *MockStoryRepository {
	m := &MockStoryRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (_m *MockStoryRepository) Create(ctx context.Context, story *models.Story) error {
	return _m.Called(ctx, story).Error(0)
}

func (_m *MockStoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	ret := _m.Called(ctx, id)
	if rf, ok := ret.Get(0).(func(context.Context, uuid.UUID) (*models.Story, error)); ok {
		return rf(ctx, id)
	}
	r0, _ := ret.Get(0).(*models.Story)
	return r0, ret.Error(1)
}

func (_m *MockStoryRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, cursor string, limit int) ([]*models.Story, string, error) {
	ret := _m.Called(ctx, ownerID, cursor, limit)
	r0, _ := ret.Get(0).([]*models.Story)
	return r0, ret.String(1), ret.Error(2)
}

func (_m *MockStoryRepository) Transition(ctx context.Context, id uuid.UUID, from, to models.StoryStatus, patch interfaces.TransitionPatch) error {
	ret := _m.Called(ctx, id, from, to, patch)
	if rf, ok := ret.Get(0).(func(context.Context, uuid.UUID, models.StoryStatus, models.StoryStatus, interfaces.TransitionPatch) error); ok {
		return rf(ctx, id, from, to, patch)
	}
	return ret.Error(0)
}

func (_m *MockStoryRepository) SetWriteOnce(ctx context.Context, id uuid.UUID, field models.StoryWriteOnce, value string) error {
	return _m.Called(ctx, id, field, value).Error(0)
}

func (_m *MockStoryRepository) SetContent(ctx context.Context, id uuid.UUID, content models.StoryContent) error {
	return _m.Called(ctx, id, content).Error(0)
}

func (_m *MockStoryRepository) SetPersonalizationIfAbsent(ctx context.Context, id uuid.UUID, decision models.PersonalizationDecision) (*models.PersonalizationDecision, error) {
	ret := _m.Called(ctx, id, decision)
	if rf, ok := ret.Get(0).(func(context.Context, uuid.UUID, models.PersonalizationDecision) (*models.PersonalizationDecision, error)); ok {
		return rf(ctx, id, decision)
	}
	r0, _ := ret.Get(0).(*models.PersonalizationDecision)
	return r0, ret.Error(1)
}

func (_m *MockStoryRepository) UpdateDraftText(ctx context.Context, id uuid.UUID, text string) error {
	return _m.Called(ctx, id, text).Error(0)
}

func (_m *MockStoryRepository) RecordStageLatency(ctx context.Context, id uuid.UUID, stage models.Stage, latency time.Duration) error {
	return _m.Called(ctx, id, stage, latency).Error(0)
}

func (_m *MockStoryRepository) SetStageWarning(ctx context.Context, id uuid.UUID, stage models.Stage, warning string) error {
	return _m.Called(ctx, id, stage, warning).Error(0)
}

func (_m *MockStoryRepository) ClearStageWarning(ctx context.Context, id uuid.UUID, stage models.Stage) error {
	return _m.Called(ctx, id, stage).Error(0)
}

func (_m *MockStoryRepository) MarkStaleAsError(ctx context.Context, statuses []models.StoryStatus, olderThan time.Time, detail models.ErrorDetail) ([]uuid.UUID, error) {
	ret := _m.Called(ctx, statuses, olderThan, detail)
	r0, _ := ret.Get(0).([]uuid.UUID)
	return r0, ret.Error(1)
}

// MockUsageRepository is a mock type for the interfaces.UsageRepository type
type MockUsageRepository struct {
	mock.Mock
}

func NewMockUsageRepository(t testingT) *MockUsageRepository {
	m := &MockUsageRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (_m *MockUsageRepository) Append(ctx context.Context, record *models.UsageRecord) error {
	return _m.Called(ctx, record).Error(0)
}

func (_m *MockUsageRepository) SummarizeSince(ctx context.Context, ownerID uuid.UUID, since time.Time) (*models.UsageSummary, error) {
	ret := _m.Called(ctx, ownerID, since)
	r0, _ := ret.Get(0).(*models.UsageSummary)
	return r0, ret.Error(1)
}

func (_m *MockUsageRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]*models.UsageRecord, error) {
	ret := _m.Called(ctx, storyID)
	r0, _ := ret.Get(0).([]*models.UsageRecord)
	return r0, ret.Error(1)
}

// MockOwnerRepository is a mock type for the interfaces.OwnerRepository type
type MockOwnerRepository struct {
	mock.Mock
}

func NewMockOwnerRepository(t testingT) *MockOwnerRepository {
	m := &MockOwnerRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (_m *MockOwnerRepository) Get(ctx context.Context, ownerID uuid.UUID) (*models.OwnerSettings, error) {
	ret := _m.Called(ctx, ownerID)
	r0, _ := ret.Get(0).(*models.OwnerSettings)
	return r0, ret.Error(1)
}

func (_m *MockOwnerRepository) Upsert(ctx context.Context, settings *models.OwnerSettings) error {
	return _m.Called(ctx, settings).Error(0)
}

func (_m *MockOwnerRepository) IsReviewer(ctx context.Context, ownerID, reviewerID uuid.UUID) (bool, error) {
	ret := _m.Called(ctx, ownerID, reviewerID)
	return ret.Bool(0), ret.Error(1)
}

func (_m *MockOwnerRepository) AddReviewer(ctx context.Context, ownerID, reviewerID uuid.UUID) error {
	return _m.Called(ctx, ownerID, reviewerID).Error(0)
}

func (_m *MockOwnerRepository) RemoveReviewer(ctx context.Context, ownerID, reviewerID uuid.UUID) error {
	return _m.Called(ctx, ownerID, reviewerID).Error(0)
}

func (_m *MockOwnerRepository) ListReviewers(ctx context.Context, ownerID uuid.UUID) ([]uuid.UUID, error) {
	ret := _m.Called(ctx, ownerID)
	r0, _ := ret.Get(0).([]uuid.UUID)
	return r0, ret.Error(1)
}

// MockDeviceTokenRepository is a mock type for the interfaces.DeviceTokenRepository type
type MockDeviceTokenRepository struct {
	mock.Mock
}

func NewMockDeviceTokenRepository(t testingT) *MockDeviceTokenRepository {
	m := &MockDeviceTokenRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (_m *MockDeviceTokenRepository) SaveDeviceToken(ctx context.Context, ownerID uuid.UUID, token, platform string) error {
	return _m.Called(ctx, ownerID, token, platform).Error(0)
}

func (_m *MockDeviceTokenRepository) GetDeviceTokensForUser(ctx context.Context, ownerID uuid.UUID) ([]models.DeviceTokenInfo, error) {
	ret := _m.Called(ctx, ownerID)
	r0, _ := ret.Get(0).([]models.DeviceTokenInfo)
	return r0, ret.Error(1)
}

func (_m *MockDeviceTokenRepository) DeleteDeviceToken(ctx context.Context, token string) error {
	return _m.Called(ctx, token).Error(0)
}

// MockReviewTokenRepository is a mock type for the interfaces.ReviewTokenRepository type
type MockReviewTokenRepository struct {
	mock.Mock
}

func NewMockReviewTokenRepository(t testingT) *MockReviewTokenRepository {
	m := &MockReviewTokenRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (_m *MockReviewTokenRepository) Save(ctx context.Context, tokens []models.ReviewToken) error {
	return _m.Called(ctx, tokens).Error(0)
}

func (_m *MockReviewTokenRepository) Redeem(ctx context.Context, token string, action models.ReviewAction) (uuid.UUID, error) {
	ret := _m.Called(ctx, token, action)
	r0, _ := ret.Get(0).(uuid.UUID)
	return r0, ret.Error(1)
}

func (_m *MockReviewTokenRepository) Release(ctx context.Context, token string) error {
	return _m.Called(ctx, token).Error(0)
}

func (_m *MockReviewTokenRepository) RevokeForStory(ctx context.Context, storyID uuid.UUID) error {
	return _m.Called(ctx, storyID).Error(0)
}

// MockObjectStore is a mock type for the interfaces.ObjectStore type
type MockObjectStore struct {
	mock.Mock
}

func NewMockObjectStore(t testingT) *MockObjectStore {
	m := &MockObjectStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (_m *MockObjectStore) Put(ctx context.Context, key string, contentType string, r io.Reader) (int64, error) {
	ret := _m.Called(ctx, key, contentType, r)
	r0, _ := ret.Get(0).(int64)
	return r0, ret.Error(1)
}

func (_m *MockObjectStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	ret := _m.Called(ctx, key)
	if rf, ok := ret.Get(0).(func(context.Context, string) (io.ReadCloser, error)); ok {
		return rf(ctx, key)
	}
	r0, _ := ret.Get(0).(io.ReadCloser)
	return r0, ret.Error(1)
}

// MockPushPublisher is a mock type for the interfaces.PushNotificationPublisher type
type MockPushPublisher struct {
	mock.Mock
}

func NewMockPushPublisher(t testingT) *MockPushPublisher {
	m := &MockPushPublisher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (_m *MockPushPublisher) PublishPush(ctx context.Context, payload models.PushNotificationPayload) error {
	return _m.Called(ctx, payload).Error(0)
}

// MockReviewEmailPublisher is a mock type for the interfaces.ReviewEmailPublisher type
type MockReviewEmailPublisher struct {
	mock.Mock
}

func NewMockReviewEmailPublisher(t testingT) *MockReviewEmailPublisher {
	m := &MockReviewEmailPublisher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (_m *MockReviewEmailPublisher) PublishReviewEmail(ctx context.Context, payload models.ReviewEmailPayload) error {
	return _m.Called(ctx, payload).Error(0)
}

var (
	_ interfaces.StoryRepository           = (*MockStoryRepository)(nil)
	_ interfaces.UsageRepository           = (*MockUsageRepository)(nil)
	_ interfaces.OwnerRepository           = (*MockOwnerRepository)(nil)
	_ interfaces.DeviceTokenRepository     = (*MockDeviceTokenRepository)(nil)
	_ interfaces.ReviewTokenRepository     = (*MockReviewTokenRepository)(nil)
	_ interfaces.ObjectStore               = (*MockObjectStore)(nil)
	_ interfaces.PushNotificationPublisher = (*MockPushPublisher)(nil)
	_ interfaces.ReviewEmailPublisher      = (*MockReviewEmailPublisher)(nil)
)
