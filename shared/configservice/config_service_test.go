package configservice

import (
	"context"
	"testing"
	"time"

	"fairytale-server/shared/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockConfigRepo struct{ mock.Mock }

func (m *mockConfigRepo) GetByKey(ctx context.Context, key string) (*models.DynamicConfig, error) {
	args := m.Called(ctx, key)
	if cfg := args.Get(0); cfg != nil {
		return cfg.(*models.DynamicConfig), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockConfigRepo) GetAll(ctx context.Context) ([]*models.DynamicConfig, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*models.DynamicConfig), args.Error(1)
}

func (m *mockConfigRepo) Upsert(ctx context.Context, cfg *models.DynamicConfig) error {
	return m.Called(ctx, cfg).Error(0)
}

type mockConfigPublisher struct{ mock.Mock }

func (m *mockConfigPublisher) PublishConfigUpdate(ctx context.Context, cfg models.DynamicConfig) error {
	return m.Called(ctx, cfg).Error(0)
}

func seedConfigs() []*models.DynamicConfig {
	return []*models.DynamicConfig{
		{Key: "vendors.text.default", Value: `[{"vendor":"openai","model":"gpt-4o-mini"},{"vendor":"ollama","model":"llama3"}]`},
		{Key: "vendors.text.ru", Value: `[{"vendor":"openrouter","model":"qwen"}]`},
		{Key: "vendors.speech.default", Value: `not json`},
		{Key: ConfigKeyAppearanceProbability, Value: "0.25"},
		{Key: ConfigKeyQuotaMaxCostUSD, Value: "1.5"},
		{Key: ConfigKeyQuotaWindow, Value: "1h"},
	}
}

func newTestService(t *testing.T) (*ConfigService, *mockConfigRepo) {
	repo := new(mockConfigRepo)
	repo.On("GetAll", mock.Anything).Return(seedConfigs(), nil).Once()
	cs, err := NewConfigService(context.Background(), repo, nil, zap.NewNop())
	require.NoError(t, err)
	return cs, repo
}

func TestConfigService_SnapshotFromSeed(t *testing.T) {
	cs, repo := newTestService(t)
	repo.AssertExpectations(t)

	snap := cs.Snapshot()
	require.NotNil(t, snap)

	ru := snap.Candidates(models.OperationText, "ru")
	require.Len(t, ru, 1)
	assert.Equal(t, "openrouter", ru[0].Vendor)

	// ru-RU -> ru
	ruRU := snap.Candidates(models.OperationText, "ru-RU")
	require.Len(t, ruRU, 1)
	assert.Equal(t, "openrouter", ruRU[0].Vendor)

	en := snap.Candidates(models.OperationText, "en")
	require.Len(t, en, 2)
	assert.Equal(t, "openai", en[0].Vendor)

	assert.Empty(t, snap.Candidates(models.OperationSpeech, "en"), "invalid JSON row is skipped")
	assert.InDelta(t, 0.25, snap.AppearanceProbability, 1e-9)
	assert.InDelta(t, 1.5, snap.Quota.MaxCostUSD, 1e-9)
	assert.Equal(t, int64(DefaultQuotaMaxOperations), snap.Quota.MaxOperations)
	assert.Equal(t, time.Hour, snap.Quota.Window)
	assert.Equal(t, DefaultReviewTokenTTL, snap.ReviewTokenTTL)
}

func TestConfigService_UpdateSwapsSnapshotButKeepsOldOneIntact(t *testing.T) {
	cs, _ := newTestService(t)
	before := cs.Snapshot()

	cs.Update(models.DynamicConfig{Key: "vendors.text.default", Value: `[{"vendor":"ollama","model":"llama3"}]`})
	after := cs.Snapshot()

	assert.Greater(t, after.Version, before.Version)
	assert.Equal(t, "ollama", after.Candidates(models.OperationText, "en")[0].Vendor)
	assert.Equal(t, "openai", before.Candidates(models.OperationText, "en")[0].Vendor, "running pipelines keep their snapshot")
}

func TestConfigService_UpdateRejectsInvalidVendorList(t *testing.T) {
	cs, _ := newTestService(t)
	cs.Update(models.DynamicConfig{Key: "vendors.text.default", Value: `[{"vendor":""}]`})
	assert.Equal(t, "openai", cs.Snapshot().Candidates(models.OperationText, "en")[0].Vendor)
}

func TestConfigService_CandidatesReturnsCopy(t *testing.T) {
	cs, _ := newTestService(t)
	list := cs.Snapshot().Candidates(models.OperationText, "en")
	list[0].Vendor = "mutated"
	assert.Equal(t, "openai", cs.Snapshot().Candidates(models.OperationText, "en")[0].Vendor)
}

func TestConfigService_SetPersistsAppliesAndPublishes(t *testing.T) {
	repo := new(mockConfigRepo)
	pub := new(mockConfigPublisher)
	repo.On("GetAll", mock.Anything).Return([]*models.DynamicConfig{}, nil).Once()
	cs, err := NewConfigService(context.Background(), repo, pub, zap.NewNop())
	require.NoError(t, err)

	value := `[{"vendor":"sana","model":"sana-1.6b"}]`
	repo.On("Upsert", mock.Anything, mock.MatchedBy(func(c *models.DynamicConfig) bool {
		return c.Key == "vendors.image.default" && c.Value == value
	})).Return(nil).Once()
	pub.On("PublishConfigUpdate", mock.Anything, mock.AnythingOfType("models.DynamicConfig")).Return(nil).Once()

	_, err = cs.Set(context.Background(), "vendors.image.default", value)
	require.NoError(t, err)
	assert.Equal(t, "sana", cs.Snapshot().Candidates(models.OperationImage, "fr")[0].Vendor)

	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestConfigService_SetValidates(t *testing.T) {
	cs, repo := newTestService(t)
	_, err := cs.Set(context.Background(), ConfigKeyQuotaWindow, "tomorrow")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	repo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}
