//go:build integration

package database_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"fairytale-server/pkg/migration"
	"fairytale-server/shared/database"
	"fairytale-server/shared/interfaces"
	"fairytale-server/shared/models"

	"github.com/docker/docker/client"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// RepositorySuite поднимает Postgres и Redis один раз на весь набор.
type RepositorySuite struct {
	suite.Suite
	ctx         context.Context
	pgContainer *postgres.PostgresContainer
	rdContainer *tcredis.RedisContainer
	pool        *pgxpool.Pool
	redisClient *redis.Client
	logger      *zap.Logger

	stories interfaces.StoryRepository
	usage   interfaces.UsageRepository
	owners  interfaces.OwnerRepository
	devices interfaces.DeviceTokenRepository
	configs interfaces.DynamicConfigRepository
	tokens  interfaces.ReviewTokenRepository
}

func (s *RepositorySuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = zap.NewNop()
	var err error

	s.pgContainer, err = postgres.Run(s.ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start postgres container")

	dsn, err := s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err)
	s.pool, err = pgxpool.New(s.ctx, dsn)
	require.NoError(s.T(), err)

	// Те же встроенные миграции, что применяет сервис при старте
	require.NoError(s.T(), migration.NewMigrator(migration.Config{}, s.pool).Up(s.ctx))

	s.rdContainer, err = tcredis.Run(s.ctx,
		"docker.io/redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("* Ready to accept connections").
				WithOccurrence(1).
				WithStartupTimeout(1*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start redis container")

	host, err := s.rdContainer.Host(s.ctx)
	require.NoError(s.T(), err)
	port, err := s.rdContainer.MappedPort(s.ctx, "6379/tcp")
	require.NoError(s.T(), err)
	s.redisClient = redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	require.NoError(s.T(), s.redisClient.Ping(s.ctx).Err())

	s.stories = database.NewPgStoryRepository(s.pool, s.logger)
	s.usage = database.NewPgUsageRepository(s.pool, s.logger)
	s.owners = database.NewPgOwnerRepository(s.pool, s.logger)
	s.devices = database.NewPgDeviceTokenRepository(s.pool, s.logger)
	s.configs = database.NewPgDynamicConfigRepository(s.pool, s.logger)
	s.tokens = database.NewRedisReviewTokenRepository(s.redisClient, s.logger)
}

func (s *RepositorySuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.redisClient != nil {
		_ = s.redisClient.Close()
	}
	if s.pgContainer != nil {
		if err := s.pgContainer.Terminate(s.ctx); err != nil {
			s.T().Logf("failed to terminate postgres container: %v", err)
		}
	}
	if s.rdContainer != nil {
		if err := s.rdContainer.Terminate(s.ctx); err != nil {
			s.T().Logf("failed to terminate redis container: %v", err)
		}
	}
}

// Перед каждым тестом чистим данные. usage_records защищен триггером от DELETE,
// TRUNCATE его не вызывает.
func (s *RepositorySuite) SetupTest() {
	require.NoError(s.T(), s.redisClient.FlushDB(s.ctx).Err())
	_, err := s.pool.Exec(s.ctx, `TRUNCATE TABLE usage_records, stories, owner_settings, owner_reviewers, user_device_tokens CASCADE`)
	require.NoError(s.T(), err)
}

func TestRepositorySuite(t *testing.T) {
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

	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) newStory(ownerID uuid.UUID, kind models.InputKind) *models.Story {
	text := "дракон, который боится темноты"
	story := &models.Story{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		InputKind: kind,
		Status:    models.StatusSubmitted,
		Language:  "ru",
	}
	if kind == models.InputKindText {
		story.InputText = &text
	}
	require.NoError(s.T(), s.stories.Create(s.ctx, story))
	return story
}

func (s *RepositorySuite) TestStory_CreateAndGet() {
	t := s.T()
	story := s.newStory(uuid.New(), models.InputKindText)

	got, err := s.stories.GetByID(s.ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, got.Status)
	assert.Equal(t, "ru", got.Language)
	require.NotNil(t, got.InputText)
	assert.Equal(t, *story.InputText, *got.InputText)
	assert.Empty(t, got.LatencyMsByStage)
	assert.Nil(t, got.ErrorDetail)

	_, err = s.stories.GetByID(s.ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrStoryNotFound)
}

func (s *RepositorySuite) TestStory_TransitionIsCompareAndSet() {
	t := s.T()
	story := s.newStory(uuid.New(), models.InputKindText)

	require.NoError(t, s.stories.Transition(s.ctx, story.ID, models.StatusSubmitted, models.StatusProcessing, interfaces.TransitionPatch{}))

	// Второй переход из того же статуса проигрывает гонку
	err := s.stories.Transition(s.ctx, story.ID, models.StatusSubmitted, models.StatusProcessing, interfaces.TransitionPatch{})
	assert.ErrorIs(t, err, models.ErrConflict)

	err = s.stories.Transition(s.ctx, story.ID, models.StatusApproved, models.StatusProcessing, interfaces.TransitionPatch{})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	err = s.stories.Transition(s.ctx, uuid.New(), models.StatusSubmitted, models.StatusProcessing, interfaces.TransitionPatch{})
	assert.ErrorIs(t, err, models.ErrStoryNotFound)

	detail := &models.ErrorDetail{Code: models.ErrorCodeVendorUnavailable, Stage: models.StageText}
	require.NoError(t, s.stories.Transition(s.ctx, story.ID, models.StatusProcessing, models.StatusError, interfaces.TransitionPatch{ErrorDetail: detail}))
	got, err := s.stories.GetByID(s.ctx, story.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ErrorDetail)
	assert.Equal(t, *detail, *got.ErrorDetail)

	// Retry очищает errorDetail
	require.NoError(t, s.stories.Transition(s.ctx, story.ID, models.StatusError, models.StatusProcessing, interfaces.TransitionPatch{}))
	got, err = s.stories.GetByID(s.ctx, story.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ErrorDetail)

	reason := "слишком страшно"
	reviewer := uuid.New()
	decision := &models.ReviewDecision{
		Decision:   models.ReviewDecline,
		Reason:     &reason,
		ReviewerID: &reviewer,
		Via:        models.ReviewViaInApp,
		DecidedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, s.stories.Transition(s.ctx, story.ID, models.StatusProcessing, models.StatusPendingReview, interfaces.TransitionPatch{}))
	require.NoError(t, s.stories.Transition(s.ctx, story.ID, models.StatusPendingReview, models.StatusDeclined, interfaces.TransitionPatch{ReviewDecision: decision}))
	got, err = s.stories.GetByID(s.ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, got.Status)
	require.NotNil(t, got.ReviewDecision)
	assert.Equal(t, models.ReviewDecline, got.ReviewDecision.Decision)
	assert.Equal(t, reason, *got.ReviewDecision.Reason)
	assert.Equal(t, reviewer, *got.ReviewDecision.ReviewerID)
}

func (s *RepositorySuite) TestStory_WriteOnceFields() {
	t := s.T()
	story := s.newStory(uuid.New(), models.InputKindImage)

	require.NoError(t, s.stories.SetWriteOnce(s.ctx, story.ID, models.FieldDescription, "кот в шляпе"))
	// Повтор того же значения идемпотентен
	require.NoError(t, s.stories.SetWriteOnce(s.ctx, story.ID, models.FieldDescription, "кот в шляпе"))
	err := s.stories.SetWriteOnce(s.ctx, story.ID, models.FieldDescription, "собака")
	assert.ErrorIs(t, err, models.ErrFieldAlreadySet)

	err = s.stories.SetWriteOnce(s.ctx, story.ID, models.StoryWriteOnce("status"), "approved")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	content := models.StoryContent{Title: "Кот и шляпа", Body: "Жил-был кот."}
	require.NoError(t, s.stories.SetContent(s.ctx, story.ID, content))
	require.NoError(t, s.stories.SetContent(s.ctx, story.ID, content))
	err = s.stories.SetContent(s.ctx, story.ID, models.StoryContent{Title: "Другое", Body: "..."})
	assert.ErrorIs(t, err, models.ErrFieldAlreadySet)

	got, err := s.stories.GetByID(s.ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, "кот в шляпе", *got.Description)
	assert.Equal(t, content, *got.Content)
	assert.Equal(t, "кот в шляпе", got.SourceText())
}

func (s *RepositorySuite) TestStory_PersonalizationIsPersistedOnce() {
	t := s.T()
	story := s.newStory(uuid.New(), models.InputKindText)

	first := models.PersonalizationDecision{IncludeAppearance: true, IncludeName: true, Probability: 0.5, Seed: 42, DrawnAt: time.Now().UTC().Truncate(time.Millisecond)}
	stored, err := s.stories.SetPersonalizationIfAbsent(s.ctx, story.ID, first)
	require.NoError(t, err)
	assert.True(t, stored.IncludeAppearance)

	second := first
	second.IncludeAppearance = false
	second.Seed = 7
	stored, err = s.stories.SetPersonalizationIfAbsent(s.ctx, story.ID, second)
	require.NoError(t, err)
	assert.True(t, stored.IncludeAppearance, "повторный розыгрыш не должен менять сохраненное решение")
	assert.Equal(t, uint64(42), stored.Seed)

	_, err = s.stories.SetPersonalizationIfAbsent(s.ctx, uuid.New(), first)
	assert.ErrorIs(t, err, models.ErrStoryNotFound)
}

func (s *RepositorySuite) TestStory_DraftLatencyAndWarnings() {
	t := s.T()
	story := s.newStory(uuid.New(), models.InputKindAudio)

	err := s.stories.UpdateDraftText(s.ctx, story.ID, "текст")
	assert.ErrorIs(t, err, models.ErrConflict, "черновик можно менять только в drafting")

	require.NoError(t, s.stories.Transition(s.ctx, story.ID, models.StatusSubmitted, models.StatusTranscribing, interfaces.TransitionPatch{}))
	require.NoError(t, s.stories.RecordStageLatency(s.ctx, story.ID, models.StageTranscription, 1200*time.Millisecond))
	require.NoError(t, s.stories.RecordStageLatency(s.ctx, story.ID, models.StageTranscription, 300*time.Millisecond))
	require.NoError(t, s.stories.SetStageWarning(s.ctx, story.ID, models.StageIllustration, string(models.ErrorCodeVendorUnavailable)))

	got, err := s.stories.GetByID(s.ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), got.LatencyMsByStage[models.StageTranscription])
	assert.Equal(t, string(models.ErrorCodeVendorUnavailable), got.StageWarnings[models.StageIllustration])

	require.NoError(t, s.stories.ClearStageWarning(s.ctx, story.ID, models.StageIllustration))
	require.NoError(t, s.stories.ClearStageWarning(s.ctx, story.ID, models.StageIllustration))
	got, err = s.stories.GetByID(s.ctx, story.ID)
	require.NoError(t, err)
	assert.NotContains(t, got.StageWarnings, models.StageIllustration)
}

func (s *RepositorySuite) TestStory_ListByOwnerPaginates() {
	t := s.T()
	ownerID := uuid.New()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	for i := 0; i < 5; i++ {
		story := &models.Story{
			ID:        uuid.New(),
			OwnerID:   ownerID,
			InputKind: models.InputKindImage,
			Status:    models.StatusSubmitted,
			Language:  "en",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.stories.Create(s.ctx, story))
	}
	s.newStory(uuid.New(), models.InputKindText)

	page, cursor, err := s.stories.ListByOwner(s.ctx, ownerID, "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.NotEmpty(t, cursor)
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt), "новые истории первыми")

	seen := map[uuid.UUID]bool{page[0].ID: true, page[1].ID: true}
	for cursor != "" {
		page, cursor, err = s.stories.ListByOwner(s.ctx, ownerID, cursor, 2)
		require.NoError(t, err)
		for _, st := range page {
			assert.False(t, seen[st.ID], "история не должна повторяться между страницами")
			assert.Equal(t, ownerID, st.OwnerID)
			seen[st.ID] = true
		}
	}
	assert.Len(t, seen, 5)

	_, _, err = s.stories.ListByOwner(s.ctx, ownerID, "not-a-cursor", 2)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func (s *RepositorySuite) TestStory_MarkStaleAsError() {
	t := s.T()
	stale := s.newStory(uuid.New(), models.InputKindText)
	require.NoError(t, s.stories.Transition(s.ctx, stale.ID, models.StatusSubmitted, models.StatusProcessing, interfaces.TransitionPatch{}))
	fresh := s.newStory(uuid.New(), models.InputKindText)

	// updated_at выставляет триггер, поэтому сдвигаем его вручную
	_, err := s.pool.Exec(s.ctx, `ALTER TABLE stories DISABLE TRIGGER trg_stories_updated_at`)
	require.NoError(t, err)
	_, err = s.pool.Exec(s.ctx, `UPDATE stories SET updated_at = NOW() - INTERVAL '2 hours' WHERE id = $1`, stale.ID)
	require.NoError(t, err)
	_, err = s.pool.Exec(s.ctx, `ALTER TABLE stories ENABLE TRIGGER trg_stories_updated_at`)
	require.NoError(t, err)

	detail := models.ErrorDetail{Code: models.ErrorCodeTimeout}
	ids, err := s.stories.MarkStaleAsError(s.ctx,
		[]models.StoryStatus{models.StatusSubmitted, models.StatusProcessing},
		time.Now().Add(-time.Hour), detail)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{stale.ID}, ids)

	got, err := s.stories.GetByID(s.ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, models.ErrorCodeTimeout, got.ErrorDetail.Code)

	got, err = s.stories.GetByID(s.ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, got.Status)

	_, err = s.stories.MarkStaleAsError(s.ctx, []models.StoryStatus{models.StatusApproved}, time.Now(), detail)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func (s *RepositorySuite) TestUsage_AppendAccumulatesCost() {
	t := s.T()
	ownerID := uuid.New()
	story := s.newStory(ownerID, models.InputKindText)
	failure := string(models.ErrorCodeRateLimited)

	records := []*models.UsageRecord{
		{OwnerID: ownerID, StoryID: story.ID, OperationType: models.OperationText, Vendor: "openai", Model: "gpt-4o-mini", CostUSD: 0.002, LatencyMs: 900, Success: true},
		{OwnerID: ownerID, StoryID: story.ID, OperationType: models.OperationText, Vendor: "openrouter", Model: "llama", LatencyMs: 120, Success: false, ErrorKind: &failure},
		{OwnerID: ownerID, StoryID: story.ID, OperationType: models.OperationSpeech, Vendor: "openai", Model: "tts-1", CostUSD: 0.015, LatencyMs: 2000, Success: true},
	}
	for _, rec := range records {
		require.NoError(t, s.usage.Append(s.ctx, rec))
	}

	got, err := s.stories.GetByID(s.ctx, story.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.017, got.CostAccumulatedUSD, 1e-9)

	summary, err := s.usage.SummarizeSince(s.ctx, ownerID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.Operations)
	assert.InDelta(t, 0.017, summary.TotalCostUSD, 1e-9)

	summary, err = s.usage.SummarizeSince(s.ctx, ownerID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, summary.Operations)

	listed, err := s.usage.ListByStory(s.ctx, story.ID)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.False(t, listed[1].Success)
	require.NotNil(t, listed[1].ErrorKind)
	assert.Equal(t, failure, *listed[1].ErrorKind)

	// Журнал только на добавление
	_, err = s.pool.Exec(s.ctx, `UPDATE usage_records SET cost_usd = 0 WHERE story_id = $1`, story.ID)
	assert.Error(t, err)
	_, err = s.pool.Exec(s.ctx, `DELETE FROM usage_records WHERE story_id = $1`, story.ID)
	assert.Error(t, err)
}

func (s *RepositorySuite) TestOwner_SettingsAndReviewers() {
	t := s.T()
	ownerID := uuid.New()

	_, err := s.owners.Get(s.ctx, ownerID)
	assert.ErrorIs(t, err, models.ErrOwnerNotFound)

	email := "parent@example.com"
	name := "Маша"
	settings := &models.OwnerSettings{OwnerID: ownerID, Email: &email, ApprovalMode: models.ApprovalModeEmail, Tier: "premium", ChildName: &name}
	require.NoError(t, s.owners.Upsert(s.ctx, settings))

	got, err := s.owners.Get(s.ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalModeEmail, got.ApprovalMode)
	assert.Equal(t, "premium", got.Tier)
	assert.Equal(t, email, *got.Email)
	assert.Nil(t, got.ChildAppearance)

	settings.ApprovalMode = models.ApprovalModeInApp
	require.NoError(t, s.owners.Upsert(s.ctx, settings))
	got, err = s.owners.Get(s.ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalModeInApp, got.ApprovalMode)

	reviewer := uuid.New()
	ok, err := s.owners.IsReviewer(s.ctx, ownerID, reviewer)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.owners.AddReviewer(s.ctx, ownerID, reviewer))
	require.NoError(t, s.owners.AddReviewer(s.ctx, ownerID, reviewer))
	ok, err = s.owners.IsReviewer(s.ctx, ownerID, reviewer)
	require.NoError(t, err)
	assert.True(t, ok)

	reviewers, err := s.owners.ListReviewers(s.ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{reviewer}, reviewers)

	require.NoError(t, s.owners.RemoveReviewer(s.ctx, ownerID, reviewer))
	reviewers, err = s.owners.ListReviewers(s.ctx, ownerID)
	require.NoError(t, err)
	assert.Empty(t, reviewers)
}

func (s *RepositorySuite) TestDeviceTokens() {
	t := s.T()
	ownerID := uuid.New()

	require.NoError(t, s.devices.SaveDeviceToken(s.ctx, ownerID, "fcm-token", models.PlatformAndroid))
	require.NoError(t, s.devices.SaveDeviceToken(s.ctx, ownerID, "apns-token", models.PlatformIOS))
	require.NoError(t, s.devices.SaveDeviceToken(s.ctx, ownerID, "fcm-token", models.PlatformAndroid))

	tokens, err := s.devices.GetDeviceTokensForUser(s.ctx, ownerID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.DeviceTokenInfo{
		{Token: "fcm-token", Platform: models.PlatformAndroid},
		{Token: "apns-token", Platform: models.PlatformIOS},
	}, tokens)

	require.NoError(t, s.devices.DeleteDeviceToken(s.ctx, "fcm-token"))
	require.NoError(t, s.devices.DeleteDeviceToken(s.ctx, "fcm-token"))
	tokens, err = s.devices.GetDeviceTokensForUser(s.ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, []models.DeviceTokenInfo{{Token: "apns-token", Platform: models.PlatformIOS}}, tokens)

	err = s.devices.SaveDeviceToken(s.ctx, ownerID, "web-token", "web")
	assert.Error(t, err)
}

func (s *RepositorySuite) TestDynamicConfig_SeededAndUpsert() {
	t := s.T()

	seeded, err := s.configs.GetByKey(s.ctx, "vendors.text.default")
	require.NoError(t, err)
	entries, err := models.ParseVendorCandidates(seeded.Value)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "openai", entries[0].Vendor)

	_, err = s.configs.GetByKey(s.ctx, "vendors.text.xx")
	assert.ErrorIs(t, err, models.ErrNotFound)

	cfg := &models.DynamicConfig{Key: "quota.max_operations", Value: "50"}
	require.NoError(t, s.configs.Upsert(s.ctx, cfg))
	assert.False(t, cfg.UpdatedAt.IsZero())

	got, err := s.configs.GetByKey(s.ctx, "quota.max_operations")
	require.NoError(t, err)
	assert.Equal(t, "50", got.Value)

	all, err := s.configs.GetAll(s.ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(all), 10)
}

func (s *RepositorySuite) TestReviewTokens_RedeemOnce() {
	t := s.T()
	storyID := uuid.New()
	expires := time.Now().Add(time.Hour)
	require.NoError(t, s.tokens.Save(s.ctx, []models.ReviewToken{
		{Token: "approve-token", StoryID: storyID, Action: models.ReviewApprove, ExpiresAt: expires},
		{Token: "decline-token", StoryID: storyID, Action: models.ReviewDecline, ExpiresAt: expires},
	}))

	// Чужое действие не гасит токен
	_, err := s.tokens.Redeem(s.ctx, "approve-token", models.ReviewDecline)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)

	got, err := s.tokens.Redeem(s.ctx, "approve-token", models.ReviewApprove)
	require.NoError(t, err)
	assert.Equal(t, storyID, got)

	_, err = s.tokens.Redeem(s.ctx, "approve-token", models.ReviewApprove)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)

	_, err = s.tokens.Redeem(s.ctx, "unknown", models.ReviewApprove)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)

	// После решения оставшийся токен отзывается
	require.NoError(t, s.tokens.RevokeForStory(s.ctx, storyID))
	_, err = s.tokens.Redeem(s.ctx, "decline-token", models.ReviewDecline)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)

	require.NoError(t, s.tokens.RevokeForStory(s.ctx, uuid.New()))
}

func (s *RepositorySuite) TestReviewTokens_ReleaseRestoresOnlyUnrevoked() {
	t := s.T()
	storyID := uuid.New()
	expires := time.Now().Add(time.Hour)
	require.NoError(t, s.tokens.Save(s.ctx, []models.ReviewToken{
		{Token: "approve-token", StoryID: storyID, Action: models.ReviewApprove, ExpiresAt: expires},
		{Token: "decline-token", StoryID: storyID, Action: models.ReviewDecline, ExpiresAt: expires},
	}))

	_, err := s.tokens.Redeem(s.ctx, "approve-token", models.ReviewApprove)
	require.NoError(t, err)
	require.NoError(t, s.tokens.Release(s.ctx, "approve-token"))
	got, err := s.tokens.Redeem(s.ctx, "approve-token", models.ReviewApprove)
	require.NoError(t, err, "освобожденный токен снова действует")
	assert.Equal(t, storyID, got)

	// Отозванный токен не возвращается
	require.NoError(t, s.tokens.RevokeForStory(s.ctx, storyID))
	require.NoError(t, s.tokens.Release(s.ctx, "decline-token"))
	_, err = s.tokens.Redeem(s.ctx, "decline-token", models.ReviewDecline)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)

	require.NoError(t, s.tokens.Release(s.ctx, "unknown"))
}

func (s *RepositorySuite) TestReviewTokens_ConcurrentRedeemHasSingleWinner() {
	t := s.T()
	storyID := uuid.New()
	require.NoError(t, s.tokens.Save(s.ctx, []models.ReviewToken{
		{Token: "race-token", StoryID: storyID, Action: models.ReviewApprove, ExpiresAt: time.Now().Add(time.Hour)},
	}))

	const attempts = 20
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			_, err := s.tokens.Redeem(s.ctx, "race-token", models.ReviewApprove)
			results <- err
		}()
	}

	winners := 0
	for i := 0; i < attempts; i++ {
		err := <-results
		switch {
		case err == nil:
			winners++
		case errors.Is(err, models.ErrTokenInvalid):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, winners)
}
