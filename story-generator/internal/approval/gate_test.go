package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fairytale-server/shared/configservice"
	"fairytale-server/shared/interfaces"
	"fairytale-server/shared/models"
	"fairytale-server/story-generator/internal/mocks"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type gateFixture struct {
	gate     *Gate
	stories  *mocks.MemoryStoryRepository
	tokens   *mocks.MemoryReviewTokenRepository
	owners   *mocks.MockOwnerRepository
	notifier *mocks.MockNotifier
}

func newFixture(t *testing.T) *gateFixture {
	f := &gateFixture{
		stories:  mocks.NewMemoryStoryRepository(),
		tokens:   mocks.NewMemoryReviewTokenRepository(),
		owners:   mocks.NewMockOwnerRepository(t),
		notifier: mocks.NewMockNotifier(t),
	}
	f.gate = New(f.stories, f.owners, f.tokens, f.notifier, zap.NewNop())
	return f
}

func (f *gateFixture) story(t *testing.T, status models.StoryStatus) *models.Story {
	s := &models.Story{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		InputKind: models.InputKindImage,
		Status:    status,
		Language:  "en",
		Content:   &models.StoryContent{Title: "Moon", Body: "..."},
	}
	require.NoError(t, f.stories.Create(context.Background(), s))
	return s
}

func snapshotTTL(ttl time.Duration) *configservice.Snapshot {
	return configservice.NewSnapshot(nil, 0, configservice.QuotaLimits{}, ttl)
}

func strPtr(s string) *string { return &s }

func TestDecide_Auto(t *testing.T) {
	f := newFixture(t)
	s := f.story(t, models.StatusProcessing)
	f.notifier.On("StoryReady", mock.Anything, mock.Anything).Return(nil).Once()

	status, err := f.gate.Decide(context.Background(), s, models.DefaultOwnerSettings(s.OwnerID), snapshotTTL(0))
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, status)

	stored, _ := f.stories.GetByID(context.Background(), s.ID)
	assert.Equal(t, models.StatusApproved, stored.Status)
	require.NotNil(t, stored.ReviewDecision)
	assert.Equal(t, models.ReviewViaAuto, stored.ReviewDecision.Via)
}

func TestDecide_InApp(t *testing.T) {
	f := newFixture(t)
	s := f.story(t, models.StatusProcessing)
	f.notifier.On("ReviewRequested", mock.Anything, mock.Anything).Return(errors.New("queue down")).Once()

	owner := &models.OwnerSettings{OwnerID: s.OwnerID, ApprovalMode: models.ApprovalModeInApp}
	status, err := f.gate.Decide(context.Background(), s, owner, snapshotTTL(0))
	require.NoError(t, err, "notification failure is not a pipeline failure")
	assert.Equal(t, models.StatusPendingReview, status)
	assert.Empty(t, f.tokens.ForStory(s.ID))
}

func TestDecide_EmailMintsTwoTokens(t *testing.T) {
	f := newFixture(t)
	s := f.story(t, models.StatusProcessing)
	owner := &models.OwnerSettings{OwnerID: s.OwnerID, ApprovalMode: models.ApprovalModeEmail, Email: strPtr("p@example.com")}

	var approveTok, declineTok string
	f.notifier.On("ReviewEmail", mock.Anything, mock.Anything, "p@example.com", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			approveTok, declineTok = args.String(3), args.String(4)
		}).Return(nil).Once()

	status, err := f.gate.Decide(context.Background(), s, owner, snapshotTTL(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingReview, status)

	tokens := f.tokens.ForStory(s.ID)
	require.Len(t, tokens, 2)
	assert.NotEqual(t, approveTok, declineTok)
	for _, tok := range tokens {
		assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, 5*time.Second)
	}

	// approve + повторное погашение
	f.notifier.On("StoryReady", mock.Anything, mock.Anything).Return(nil).Once()
	updated, err := f.gate.RedeemToken(context.Background(), approveTok, models.ReviewApprove, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, updated.Status)
	assert.Equal(t, models.ReviewViaEmail, updated.ReviewDecision.Via)

	_, err = f.gate.RedeemToken(context.Background(), approveTok, models.ReviewApprove, nil)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)
	_, err = f.gate.RedeemToken(context.Background(), declineTok, models.ReviewDecline, nil)
	assert.ErrorIs(t, err, models.ErrTokenInvalid, "sibling token is revoked")
}

func TestDecide_EmailWithoutAddressFallsBackToInApp(t *testing.T) {
	f := newFixture(t)
	s := f.story(t, models.StatusProcessing)
	f.notifier.On("ReviewRequested", mock.Anything, mock.Anything).Return(nil).Once()

	owner := &models.OwnerSettings{OwnerID: s.OwnerID, ApprovalMode: models.ApprovalModeEmail}
	status, err := f.gate.Decide(context.Background(), s, owner, snapshotTTL(0))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingReview, status)
	assert.Empty(t, f.tokens.ForStory(s.ID))
}

func TestRedeemToken_WrongActionChangesNothing(t *testing.T) {
	f := newFixture(t)
	s := f.story(t, models.StatusPendingReview)
	require.NoError(t, f.tokens.Save(context.Background(), []models.ReviewToken{
		{Token: "approve-me", StoryID: s.ID, Action: models.ReviewApprove, ExpiresAt: time.Now().Add(time.Hour)},
	}))

	_, err := f.gate.RedeemToken(context.Background(), "approve-me", models.ReviewDecline, nil)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)

	stored, _ := f.stories.GetByID(context.Background(), s.ID)
	assert.Equal(t, models.StatusPendingReview, stored.Status)

	f.notifier.On("StoryReady", mock.Anything, mock.Anything).Return(nil).Once()
	_, err = f.gate.RedeemToken(context.Background(), "approve-me", models.ReviewApprove, nil)
	assert.NoError(t, err, "failed redemption must not consume the token")
}

// flakyStories роняет первый Transition, как при обрыве соединения с базой.
type flakyStories struct {
	*mocks.MemoryStoryRepository
	mu       sync.Mutex
	failures int
}

func (r *flakyStories) Transition(ctx context.Context, id uuid.UUID, from, to models.StoryStatus, patch interfaces.TransitionPatch) error {
	r.mu.Lock()
	if r.failures > 0 {
		r.failures--
		r.mu.Unlock()
		return errors.New("db error transitioning story: connection reset")
	}
	r.mu.Unlock()
	return r.MemoryStoryRepository.Transition(ctx, id, from, to, patch)
}

func TestRedeemToken_TransientFailureKeepsTokenUsable(t *testing.T) {
	f := newFixture(t)
	stories := &flakyStories{MemoryStoryRepository: f.stories, failures: 1}
	f.gate = New(stories, f.owners, f.tokens, f.notifier, zap.NewNop())
	s := f.story(t, models.StatusPendingReview)
	require.NoError(t, f.tokens.Save(context.Background(), []models.ReviewToken{
		{Token: "approve-me", StoryID: s.ID, Action: models.ReviewApprove, ExpiresAt: time.Now().Add(time.Hour)},
	}))

	_, err := f.gate.RedeemToken(context.Background(), "approve-me", models.ReviewApprove, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrTokenInvalid)
	stored, _ := f.stories.GetByID(context.Background(), s.ID)
	assert.Equal(t, models.StatusPendingReview, stored.Status)

	f.notifier.On("StoryReady", mock.Anything, mock.Anything).Return(nil).Once()
	updated, err := f.gate.RedeemToken(context.Background(), "approve-me", models.ReviewApprove, nil)
	require.NoError(t, err, "the link from the email must still work")
	assert.Equal(t, models.StatusApproved, updated.Status)

	_, err = f.gate.RedeemToken(context.Background(), "approve-me", models.ReviewApprove, nil)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestRedeemToken_ConflictConsumesToken(t *testing.T) {
	f := newFixture(t)
	s := f.story(t, models.StatusApproved)
	require.NoError(t, f.tokens.Save(context.Background(), []models.ReviewToken{
		{Token: "late", StoryID: s.ID, Action: models.ReviewDecline, ExpiresAt: time.Now().Add(time.Hour)},
	}))

	_, err := f.gate.RedeemToken(context.Background(), "late", models.ReviewDecline, nil)
	assert.ErrorIs(t, err, models.ErrConflict)
	_, err = f.gate.RedeemToken(context.Background(), "late", models.ReviewDecline, nil)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestRedeemToken_Expired(t *testing.T) {
	f := newFixture(t)
	s := f.story(t, models.StatusPendingReview)
	require.NoError(t, f.tokens.Save(context.Background(), []models.ReviewToken{
		{Token: "old", StoryID: s.ID, Action: models.ReviewDecline, ExpiresAt: time.Now().Add(-time.Minute)},
	}))
	_, err := f.gate.RedeemToken(context.Background(), "old", models.ReviewDecline, nil)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestRedeemToken_DeclineStoresReason(t *testing.T) {
	f := newFixture(t)
	s := f.story(t, models.StatusPendingReview)
	require.NoError(t, f.tokens.Save(context.Background(), []models.ReviewToken{
		{Token: "no", StoryID: s.ID, Action: models.ReviewDecline, ExpiresAt: time.Now().Add(time.Hour)},
	}))

	updated, err := f.gate.RedeemToken(context.Background(), "no", models.ReviewDecline, strPtr("  too scary  "))
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, updated.Status)
	require.NotNil(t, updated.ReviewDecision.Reason)
	assert.Equal(t, "too scary", *updated.ReviewDecision.Reason)

	_, err = f.stories.GetByID(context.Background(), s.ID)
	assert.NoError(t, err, "declined story is kept")
}

func TestReview_Forbidden(t *testing.T) {
	f := newFixture(t)
	s := f.story(t, models.StatusPendingReview)
	stranger := uuid.New()
	f.owners.On("IsReviewer", mock.Anything, s.OwnerID, stranger).Return(false, nil).Once()

	_, err := f.gate.Review(context.Background(), s.ID, stranger, models.ReviewApprove, nil)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestReview_NotPending(t *testing.T) {
	f := newFixture(t)
	s := f.story(t, models.StatusProcessing)
	_, err := f.gate.Review(context.Background(), s.ID, s.OwnerID, models.ReviewApprove, nil)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestReview_ReviewerApprovesAndTokensAreRevoked(t *testing.T) {
	f := newFixture(t)
	s := f.story(t, models.StatusPendingReview)
	reviewer := uuid.New()
	require.NoError(t, f.tokens.Save(context.Background(), []models.ReviewToken{
		{Token: "a", StoryID: s.ID, Action: models.ReviewApprove, ExpiresAt: time.Now().Add(time.Hour)},
	}))
	f.owners.On("IsReviewer", mock.Anything, s.OwnerID, reviewer).Return(true, nil).Once()
	f.notifier.On("StoryReady", mock.Anything, mock.Anything).Return(nil).Once()

	updated, err := f.gate.Review(context.Background(), s.ID, reviewer, models.ReviewApprove, strPtr("ignored"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, updated.Status)
	assert.Nil(t, updated.ReviewDecision.Reason)
	assert.Equal(t, reviewer, *updated.ReviewDecision.ReviewerID)

	_, err = f.gate.RedeemToken(context.Background(), "a", models.ReviewApprove, nil)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestReview_ConcurrentReviewsExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	s := f.story(t, models.StatusPendingReview)
	f.notifier.On("StoryReady", mock.Anything, mock.Anything).Return(nil).Maybe()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	actions := []models.ReviewAction{models.ReviewApprove, models.ReviewDecline}
	for i := range actions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.gate.Review(context.Background(), s.ID, s.OwnerID, actions[i], nil)
		}(i)
	}
	wg.Wait()

	successes, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, models.ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
}

func TestNewToken(t *testing.T) {
	a, err := NewToken()
	require.NoError(t, err)
	b, err := NewToken()
	require.NoError(t, err)
	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
}
