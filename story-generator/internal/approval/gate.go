package approval

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"fairytale-server/shared/configservice"
	"fairytale-server/shared/interfaces"
	"fairytale-server/shared/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTokenTTL - срок жизни email-ссылок, если в конфигурации он не задан.
const DefaultTokenTTL = 72 * time.Hour

const maxReasonLength = 500

// Notifier - исходящие уведомления, которые нужны шлюзу.
type Notifier interface {
	StoryReady(ctx context.Context, story *models.Story) error
	ReviewRequested(ctx context.Context, story *models.Story) error
	ReviewEmail(ctx context.Context, story *models.Story, to, approveToken, declineToken string, expiresAt time.Time) error
}

// Gate решает, что делать с готовой историей, и принимает решения ревьюеров.
type Gate struct {
	stories  interfaces.StoryRepository
	owners   interfaces.OwnerRepository
	tokens   interfaces.ReviewTokenRepository
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func New(stories interfaces.StoryRepository, owners interfaces.OwnerRepository, tokens interfaces.ReviewTokenRepository, notifier Notifier, logger *zap.Logger) *Gate {
	return &Gate{
		stories:  stories,
		owners:   owners,
		tokens:   tokens,
		notifier: notifier,
		logger:   logger.Named("ApprovalGate"),
		now:      time.Now,
	}
}

// Decide переводит историю из processing по режиму владельца и возвращает новый статус.
func (g *Gate) Decide(ctx context.Context, story *models.Story, owner *models.OwnerSettings, snap *configservice.Snapshot) (models.StoryStatus, error) {
	mode := owner.ApprovalMode
	if !mode.Valid() {
		mode = models.ApprovalModeAuto
	}
	log := g.logger.With(zap.String("story_id", story.ID.String()), zap.String("mode", string(mode)))

	if mode == models.ApprovalModeEmail && (owner.Email == nil || strings.TrimSpace(*owner.Email) == "") {
		log.Warn("Email approval requested but owner has no email, falling back to in-app review")
		mode = models.ApprovalModeInApp
	}

	switch mode {
	case models.ApprovalModeAuto:
		decision := &models.ReviewDecision{Decision: models.ReviewApprove, Via: models.ReviewViaAuto, DecidedAt: g.now().UTC()}
		if err := g.stories.Transition(ctx, story.ID, models.StatusProcessing, models.StatusApproved,
			interfaces.TransitionPatch{ReviewDecision: decision}); err != nil {
			return "", fmt.Errorf("auto approve: %w", err)
		}
		story.Status, story.ReviewDecision = models.StatusApproved, decision
		if err := g.notifier.StoryReady(ctx, story); err != nil {
			log.Warn("Story approved but push was not published", zap.Error(err))
		}
		log.Info("Story auto-approved")
		return models.StatusApproved, nil

	case models.ApprovalModeInApp:
		if err := g.stories.Transition(ctx, story.ID, models.StatusProcessing, models.StatusPendingReview,
			interfaces.TransitionPatch{}); err != nil {
			return "", fmt.Errorf("request in-app review: %w", err)
		}
		story.Status = models.StatusPendingReview
		if err := g.notifier.ReviewRequested(ctx, story); err != nil {
			log.Warn("Review requested but push was not published", zap.Error(err))
		}
		log.Info("Story is waiting for in-app review")
		return models.StatusPendingReview, nil

	default:
		return g.requestEmailReview(ctx, story, *owner.Email, snap, log)
	}
}

func (g *Gate) requestEmailReview(ctx context.Context, story *models.Story, to string, snap *configservice.Snapshot, log *zap.Logger) (models.StoryStatus, error) {
	ttl := DefaultTokenTTL
	if snap != nil && snap.ReviewTokenTTL > 0 {
		ttl = snap.ReviewTokenTTL
	}
	expiresAt := g.now().Add(ttl).UTC()

	approveToken, err := NewToken()
	if err != nil {
		return "", err
	}
	declineToken, err := NewToken()
	if err != nil {
		return "", err
	}
	if err := g.tokens.Save(ctx, []models.ReviewToken{
		{Token: approveToken, StoryID: story.ID, Action: models.ReviewApprove, ExpiresAt: expiresAt},
		{Token: declineToken, StoryID: story.ID, Action: models.ReviewDecline, ExpiresAt: expiresAt},
	}); err != nil {
		return "", fmt.Errorf("save review tokens: %w", err)
	}

	if err := g.stories.Transition(ctx, story.ID, models.StatusProcessing, models.StatusPendingReview,
		interfaces.TransitionPatch{}); err != nil {
		if revokeErr := g.tokens.RevokeForStory(context.WithoutCancel(ctx), story.ID); revokeErr != nil {
			log.Error("Failed to revoke tokens after failed transition", zap.Error(revokeErr))
		}
		return "", fmt.Errorf("request email review: %w", err)
	}
	story.Status = models.StatusPendingReview

	// письмо не ушло - история все равно ждет решения, его можно принять в приложении
	if err := g.notifier.ReviewEmail(ctx, story, to, approveToken, declineToken, expiresAt); err != nil {
		log.Error("Review email was not published", zap.Error(err))
	}
	log.Info("Story is waiting for email review", zap.Time("tokens_expire_at", expiresAt))
	return models.StatusPendingReview, nil
}

// CanAccess - владелец или один из его ревьюеров.
func (g *Gate) CanAccess(ctx context.Context, story *models.Story, userID uuid.UUID) (bool, error) {
	if story.OwnerID == userID {
		return true, nil
	}
	ok, err := g.owners.IsReviewer(ctx, story.OwnerID, userID)
	if err != nil {
		return false, fmt.Errorf("check reviewer membership: %w", err)
	}
	return ok, nil
}

// Review - решение ревьюера из приложения.
func (g *Gate) Review(ctx context.Context, storyID, reviewerID uuid.UUID, action models.ReviewAction, reason *string) (*models.Story, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("%w: unknown decision %q", models.ErrBadRequest, action)
	}
	story, err := g.stories.GetByID(ctx, storyID)
	if err != nil {
		return nil, err
	}
	allowed, err := g.CanAccess(ctx, story, reviewerID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, models.ErrForbidden
	}
	if story.Status != models.StatusPendingReview {
		return nil, fmt.Errorf("%w: story is %s", models.ErrConflict, story.Status)
	}

	reviewer := reviewerID
	decision := &models.ReviewDecision{
		Decision:   action,
		Reason:     normalizeReason(action, reason),
		ReviewerID: &reviewer,
		Via:        models.ReviewViaInApp,
		DecidedAt:  g.now().UTC(),
	}
	if err := g.settle(ctx, story, decision); err != nil {
		return nil, err
	}
	return story, nil
}

// RedeemToken гасит одноразовый токен из письма и применяет решение.
// Если решение не удалось сохранить не из-за гонки, токен возвращается в оборот.
func (g *Gate) RedeemToken(ctx context.Context, token string, action models.ReviewAction, reason *string) (story *models.Story, err error) {
	if !action.Valid() {
		return nil, models.ErrTokenInvalid
	}
	storyID, err := g.tokens.Redeem(ctx, token, action)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err == nil || errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrStoryNotFound) {
			return
		}
		if relErr := g.tokens.Release(context.WithoutCancel(ctx), token); relErr != nil {
			g.logger.Error("Failed to release review token after failed redemption",
				zap.String("story_id", storyID.String()), zap.Error(relErr))
		}
	}()

	story, err = g.stories.GetByID(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story.Status != models.StatusPendingReview {
		return nil, fmt.Errorf("%w: story is %s", models.ErrConflict, story.Status)
	}

	decision := &models.ReviewDecision{
		Decision:  action,
		Reason:    normalizeReason(action, reason),
		Via:       models.ReviewViaEmail,
		DecidedAt: g.now().UTC(),
	}
	if err = g.settle(ctx, story, decision); err != nil {
		return nil, err
	}
	return story, nil
}

// settle - CAS pending_review -> approved|declined. Из двух одновременных решений проходит одно.
func (g *Gate) settle(ctx context.Context, story *models.Story, decision *models.ReviewDecision) error {
	target := decision.Decision.TargetStatus()
	err := g.stories.Transition(ctx, story.ID, models.StatusPendingReview, target,
		interfaces.TransitionPatch{ReviewDecision: decision})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			g.logger.Info("Review lost the race", zap.String("story_id", story.ID.String()))
		}
		return err
	}
	story.Status, story.ReviewDecision = target, decision

	if err := g.tokens.RevokeForStory(context.WithoutCancel(ctx), story.ID); err != nil {
		g.logger.Warn("Failed to revoke remaining review tokens", zap.String("story_id", story.ID.String()), zap.Error(err))
	}
	if target == models.StatusApproved {
		if err := g.notifier.StoryReady(ctx, story); err != nil {
			g.logger.Warn("Story approved but push was not published", zap.String("story_id", story.ID.String()), zap.Error(err))
		}
	}
	g.logger.Info("Review applied",
		zap.String("story_id", story.ID.String()),
		zap.String("decision", string(decision.Decision)),
		zap.String("via", string(decision.Via)),
	)
	return nil
}

func normalizeReason(action models.ReviewAction, reason *string) *string {
	if action != models.ReviewDecline || reason == nil {
		return nil
	}
	r := strings.TrimSpace(*reason)
	if r == "" {
		return nil
	}
	if runes := []rune(r); len(runes) > maxReasonLength {
		r = string(runes[:maxReasonLength])
	}
	return &r
}

// NewToken - 32 случайных байта в base64url без паддинга.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate review token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
