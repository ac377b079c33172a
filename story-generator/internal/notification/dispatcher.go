package notification

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"fairytale-server/shared/interfaces"
	"fairytale-server/shared/models"
	"fairytale-server/shared/notifications"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var notificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "story_generator_notifications_published_total",
	Help: "Notification messages handed to the delivery queues.",
}, []string{"kind", "status"})

// Dispatcher публикует уведомления о судьбе истории. Доставкой занимается notification-service.
type Dispatcher struct {
	push          interfaces.PushNotificationPublisher
	email         interfaces.ReviewEmailPublisher
	publicBaseURL string
	logger        *zap.Logger
}

// NewDispatcher. publicBaseURL - внешний адрес API, из него собираются ссылки в письме.
func NewDispatcher(push interfaces.PushNotificationPublisher, email interfaces.ReviewEmailPublisher, publicBaseURL string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		push:          push,
		email:         email,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger.Named("NotificationDispatcher"),
	}
}

// StoryReady - сказка одобрена (auto или ревьюером).
func (d *Dispatcher) StoryReady(ctx context.Context, story *models.Story) error {
	return d.sendPush(ctx, "story_ready", story, notifications.BuildStoryReadyPushPayload)
}

// ReviewRequested - владельцу нужно принять решение в приложении.
func (d *Dispatcher) ReviewRequested(ctx context.Context, story *models.Story) error {
	return d.sendPush(ctx, "review_requested", story, notifications.BuildReviewRequestedPushPayload)
}

// StoryFailed - прогон закончился ошибкой.
func (d *Dispatcher) StoryFailed(ctx context.Context, story *models.Story) error {
	return d.sendPush(ctx, "story_failed", story, notifications.BuildStoryFailedPushPayload)
}

func (d *Dispatcher) sendPush(ctx context.Context, kind string, story *models.Story,
	build func(*models.Story) (*models.PushNotificationPayload, error)) error {
	payload, err := build(story)
	if err != nil {
		notificationsPublished.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("failed to build %s push: %w", kind, err)
	}
	if err := d.push.PublishPush(ctx, *payload); err != nil {
		notificationsPublished.WithLabelValues(kind, "error").Inc()
		d.logger.Error("Failed to publish push",
			zap.String("kind", kind),
			zap.String("story_id", story.ID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish %s push: %w", kind, err)
	}
	notificationsPublished.WithLabelValues(kind, "ok").Inc()
	return nil
}

// ReviewEmail отправляет владельцу письмо с одноразовыми ссылками approve/decline.
func (d *Dispatcher) ReviewEmail(ctx context.Context, story *models.Story, to, approveToken, declineToken string, expiresAt time.Time) error {
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("%w: owner has no email address", models.ErrBadRequest)
	}
	title := ""
	if story.Content != nil {
		title = story.Content.Title
	}
	payload := models.ReviewEmailPayload{
		OwnerID:    story.OwnerID,
		StoryID:    story.ID,
		To:         to,
		StoryTitle: title,
		ApproveURL: d.ReviewURL(approveToken, models.ReviewApprove),
		DeclineURL: d.ReviewURL(declineToken, models.ReviewDecline),
		ExpiresAt:  expiresAt.Unix(),
	}
	if err := d.email.PublishReviewEmail(ctx, payload); err != nil {
		notificationsPublished.WithLabelValues("review_email", "error").Inc()
		d.logger.Error("Failed to publish review email", zap.String("story_id", story.ID.String()), zap.Error(err))
		return fmt.Errorf("failed to publish review email: %w", err)
	}
	notificationsPublished.WithLabelValues("review_email", "ok").Inc()
	return nil
}

// ReviewURL - ссылка на GET /api/v1/review/:token.
func (d *Dispatcher) ReviewURL(token string, action models.ReviewAction) string {
	q := url.Values{}
	q.Set("action", string(action))
	return d.publicBaseURL + "/api/v1/review/" + url.PathEscape(token) + "?" + q.Encode()
}
