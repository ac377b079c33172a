package handler

import (
	"context"
	"io"
	"net/http"
	"slices"
	"time"

	"fairytale-server/shared/configservice"
	"fairytale-server/shared/interfaces"
	sharedMiddleware "fairytale-server/shared/middleware"
	"fairytale-server/shared/models"
	"fairytale-server/story-generator/internal/pipeline"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StoryService - операции координатора, доступные через HTTP.
type StoryService interface {
	Submit(ctx context.Context, req pipeline.SubmitRequest) (*models.Story, error)
	Get(ctx context.Context, storyID, userID uuid.UUID) (*models.Story, error)
	List(ctx context.Context, ownerID uuid.UUID, cursor string, limit int) ([]*models.Story, string, error)
	Confirm(ctx context.Context, storyID, userID uuid.UUID, text *string) (*models.Story, error)
	Retry(ctx context.Context, storyID, userID uuid.UUID) (*models.Story, error)
	Review(ctx context.Context, storyID, reviewerID uuid.UUID, action models.ReviewAction, reason *string) (*models.Story, error)
	RedeemToken(ctx context.Context, token string, action models.ReviewAction, reason *string) (*models.Story, error)
	OpenMedia(ctx context.Context, storyID, userID uuid.UUID, kind pipeline.MediaKind) (io.ReadCloser, string, error)
	Subscribe(storyID uuid.UUID) (<-chan models.StoryStatusUpdate, func())
}

// UsageSummarizer - расход владельца за окно квоты.
type UsageSummarizer interface {
	Summary(ctx context.Context, ownerID uuid.UUID, window time.Duration) (*models.UsageSummary, error)
}

// VendorConfig - живая таблица вендоров и скалярные настройки.
type VendorConfig interface {
	Snapshot() *configservice.Snapshot
	All() map[string]string
	Set(ctx context.Context, key, value string) (*models.DynamicConfig, error)
}

// Options - параметры HTTP слоя.
type Options struct {
	MaxUploadBytes int64
	// StreamPollInterval - как часто websocket перечитывает историю из БД,
	// чтобы не пропустить смену статуса на другом инстансе.
	StreamPollInterval time.Duration
	AllowedOrigins     []string
}

// StoryHandler обрабатывает HTTP запросы сервиса генерации сказок.
type StoryHandler struct {
	stories  StoryService
	usage    UsageSummarizer
	owners   interfaces.OwnerRepository
	devices  interfaces.DeviceTokenRepository
	config   VendorConfig
	verifier sharedMiddleware.TokenVerifier
	opts     Options
	logger   *zap.Logger
}

// NewStoryHandler создает StoryHandler.
func NewStoryHandler(
	stories StoryService,
	usage UsageSummarizer,
	owners interfaces.OwnerRepository,
	devices interfaces.DeviceTokenRepository,
	config VendorConfig,
	verifier sharedMiddleware.TokenVerifier,
	opts Options,
	logger *zap.Logger,
) *StoryHandler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 25 << 20
	}
	if opts.StreamPollInterval <= 0 {
		opts.StreamPollInterval = 5 * time.Second
	}
	return &StoryHandler{
		stories:  stories,
		usage:    usage,
		owners:   owners,
		devices:  devices,
		config:   config,
		verifier: verifier,
		opts:     opts,
		logger:   logger.Named("StoryHandler"),
	}
}

// RegisterRoutes регистрирует маршруты /api/v1.
// submitLimit (rate limiter) ставится перед отправкой историй и ссылками ревью.
func (h *StoryHandler) RegisterRoutes(router *gin.Engine, submitLimit ...gin.HandlerFunc) {
	auth := sharedMiddleware.GinAuthMiddleware(h.verifier, h.logger)

	limited := func(next gin.HandlerFunc) []gin.HandlerFunc {
		return append(slices.Clone(submitLimit), next)
	}

	api := router.Group("/api/v1")

	// Ссылка из письма: аутентификация - сам одноразовый токен
	api.GET("/review/:token", limited(h.reviewByToken)...)

	stories := api.Group("/stories", auth)
	{
		stories.POST("", limited(h.submitStory)...)
		stories.GET("", h.listStories)
		stories.GET("/:id", h.getStory)
		stories.POST("/:id/review", h.reviewStory)
		stories.POST("/:id/retry", h.retryStory)
		stories.POST("/:id/confirm", h.confirmStory)
		stories.GET("/:id/media/:kind", h.getMedia)
		stories.GET("/:id/ws", h.streamStatus)
	}

	owners := api.Group("/owners/me", auth)
	{
		owners.GET("/settings", h.getSettings)
		owners.PUT("/settings", h.updateSettings)
		owners.GET("/reviewers", h.listReviewers)
		owners.POST("/reviewers", h.addReviewer)
		owners.DELETE("/reviewers/:id", h.removeReviewer)
	}

	devices := api.Group("/devices", auth)
	{
		devices.POST("", h.registerDevice)
		devices.DELETE("/:token", h.unregisterDevice)
	}

	admin := api.Group("/admin", auth, sharedMiddleware.RequireRole(models.RoleAdmin))
	{
		admin.GET("/vendors", h.listVendors)
		admin.PUT("/vendors/:operation/:language", h.updateVendors)
		admin.PUT("/config/:key", h.updateConfigValue)
	}
}

// RegisterHealth - /health для проб оркестратора.
func RegisterHealth(router *gin.Engine, check func(ctx context.Context) error) {
	healthHandler := func(c *gin.Context) {
		if check != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)
}

func (h *StoryHandler) currentUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := sharedMiddleware.GetUserID(c)
	if !ok || userID == uuid.Nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
			Code:    models.ErrCodeUnauthorized,
			Message: "Missing user identity",
		})
		return uuid.Nil, false
	}
	return userID, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{
			Code:    models.ErrCodeBadRequest,
			Message: "Invalid " + name,
		})
		return uuid.Nil, false
	}
	return id, true
}
