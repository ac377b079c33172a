package handler

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"fairytale-server/shared/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxChildNameLength       = 100
	maxChildAppearanceLength = 500
)

var knownTiers = map[string]bool{"free": true, "premium": true}

func (h *StoryHandler) getSettings(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	settings, err := h.owners.Get(c.Request.Context(), userID)
	if errors.Is(err, models.ErrOwnerNotFound) {
		settings, err = models.DefaultOwnerSettings(userID), nil
	}
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}

	resp := ownerSettingsResponse{OwnerSettings: settings}
	quota := h.config.Snapshot().Quota
	summary, err := h.usage.Summary(c.Request.Context(), userID, quota.Window)
	if err != nil {
		h.logger.Warn("Failed to load usage summary", zap.String("owner_id", userID.String()), zap.Error(err))
	} else {
		resp.Usage = &usageView{
			WindowSeconds: int64(quota.Window / time.Second),
			CostUSD:       summary.TotalCostUSD,
			Operations:    summary.Operations,
			MaxCostUSD:    quota.MaxCostUSD,
			MaxOperations: quota.MaxOperations,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *StoryHandler) updateSettings(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	var body ownerSettingsRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		abortBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	settings, msg := body.toSettings(userID)
	if msg != "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{Code: models.ErrCodeValidation, Message: msg})
		return
	}
	settings.UpdatedAt = time.Now().UTC()

	if err := h.owners.Upsert(c.Request.Context(), settings); err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	h.logger.Info("Owner settings updated",
		zap.String("owner_id", userID.String()),
		zap.String("approval_mode", string(settings.ApprovalMode)),
	)
	c.JSON(http.StatusOK, ownerSettingsResponse{OwnerSettings: settings})
}

// toSettings валидирует запрос. Вторым значением возвращается текст ошибки.
func (r ownerSettingsRequest) toSettings(ownerID uuid.UUID) (*models.OwnerSettings, string) {
	if !r.ApprovalMode.Valid() {
		return nil, "approvalMode must be one of auto, inApp, email"
	}
	s := &models.OwnerSettings{OwnerID: ownerID, ApprovalMode: r.ApprovalMode, Tier: strings.ToLower(strings.TrimSpace(r.Tier))}
	if s.Tier == "" {
		s.Tier = "free"
	}
	if !knownTiers[s.Tier] {
		return nil, "tier must be free or premium"
	}

	if email := trimmed(r.Email); email != nil {
		addr, err := mail.ParseAddress(*email)
		if err != nil {
			return nil, "email is not a valid address"
		}
		s.Email = &addr.Address
	}
	if s.ApprovalMode == models.ApprovalModeEmail && s.Email == nil {
		return nil, "email approval mode requires an email address"
	}

	s.ChildName = trimmed(r.ChildName)
	if s.ChildName != nil && len([]rune(*s.ChildName)) > maxChildNameLength {
		return nil, "childName is too long"
	}
	s.ChildAppearance = trimmed(r.ChildAppearance)
	if s.ChildAppearance != nil && len([]rune(*s.ChildAppearance)) > maxChildAppearanceLength {
		return nil, "childAppearance is too long"
	}
	return s, ""
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}

func (h *StoryHandler) listReviewers(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	ids, err := h.owners.ListReviewers(c.Request.Context(), userID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	resp := reviewersResponse{Reviewers: make([]string, 0, len(ids))}
	for _, id := range ids {
		resp.Reviewers = append(resp.Reviewers, id.String())
	}
	c.JSON(http.StatusOK, resp)
}

func (h *StoryHandler) addReviewer(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	var body reviewerRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		abortBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	reviewerID, err := uuid.Parse(body.ReviewerID)
	if err != nil || reviewerID == uuid.Nil {
		abortBadRequest(c, "Invalid reviewerId")
		return
	}
	if reviewerID == userID {
		abortBadRequest(c, "Owner is always a reviewer of own stories")
		return
	}
	if err := h.owners.AddReviewer(c.Request.Context(), userID, reviewerID); err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *StoryHandler) removeReviewer(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	reviewerID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.owners.RemoveReviewer(c.Request.Context(), userID, reviewerID); err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *StoryHandler) registerDevice(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	var body deviceRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		abortBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	platform := strings.ToLower(strings.TrimSpace(body.Platform))
	if platform != models.PlatformAndroid && platform != models.PlatformIOS {
		abortBadRequest(c, "platform must be android or ios")
		return
	}
	token := strings.TrimSpace(body.Token)
	if token == "" {
		abortBadRequest(c, "token is required")
		return
	}
	if err := h.devices.SaveDeviceToken(c.Request.Context(), userID, token, platform); err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *StoryHandler) unregisterDevice(c *gin.Context) {
	if _, ok := h.currentUser(c); !ok {
		return
	}
	if err := h.devices.DeleteDeviceToken(c.Request.Context(), c.Param("token")); err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.Status(http.StatusNoContent)
}
