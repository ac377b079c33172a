package handler

import (
	"net/http"

	"fairytale-server/shared/models"

	"github.com/gin-gonic/gin"
)

// reviewStory - решение ревьюера из приложения.
func (h *StoryHandler) reviewStory(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	storyID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var body reviewRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		abortBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if !body.Decision.Valid() {
		abortBadRequest(c, "decision must be approve or decline")
		return
	}

	story, err := h.stories.Review(c.Request.Context(), storyID, userID, body.Decision, body.Reason)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, statusResponse(story))
}

// reviewByToken - переход по ссылке из письма. Токен одноразовый.
func (h *StoryHandler) reviewByToken(c *gin.Context) {
	action := models.ReviewAction(c.Query("action"))
	var reason *string
	if r, ok := c.GetQuery("reason"); ok {
		reason = &r
	}

	story, err := h.stories.RedeemToken(c.Request.Context(), c.Param("token"), action, reason)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, statusResponse(story))
}
