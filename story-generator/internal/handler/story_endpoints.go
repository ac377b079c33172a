package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"fairytale-server/shared/models"
	"fairytale-server/story-generator/internal/pipeline"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	// запас сверху на поля формы
	multipartOverhead = 1 << 20
)

// submitStory принимает multipart (рисунок, голос, текст) или JSON (только текст).
func (h *StoryHandler) submitStory(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	req := pipeline.SubmitRequest{OwnerID: userID}
	var file io.ReadCloser

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes+multipartOverhead)
		req.Kind = models.InputKind(c.PostForm("kind"))
		req.Language = c.PostForm("language")
		req.Text = c.PostForm("text")
		req.AutoConfirm, _ = strconv.ParseBool(c.PostForm("autoConfirm"))

		if req.Kind != models.InputKindText {
			header, err := c.FormFile("file")
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					handleServiceError(c, models.ErrFileTooLarge, h.logger)
					return
				}
				abortBadRequest(c, "Field 'file' is required for "+string(req.Kind)+" input")
				return
			}
			if header.Size > h.opts.MaxUploadBytes {
				handleServiceError(c, models.ErrFileTooLarge, h.logger)
				return
			}
			f, err := header.Open()
			if err != nil {
				h.logger.Error("Failed to open uploaded file", zap.Error(err))
				handleServiceError(c, err, h.logger)
				return
			}
			file = f
			req.File = f
			req.FileName = header.Filename
			req.ContentType = header.Header.Get("Content-Type")
		}
	} else {
		var body submitStoryRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			abortBadRequest(c, "Invalid request body: "+err.Error())
			return
		}
		if body.Kind == "" {
			body.Kind = models.InputKindText
		}
		if body.Kind != models.InputKindText {
			abortBadRequest(c, "JSON submissions accept only text input, use multipart for files")
			return
		}
		req.Kind = body.Kind
		req.Language = body.Language
		req.Text = body.Text
		req.AutoConfirm = body.AutoConfirm
	}
	if file != nil {
		defer file.Close()
	}

	story, err := h.stories.Submit(c.Request.Context(), req)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusAccepted, statusResponse(story))
}

func (h *StoryHandler) listStories(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			abortBadRequest(c, "Invalid limit")
			return
		}
		limit = min(n, maxPageSize)
	}

	stories, next, err := h.stories.List(c.Request.Context(), userID, c.Query("cursor"), limit)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	resp := storyListResponse{Data: make([]storyView, 0, len(stories)), NextCursor: next}
	for _, s := range stories {
		resp.Data = append(resp.Data, toStoryView(s))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *StoryHandler) getStory(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	storyID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	story, err := h.stories.Get(c.Request.Context(), storyID, userID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, toStoryView(story))
}

func (h *StoryHandler) retryStory(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	storyID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	story, err := h.stories.Retry(c.Request.Context(), storyID, userID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusAccepted, statusResponse(story))
}

func (h *StoryHandler) confirmStory(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	storyID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var body confirmStoryRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			abortBadRequest(c, "Invalid request body: "+err.Error())
			return
		}
	}
	story, err := h.stories.Confirm(c.Request.Context(), storyID, userID, body.Text)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusAccepted, statusResponse(story))
}

func (h *StoryHandler) getMedia(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	storyID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	kind := pipeline.MediaKind(c.Param("kind"))
	rc, contentType, err := h.stories.OpenMedia(c.Request.Context(), storyID, userID, kind)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, -1, contentType, rc, map[string]string{
		"Cache-Control": "private, max-age=3600",
	})
}
