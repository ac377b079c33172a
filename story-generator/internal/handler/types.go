package handler

import (
	"time"

	"fairytale-server/shared/models"
)

// --- Request/Response Structs ---

type submitStoryRequest struct {
	Kind        models.InputKind `json:"kind"`
	Language    string           `json:"language" binding:"required"`
	Text        string           `json:"text"`
	AutoConfirm bool             `json:"autoConfirm"`
}

type confirmStoryRequest struct {
	Text *string `json:"text"`
}

type reviewRequest struct {
	Decision models.ReviewAction `json:"decision" binding:"required"`
	Reason   *string             `json:"reason"`
}

type storyView struct {
	ID                 string                          `json:"id"`
	OwnerID            string                          `json:"ownerId"`
	Status             models.StoryStatus              `json:"status"`
	InputKind          models.InputKind                `json:"inputKind"`
	Language           string                          `json:"language"`
	InputText          *string                         `json:"inputText,omitempty"`
	Transcript         *string                         `json:"transcript,omitempty"`
	Content            *models.StoryContent            `json:"content,omitempty"`
	AudioURL           *string                         `json:"audioUrl,omitempty"`
	ImageURL           *string                         `json:"imageUrl,omitempty"`
	CostAccumulatedUSD float64                         `json:"costAccumulatedUsd"`
	LatencyMsByStage   map[models.Stage]int64          `json:"latencyMsByStage,omitempty"`
	StageWarnings      map[models.Stage]string         `json:"stageWarnings,omitempty"`
	Personalization    *models.PersonalizationDecision `json:"personalization,omitempty"`
	ReviewDecision     *models.ReviewDecision          `json:"reviewDecision,omitempty"`
	ErrorDetail        *models.ErrorDetail             `json:"errorDetail,omitempty"`
	CreatedAt          time.Time                       `json:"createdAt"`
	UpdatedAt          time.Time                       `json:"updatedAt"`
}

// toStoryView скрывает ключи хранилища: медиа отдаются через /media/:kind.
func toStoryView(s *models.Story) storyView {
	v := storyView{
		ID:                 s.ID.String(),
		OwnerID:            s.OwnerID.String(),
		Status:             s.Status,
		InputKind:          s.InputKind,
		Language:           s.Language,
		InputText:          s.InputText,
		Transcript:         s.Transcript,
		Content:            s.Content,
		CostAccumulatedUSD: s.CostAccumulatedUSD,
		LatencyMsByStage:   s.LatencyMsByStage,
		StageWarnings:      s.StageWarnings,
		Personalization:    s.Personalization,
		ReviewDecision:     s.ReviewDecision,
		ErrorDetail:        s.ErrorDetail,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
	if s.AudioRef != nil {
		u := mediaURL(s, "audio")
		v.AudioURL = &u
	}
	if s.ImageRef != nil {
		u := mediaURL(s, "image")
		v.ImageURL = &u
	}
	return v
}

func mediaURL(s *models.Story, kind string) string {
	return "/api/v1/stories/" + s.ID.String() + "/media/" + kind
}

type storyListResponse struct {
	Data       []storyView `json:"data"`
	NextCursor string      `json:"nextCursor,omitempty"`
}

func statusResponse(s *models.Story) models.StatusResponse {
	return models.StatusResponse{StoryID: s.ID.String(), Status: s.Status}
}

type ownerSettingsRequest struct {
	Email           *string             `json:"email"`
	ApprovalMode    models.ApprovalMode `json:"approvalMode" binding:"required"`
	Tier            string              `json:"tier"`
	ChildName       *string             `json:"childName"`
	ChildAppearance *string             `json:"childAppearance"`
}

type usageView struct {
	WindowSeconds int64   `json:"windowSeconds"`
	CostUSD       float64 `json:"costUsd"`
	Operations    int64   `json:"operations"`
	MaxCostUSD    float64 `json:"maxCostUsd"`
	MaxOperations int64   `json:"maxOperations"`
}

type ownerSettingsResponse struct {
	*models.OwnerSettings
	Usage *usageView `json:"usage,omitempty"`
}

type reviewerRequest struct {
	ReviewerID string `json:"reviewerId" binding:"required"`
}

type reviewersResponse struct {
	Reviewers []string `json:"reviewers"`
}

type deviceRequest struct {
	Token    string `json:"token" binding:"required"`
	Platform string `json:"platform" binding:"required"`
}

type vendorsResponse struct {
	Version uint64                                                       `json:"version"`
	Vendors map[models.OperationType]map[string][]models.VendorCandidate `json:"vendors"`
	Scalars map[string]string                                            `json:"scalars"`
}

type configValueRequest struct {
	Value string `json:"value" binding:"required"`
}
