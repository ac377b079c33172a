package models

import (
	"time"

	"github.com/google/uuid"
)

// InputKind - тип исходного материала, присланного ребенком.
type InputKind string

const (
	InputKindImage InputKind = "image" // рисунок
	InputKindAudio InputKind = "audio" // голосовая заметка
	InputKindText  InputKind = "text"  // набранный текст
)

// Valid проверяет, что тип входа известен.
func (k InputKind) Valid() bool {
	switch k {
	case InputKindImage, InputKindAudio, InputKindText:
		return true
	}
	return false
}

// Stage - имя этапа обработки. Используется в latency, warnings и errorDetail.
type Stage string

const (
	StageTranscription Stage = "transcription"
	StageVision        Stage = "vision"
	StageText          Stage = "text"
	StageNarration     Stage = "narration"
	StageIllustration  Stage = "illustration"
	StageApproval      Stage = "approval"
)

// StoryContent - сгенерированный текст сказки.
type StoryContent struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// PersonalizationDecision фиксирует результат "подбрасывания монетки" для истории.
// Записывается один раз до генерации текста и переиспользуется при retry.
type PersonalizationDecision struct {
	IncludeAppearance bool      `json:"includeAppearance"`
	IncludeName       bool      `json:"includeName"`
	Probability       float64   `json:"probability"`
	Seed              uint64    `json:"seed"`
	DrawnAt           time.Time `json:"drawnAt"`
}

// ReviewAction - решение ревьюера.
type ReviewAction string

const (
	ReviewApprove ReviewAction = "approve"
	ReviewDecline ReviewAction = "decline"
)

// Valid проверяет корректность решения.
func (a ReviewAction) Valid() bool {
	return a == ReviewApprove || a == ReviewDecline
}

// TargetStatus возвращает статус, в который переходит история после решения.
func (a ReviewAction) TargetStatus() StoryStatus {
	if a == ReviewApprove {
		return StatusApproved
	}
	return StatusDeclined
}

// ReviewChannel - канал, через который пришло решение.
type ReviewChannel string

const (
	ReviewViaAuto  ReviewChannel = "auto"
	ReviewViaInApp ReviewChannel = "inApp"
	ReviewViaEmail ReviewChannel = "email"
)

// ReviewDecision сохраняется в истории после одобрения/отклонения.
type ReviewDecision struct {
	Decision   ReviewAction  `json:"decision"`
	Reason     *string       `json:"reason,omitempty"`
	ReviewerID *uuid.UUID    `json:"reviewerId,omitempty"`
	Via        ReviewChannel `json:"via"`
	DecidedAt  time.Time     `json:"decidedAt"`
}

// ErrorCode - безопасный для клиента код ошибки пайплайна.
type ErrorCode string

const (
	ErrorCodeQuotaExceeded     ErrorCode = "quota_exceeded"
	ErrorCodeSafetyBlocked     ErrorCode = "safety_blocked"
	ErrorCodeVendorUnavailable ErrorCode = "vendor_unavailable"
	ErrorCodeRateLimited       ErrorCode = "rate_limited"
	ErrorCodeInvalidResponse   ErrorCode = "invalid_response"
	ErrorCodeTimeout           ErrorCode = "timeout"
	ErrorCodeNoVendor          ErrorCode = "no_vendor_configured"
	ErrorCodeInternal          ErrorCode = "internal"
)

// ErrorDetail присутствует только у историй в статусе error.
// Никогда не содержит сырого текста ответа вендора.
type ErrorDetail struct {
	Code  ErrorCode `json:"code"`
	Stage Stage     `json:"stage,omitempty"`
}

// Story - центральная сущность пайплайна.
type Story struct {
	ID        uuid.UUID   `json:"id" db:"id"`
	OwnerID   uuid.UUID   `json:"ownerId" db:"owner_id"`
	InputKind InputKind   `json:"inputKind" db:"input_kind"`
	Status    StoryStatus `json:"status" db:"status"`
	Language  string      `json:"language" db:"language"`

	InputRef  *string `json:"inputRef,omitempty" db:"input_ref"`
	InputText *string `json:"inputText,omitempty" db:"input_text"`

	// Промежуточные результаты, пишутся один раз.
	Transcript  *string       `json:"transcript,omitempty" db:"transcript"`
	Description *string       `json:"description,omitempty" db:"description"`
	Content     *StoryContent `json:"content,omitempty" db:"content"`
	AudioRef    *string       `json:"audioRef,omitempty" db:"audio_ref"`
	ImageRef    *string       `json:"imageRef,omitempty" db:"image_ref"`

	CostAccumulatedUSD float64          `json:"costAccumulatedUsd" db:"cost_accumulated_usd"`
	LatencyMsByStage   map[Stage]int64  `json:"latencyMsByStage" db:"latency_ms_by_stage"`
	StageWarnings      map[Stage]string `json:"stageWarnings,omitempty" db:"stage_warnings"`

	Personalization *PersonalizationDecision `json:"personalization,omitempty" db:"personalization"`
	ReviewDecision  *ReviewDecision          `json:"reviewDecision,omitempty" db:"review_decision"`
	ErrorDetail     *ErrorDetail             `json:"errorDetail,omitempty" db:"error_detail"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// SourceText возвращает текст, из которого генерируется сказка:
// описание рисунка, расшифровку голоса или набранный текст.
func (s *Story) SourceText() string {
	switch s.InputKind {
	case InputKindImage:
		if s.Description != nil {
			return *s.Description
		}
	case InputKindAudio:
		if s.Transcript != nil {
			return *s.Transcript
		}
	case InputKindText:
		if s.InputText != nil {
			return *s.InputText
		}
	}
	return ""
}

// StoryWriteOnce - поле истории, которое можно записать только один раз.
type StoryWriteOnce string

const (
	FieldTranscript  StoryWriteOnce = "transcript"
	FieldDescription StoryWriteOnce = "description"
	FieldAudioRef    StoryWriteOnce = "audio_ref"
	FieldImageRef    StoryWriteOnce = "image_ref"
)
