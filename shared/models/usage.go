package models

import (
	"time"

	"github.com/google/uuid"
)

// OperationType - вид вызова провайдера.
type OperationType string

const (
	OperationVision        OperationType = "vision"
	OperationText          OperationType = "text"
	OperationSpeech        OperationType = "speech"
	OperationImage         OperationType = "image"
	OperationTranscription OperationType = "transcription"
)

// AllOperationTypes перечисляет операции, для которых настраивается список вендоров.
func AllOperationTypes() []OperationType {
	return []OperationType{OperationVision, OperationText, OperationSpeech, OperationImage, OperationTranscription}
}

// Valid проверяет, что операция известна.
func (o OperationType) Valid() bool {
	switch o {
	case OperationVision, OperationText, OperationSpeech, OperationImage, OperationTranscription:
		return true
	}
	return false
}

// UsageRecord - неизменяемая запись о каждом вызове провайдера (успешном или нет).
type UsageRecord struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	OwnerID       uuid.UUID     `json:"ownerId" db:"owner_id"`
	StoryID       uuid.UUID     `json:"storyId" db:"story_id"`
	OperationType OperationType `json:"operationType" db:"operation_type"`
	Vendor        string        `json:"vendor" db:"vendor"`
	Model         string        `json:"model" db:"model"`
	CostUSD       float64       `json:"costUsd" db:"cost_usd"`
	LatencyMs     int64         `json:"latencyMs" db:"latency_ms"`
	Success       bool          `json:"success" db:"success"`
	ErrorKind     *string       `json:"errorKind,omitempty" db:"error_kind"`
	Timestamp     time.Time     `json:"timestamp" db:"created_at"`
}

// UsageSummary - агрегат по владельцу за окно.
type UsageSummary struct {
	TotalCostUSD float64 `db:"total_cost_usd"`
	Operations   int64   `db:"operations"`
}
