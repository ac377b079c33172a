package models

import (
	"time"

	"github.com/google/uuid"
)

// ReviewToken - одноразовый токен для решения по email.
// Сам токен хранится только у получателя письма, в хранилище лежит его хэш.
type ReviewToken struct {
	Token     string       `json:"-"`
	StoryID   uuid.UUID    `json:"storyId"`
	Action    ReviewAction `json:"action"`
	Used      bool         `json:"used"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// ApprovalMode - политика одобрения историй владельцем.
type ApprovalMode string

const (
	ApprovalModeAuto  ApprovalMode = "auto"
	ApprovalModeInApp ApprovalMode = "inApp"
	ApprovalModeEmail ApprovalMode = "email"
)

// Valid проверяет корректность режима.
func (m ApprovalMode) Valid() bool {
	switch m {
	case ApprovalModeAuto, ApprovalModeInApp, ApprovalModeEmail:
		return true
	}
	return false
}
