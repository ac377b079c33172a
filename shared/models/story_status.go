package models

import "fmt"

// StoryStatus определяет возможные статусы истории.
type StoryStatus string

const (
	StatusSubmitted     StoryStatus = "submitted"
	StatusTranscribing  StoryStatus = "transcribing"
	StatusDrafting      StoryStatus = "drafting"
	StatusProcessing    StoryStatus = "processing"
	StatusApproved      StoryStatus = "approved"
	StatusPendingReview StoryStatus = "pending_review"
	StatusDeclined      StoryStatus = "declined"
	StatusError         StoryStatus = "error"
)

// storyTransitions - единственный источник правды о допустимых переходах.
// error -> processing возможен только через явный retry.
var storyTransitions = map[StoryStatus][]StoryStatus{
	StatusSubmitted:     {StatusTranscribing, StatusDrafting, StatusProcessing, StatusError},
	StatusTranscribing:  {StatusProcessing, StatusError},
	StatusDrafting:      {StatusProcessing},
	StatusProcessing:    {StatusApproved, StatusPendingReview, StatusError},
	StatusPendingReview: {StatusApproved, StatusDeclined},
	StatusError:         {StatusProcessing},
	StatusApproved:      nil,
	StatusDeclined:      nil,
}

// AllStoryStatuses возвращает все известные статусы.
func AllStoryStatuses() []StoryStatus {
	return []StoryStatus{
		StatusSubmitted, StatusTranscribing, StatusDrafting, StatusProcessing,
		StatusApproved, StatusPendingReview, StatusDeclined, StatusError,
	}
}

// CanTransition сообщает, разрешен ли переход from -> to.
func CanTransition(from, to StoryStatus) bool {
	for _, next := range storyTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition возвращает ErrInvalidTransition для недопустимых переходов.
func ValidateTransition(from, to StoryStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsTerminal - approved и declined не имеют исходящих переходов.
func (s StoryStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusDeclined
}

// IsActive - статусы, в которых идет выполнение пайплайна.
func (s StoryStatus) IsActive() bool {
	return s == StatusTranscribing || s == StatusProcessing
}

// Settled - статусы, после которых клиенту больше нечего ждать от пайплайна.
func (s StoryStatus) Settled() bool {
	return s.IsTerminal() || s == StatusPendingReview || s == StatusError || s == StatusDrafting
}
