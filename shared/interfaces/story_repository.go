package interfaces

import (
	"context"
	"time"

	"fairytale-server/shared/models"

	"github.com/google/uuid"
)

// TransitionPatch - поля, которые меняются атомарно вместе со статусом.
type TransitionPatch struct {
	// ErrorDetail записывается при переходе в error и очищается при любом другом переходе.
	ErrorDetail *models.ErrorDetail
	// ReviewDecision записывается при переходе в approved/declined.
	ReviewDecision *models.ReviewDecision
}

// StoryRepository определяет методы доступа к историям.
// Все мутации статуса выполняются через compare-and-set по текущему статусу.
type StoryRepository interface {
	Create(ctx context.Context, story *models.Story) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error)
	// ListByOwner возвращает страницу историй владельца (новые первыми) и курсор следующей страницы.
	ListByOwner(ctx context.Context, ownerID uuid.UUID, cursor string, limit int) ([]*models.Story, string, error)

	// Transition переводит историю из from в to.
	// Возвращает models.ErrConflict, если текущий статус отличается от from,
	// и models.ErrStoryNotFound, если истории нет.
	Transition(ctx context.Context, id uuid.UUID, from, to models.StoryStatus, patch TransitionPatch) error

	// SetWriteOnce записывает строковое поле, если оно пустое.
	// Повторная запись того же значения не является ошибкой, другое значение - models.ErrFieldAlreadySet.
	SetWriteOnce(ctx context.Context, id uuid.UUID, field models.StoryWriteOnce, value string) error
	// SetContent - write-once запись сгенерированного текста.
	SetContent(ctx context.Context, id uuid.UUID, content models.StoryContent) error
	// SetPersonalizationIfAbsent сохраняет решение, если его еще нет, и возвращает сохраненное.
	SetPersonalizationIfAbsent(ctx context.Context, id uuid.UUID, decision models.PersonalizationDecision) (*models.PersonalizationDecision, error)
	// UpdateDraftText меняет набранный текст, пока история в статусе drafting.
	UpdateDraftText(ctx context.Context, id uuid.UUID, text string) error

	RecordStageLatency(ctx context.Context, id uuid.UUID, stage models.Stage, latency time.Duration) error
	SetStageWarning(ctx context.Context, id uuid.UUID, stage models.Stage, warning string) error
	// ClearStageWarning убирает предупреждение этапа, если оно было.
	ClearStageWarning(ctx context.Context, id uuid.UUID, stage models.Stage) error

	// MarkStaleAsError переводит в error истории, застрявшие в активных статусах.
	MarkStaleAsError(ctx context.Context, statuses []models.StoryStatus, olderThan time.Time, detail models.ErrorDetail) ([]uuid.UUID, error)
}
