package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fairytale-server/shared/interfaces"
	"fairytale-server/shared/models"
	"fairytale-server/shared/utils"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const storyColumns = `id, owner_id, input_kind, status, language, input_ref, input_text,
	transcript, description, content, audio_ref, image_ref, cost_accumulated_usd,
	latency_ms_by_stage, stage_warnings, personalization, review_decision, error_detail,
	created_at, updated_at`

const (
	createStoryQuery = `
		INSERT INTO stories (id, owner_id, input_kind, status, language, input_ref, input_text, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`
	getStoryByIDQuery     = `SELECT ` + storyColumns + ` FROM stories WHERE id = $1`
	listStoriesByOwnerSQL = `SELECT ` + storyColumns + ` FROM stories
		WHERE owner_id = $1 AND ($2::timestamptz IS NULL OR (created_at, id) < ($2, $3))
		ORDER BY created_at DESC, id DESC LIMIT $4`
	getStoryStatusQuery   = `SELECT status FROM stories WHERE id = $1`

	// CAS: статус меняется, только если текущий совпадает с ожидаемым.
	transitionStoryQuery = `
		UPDATE stories SET
			status = $3,
			error_detail = $4::jsonb,
			review_decision = COALESCE($5::jsonb, review_decision)
		WHERE id = $1 AND status = $2`

	setContentQuery = `
		UPDATE stories SET content = $2::jsonb
		WHERE id = $1 AND (content IS NULL OR content = $2::jsonb)`
	setPersonalizationQuery = `
		UPDATE stories SET personalization = COALESCE(personalization, $2::jsonb)
		WHERE id = $1
		RETURNING personalization`
	updateDraftTextQuery = `UPDATE stories SET input_text = $2 WHERE id = $1 AND status = 'drafting'`

	recordStageLatencyQuery = `
		UPDATE stories SET latency_ms_by_stage = latency_ms_by_stage ||
			jsonb_build_object($2::text, COALESCE((latency_ms_by_stage->>$2::text)::bigint, 0) + $3::bigint)
		WHERE id = $1`
	setStageWarningQuery = `
		UPDATE stories SET stage_warnings = stage_warnings || jsonb_build_object($2::text, $3::text)
		WHERE id = $1`

	clearStageWarningQuery = `
		UPDATE stories SET stage_warnings = stage_warnings - $2::text
		WHERE id = $1 AND stage_warnings ? $2::text`

	markStaleAsErrorQuery = `
		UPDATE stories SET status = 'error', error_detail = $1::jsonb
		WHERE status = ANY($2::text[]) AND updated_at < $3
		RETURNING id`
)

// writeOnceColumns - единственные колонки, которые можно передать в SetWriteOnce.
var writeOnceColumns = map[models.StoryWriteOnce]string{
	models.FieldTranscript:  "transcript",
	models.FieldDescription: "description",
	models.FieldAudioRef:    "audio_ref",
	models.FieldImageRef:    "image_ref",
}

var _ interfaces.StoryRepository = (*pgStoryRepository)(nil)

type pgStoryRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

// NewPgStoryRepository создает репозиторий историй поверх пула или транзакции.
func NewPgStoryRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.StoryRepository {
	return &pgStoryRepository{
		db:     db,
		logger: logger.Named("PgStoryRepo"),
	}
}

func (r *pgStoryRepository) Create(ctx context.Context, story *models.Story) error {
	if story.CreatedAt.IsZero() {
		story.CreatedAt = time.Now().UTC()
	}
	story.UpdatedAt = story.CreatedAt
	_, err := r.db.Exec(ctx, createStoryQuery,
		story.ID, story.OwnerID, story.InputKind, story.Status, story.Language,
		story.InputRef, story.InputText, story.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create story", zap.String("storyID", story.ID.String()), zap.Error(err))
		return fmt.Errorf("db error creating story: %w", err)
	}
	return nil
}

func (r *pgStoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	var story models.Story
	if err := pgxscan.Get(ctx, r.db, &story, getStoryByIDQuery, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrStoryNotFound
		}
		r.logger.Error("Failed to get story", zap.String("storyID", id.String()), zap.Error(err))
		return nil, fmt.Errorf("db error getting story %s: %w", id, err)
	}
	return &story, nil
}

func (r *pgStoryRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, cursor string, limit int) ([]*models.Story, string, error) {
	cursorTime, cursorID, err := utils.DecodeCursor(cursor)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", models.ErrBadRequest, err)
	}
	var before *time.Time
	if !cursorTime.IsZero() {
		before = &cursorTime
	}

	stories := make([]*models.Story, 0, limit)
	// Берем на одну запись больше, чтобы понять, есть ли следующая страница.
	if err := pgxscan.Select(ctx, r.db, &stories, listStoriesByOwnerSQL, ownerID, before, cursorID, limit+1); err != nil {
		r.logger.Error("Failed to list stories", zap.String("ownerID", ownerID.String()), zap.Error(err))
		return nil, "", fmt.Errorf("db error listing stories: %w", err)
	}

	nextCursor := ""
	if len(stories) > limit {
		stories = stories[:limit]
		last := stories[len(stories)-1]
		nextCursor = utils.EncodeCursor(last.CreatedAt, last.ID)
	}
	return stories, nextCursor, nil
}

func (r *pgStoryRepository) Transition(ctx context.Context, id uuid.UUID, from, to models.StoryStatus, patch interfaces.TransitionPatch) error {
	if err := models.ValidateTransition(from, to); err != nil {
		return err
	}
	log := r.logger.With(zap.String("storyID", id.String()), zap.String("from", string(from)), zap.String("to", string(to)))

	var errorDetail *models.ErrorDetail
	if to == models.StatusError {
		errorDetail = patch.ErrorDetail
		if errorDetail == nil {
			errorDetail = &models.ErrorDetail{Code: models.ErrorCodeInternal}
		}
	}

	tag, err := r.db.Exec(ctx, transitionStoryQuery, id, from, to, errorDetail, patch.ReviewDecision)
	if err != nil {
		log.Error("Failed to transition story", zap.Error(err))
		return fmt.Errorf("db error transitioning story: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, id, models.ErrConflict)
	}
	log.Debug("Story status changed")
	return nil
}

func (r *pgStoryRepository) SetWriteOnce(ctx context.Context, id uuid.UUID, field models.StoryWriteOnce, value string) error {
	column, ok := writeOnceColumns[field]
	if !ok {
		return fmt.Errorf("%w: unknown write-once field %q", models.ErrInvalidInput, field)
	}
	// column берется только из writeOnceColumns
	query := fmt.Sprintf(`UPDATE stories SET %[1]s = $2 WHERE id = $1 AND (%[1]s IS NULL OR %[1]s = $2)`, column)
	tag, err := r.db.Exec(ctx, query, id, value)
	if err != nil {
		r.logger.Error("Failed to set write-once field", zap.String("storyID", id.String()), zap.String("field", column), zap.Error(err))
		return fmt.Errorf("db error setting %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, id, models.ErrFieldAlreadySet)
	}
	return nil
}

func (r *pgStoryRepository) SetContent(ctx context.Context, id uuid.UUID, content models.StoryContent) error {
	tag, err := r.db.Exec(ctx, setContentQuery, id, content)
	if err != nil {
		r.logger.Error("Failed to set story content", zap.String("storyID", id.String()), zap.Error(err))
		return fmt.Errorf("db error setting content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, id, models.ErrFieldAlreadySet)
	}
	return nil
}

func (r *pgStoryRepository) SetPersonalizationIfAbsent(ctx context.Context, id uuid.UUID, decision models.PersonalizationDecision) (*models.PersonalizationDecision, error) {
	var stored models.PersonalizationDecision
	err := r.db.QueryRow(ctx, setPersonalizationQuery, id, decision).Scan(&stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrStoryNotFound
		}
		r.logger.Error("Failed to persist personalization", zap.String("storyID", id.String()), zap.Error(err))
		return nil, fmt.Errorf("db error persisting personalization: %w", err)
	}
	return &stored, nil
}

func (r *pgStoryRepository) UpdateDraftText(ctx context.Context, id uuid.UUID, text string) error {
	tag, err := r.db.Exec(ctx, updateDraftTextQuery, id, text)
	if err != nil {
		return fmt.Errorf("db error updating draft text: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, id, models.ErrConflict)
	}
	return nil
}

func (r *pgStoryRepository) RecordStageLatency(ctx context.Context, id uuid.UUID, stage models.Stage, latency time.Duration) error {
	if _, err := r.db.Exec(ctx, recordStageLatencyQuery, id, string(stage), latency.Milliseconds()); err != nil {
		r.logger.Warn("Failed to record stage latency", zap.String("storyID", id.String()), zap.String("stage", string(stage)), zap.Error(err))
		return fmt.Errorf("db error recording latency: %w", err)
	}
	return nil
}

func (r *pgStoryRepository) SetStageWarning(ctx context.Context, id uuid.UUID, stage models.Stage, warning string) error {
	if _, err := r.db.Exec(ctx, setStageWarningQuery, id, string(stage), warning); err != nil {
		r.logger.Warn("Failed to set stage warning", zap.String("storyID", id.String()), zap.String("stage", string(stage)), zap.Error(err))
		return fmt.Errorf("db error setting stage warning: %w", err)
	}
	return nil
}

func (r *pgStoryRepository) ClearStageWarning(ctx context.Context, id uuid.UUID, stage models.Stage) error {
	if _, err := r.db.Exec(ctx, clearStageWarningQuery, id, string(stage)); err != nil {
		r.logger.Warn("Failed to clear stage warning", zap.String("storyID", id.String()), zap.String("stage", string(stage)), zap.Error(err))
		return fmt.Errorf("db error clearing stage warning: %w", err)
	}
	return nil
}

// MarkStaleAsError находит истории, не обновлявшиеся с olderThan, и переводит их в error.
func (r *pgStoryRepository) MarkStaleAsError(ctx context.Context, statuses []models.StoryStatus, olderThan time.Time, detail models.ErrorDetail) ([]uuid.UUID, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	statusStrings := make([]string, 0, len(statuses))
	for _, s := range statuses {
		if !models.CanTransition(s, models.StatusError) {
			return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, s, models.StatusError)
		}
		statusStrings = append(statusStrings, string(s))
	}

	rows, err := r.db.Query(ctx, markStaleAsErrorQuery, detail, pq.Array(statusStrings), olderThan)
	if err != nil {
		r.logger.Error("Failed to mark stale stories", zap.Error(err))
		return nil, fmt.Errorf("db error marking stale stories: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("db error reading stale story ids: %w", err)
	}
	if len(ids) > 0 {
		r.logger.Info("Marked stale stories as error", zap.Int("count", len(ids)), zap.Time("olderThan", olderThan))
	}
	return ids, nil
}

// explainMiss отличает отсутствующую историю от нарушенного условия UPDATE.
func (r *pgStoryRepository) explainMiss(ctx context.Context, id uuid.UUID, onExists error) error {
	var status models.StoryStatus
	err := r.db.QueryRow(ctx, getStoryStatusQuery, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrStoryNotFound
		}
		return fmt.Errorf("db error checking story status: %w", err)
	}
	return fmt.Errorf("%w (current status: %s)", onExists, status)
}
