package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"regexp"
	"strings"
	"time"

	"fairytale-server/pkg/taskmanager"
	"fairytale-server/shared/configservice"
	"fairytale-server/shared/interfaces"
	"fairytale-server/shared/models"
	"fairytale-server/shared/storage"
	"fairytale-server/story-generator/internal/agent"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxDraftLength - ограничение на набранный ребенком текст (в рунах).
const MaxDraftLength = 4000

var languagePattern = regexp.MustCompile(`^[A-Za-z]{2,3}(-[A-Za-z0-9]{2,8})*$`)

// QuotaChecker - проверка квоты владельца перед каждым этапом.
type QuotaChecker interface {
	Check(ctx context.Context, ownerID uuid.UUID, limits configservice.QuotaLimits) error
}

// SnapshotSource отдает текущий снимок динамической конфигурации.
type SnapshotSource interface {
	Snapshot() *configservice.Snapshot
}

// Gate - шлюз одобрения.
type Gate interface {
	Decide(ctx context.Context, story *models.Story, owner *models.OwnerSettings, snap *configservice.Snapshot) (models.StoryStatus, error)
	Review(ctx context.Context, storyID, reviewerID uuid.UUID, action models.ReviewAction, reason *string) (*models.Story, error)
	RedeemToken(ctx context.Context, token string, action models.ReviewAction, reason *string) (*models.Story, error)
	CanAccess(ctx context.Context, story *models.Story, userID uuid.UUID) (bool, error)
}

// FailureNotifier сообщает владельцу о неудачном прогоне.
type FailureNotifier interface {
	StoryFailed(ctx context.Context, story *models.Story) error
}

// Config - параметры координатора.
type Config struct {
	// ProcessingTimeout ограничивает один прогон целиком.
	ProcessingTimeout time.Duration
	// MaxConcurrentRuns - 0 без ограничения.
	MaxConcurrentRuns int
	// MaxInputBytes - ограничение на загружаемый файл.
	MaxInputBytes int64
}

// Coordinator ведет историю по машине состояний и запускает этапы через агентов.
type Coordinator struct {
	cfg       Config
	stories   interfaces.StoryRepository
	owners    interfaces.OwnerRepository
	objects   interfaces.ObjectStore
	agents    *agent.Agents
	quota     QuotaChecker
	gate      Gate
	notifier  FailureNotifier
	snapshots SnapshotSource
	tasks     *taskmanager.TaskManager
	hub       *Hub
	logger    *zap.Logger
	now       func() time.Time
}

// NewCoordinator собирает координатор. Прогоны выполняются в собственном супервизоре,
// который нужно остановить через Shutdown.
func NewCoordinator(
	cfg Config,
	stories interfaces.StoryRepository,
	owners interfaces.OwnerRepository,
	objects interfaces.ObjectStore,
	agents *agent.Agents,
	quota QuotaChecker,
	gate Gate,
	notifier FailureNotifier,
	snapshots SnapshotSource,
	hub *Hub,
	logger *zap.Logger,
) *Coordinator {
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = 10 * time.Minute
	}
	if cfg.MaxInputBytes <= 0 {
		cfg.MaxInputBytes = 25 << 20
	}
	return &Coordinator{
		cfg:       cfg,
		stories:   stories,
		owners:    owners,
		objects:   objects,
		agents:    agents,
		quota:     quota,
		gate:      gate,
		notifier:  notifier,
		snapshots: snapshots,
		tasks:     taskmanager.New(taskmanager.Config{MaxTasks: cfg.MaxConcurrentRuns, Timeout: cfg.ProcessingTimeout}),
		hub:       hub,
		logger:    logger.Named("Coordinator"),
		now:       time.Now,
	}
}

// Hub - подписки на смену статуса.
func (c *Coordinator) Hub() *Hub { return c.hub }

// Subscribe подписывает на смену статуса истории. Доступ проверяется до вызова.
func (c *Coordinator) Subscribe(storyID uuid.UUID) (<-chan models.StoryStatusUpdate, func()) {
	return c.hub.Subscribe(storyID)
}

// SubmitRequest - новый материал от ребенка.
type SubmitRequest struct {
	OwnerID     uuid.UUID
	Kind        models.InputKind
	Language    string
	Text        string
	File        io.Reader
	FileName    string
	ContentType string
	// AutoConfirm - текстовая история сразу уходит в генерацию, минуя drafting.
	AutoConfirm bool
}

func (r *SubmitRequest) validate() error {
	if r.OwnerID == uuid.Nil {
		return fmt.Errorf("%w: owner is required", models.ErrBadRequest)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown input kind %q", models.ErrBadRequest, r.Kind)
	}
	if !languagePattern.MatchString(r.Language) {
		return fmt.Errorf("%w: invalid language %q", models.ErrBadRequest, r.Language)
	}
	switch r.Kind {
	case models.InputKindText:
		if strings.TrimSpace(r.Text) == "" {
			return fmt.Errorf("%w: text is required", models.ErrBadRequest)
		}
		if len([]rune(r.Text)) > MaxDraftLength {
			return fmt.Errorf("%w: text is longer than %d characters", models.ErrBadRequest, MaxDraftLength)
		}
	default:
		if r.File == nil {
			return fmt.Errorf("%w: file is required for %s input", models.ErrBadRequest, r.Kind)
		}
	}
	return nil
}

// Submit создает историю и запускает обработку. Текстовая история без AutoConfirm
// остается в drafting до Confirm.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*models.Story, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	story := &models.Story{
		ID:        uuid.New(),
		OwnerID:   req.OwnerID,
		InputKind: req.Kind,
		Status:    models.StatusSubmitted,
		Language:  req.Language,
		CreatedAt: c.now().UTC(),
	}
	log := c.logger.With(zap.String("story_id", story.ID.String()), zap.String("kind", string(req.Kind)))

	if req.Kind == models.InputKindText {
		text := strings.TrimSpace(req.Text)
		story.InputText = &text
	} else {
		key := storage.StoryObjectKey(story.ID.String(), "input"+inputExtension(req.FileName, req.ContentType))
		n, err := c.objects.Put(ctx, key, req.ContentType, io.LimitReader(req.File, c.cfg.MaxInputBytes+1))
		if err != nil {
			log.Error("Failed to store input", zap.Error(err))
			return nil, fmt.Errorf("store input: %w", err)
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: empty file", models.ErrBadRequest)
		}
		if n > c.cfg.MaxInputBytes {
			return nil, fmt.Errorf("%w: file exceeds %d bytes", models.ErrFileTooLarge, c.cfg.MaxInputBytes)
		}
		story.InputRef = &key
	}

	if err := c.stories.Create(ctx, story); err != nil {
		return nil, err
	}
	log.Info("Story submitted")

	switch req.Kind {
	case models.InputKindImage:
		return story, c.start(ctx, story, models.StatusSubmitted, models.StatusProcessing)
	case models.InputKindAudio:
		return story, c.start(ctx, story, models.StatusSubmitted, models.StatusTranscribing)
	default:
		if err := c.transition(ctx, story, models.StatusDrafting, interfaces.TransitionPatch{}); err != nil {
			return nil, err
		}
		if req.AutoConfirm {
			return story, c.start(ctx, story, models.StatusDrafting, models.StatusProcessing)
		}
		return story, nil
	}
}

// Confirm - ребенок подтвердил (и, возможно, поправил) набранный текст.
func (c *Coordinator) Confirm(ctx context.Context, storyID, userID uuid.UUID, text *string) (*models.Story, error) {
	story, err := c.ownedStory(ctx, storyID, userID)
	if err != nil {
		return nil, err
	}
	if story.Status != models.StatusDrafting {
		return nil, fmt.Errorf("%w: story is %s", models.ErrConflict, story.Status)
	}
	if text != nil {
		edited := strings.TrimSpace(*text)
		if edited == "" || len([]rune(edited)) > MaxDraftLength {
			return nil, fmt.Errorf("%w: text must be 1..%d characters", models.ErrBadRequest, MaxDraftLength)
		}
		if err := c.stories.UpdateDraftText(ctx, story.ID, edited); err != nil {
			return nil, err
		}
		story.InputText = &edited
	}
	return story, c.start(ctx, story, models.StatusDrafting, models.StatusProcessing)
}

// Retry - явный перезапуск истории из error. Этапы с готовым результатом пропускаются.
func (c *Coordinator) Retry(ctx context.Context, storyID, userID uuid.UUID) (*models.Story, error) {
	story, err := c.ownedStory(ctx, storyID, userID)
	if err != nil {
		return nil, err
	}
	if c.tasks.IsRunning(story.ID) {
		return nil, models.ErrGenerationInProgress
	}
	if story.Status != models.StatusError {
		return nil, fmt.Errorf("%w: story is %s", models.ErrConflict, story.Status)
	}
	c.logger.Info("Retrying story", zap.String("story_id", story.ID.String()))
	return story, c.start(ctx, story, models.StatusError, models.StatusProcessing)
}

// start - CAS в активный статус и запуск прогона в супервизоре.
// Из двух одновременных запусков CAS пропускает только один.
func (c *Coordinator) start(ctx context.Context, story *models.Story, from, to models.StoryStatus) error {
	if story.Status != from {
		return fmt.Errorf("%w: story is %s", models.ErrConflict, story.Status)
	}
	if err := c.transition(ctx, story, to, interfaces.TransitionPatch{}); err != nil {
		return err
	}

	err := c.tasks.TrySubmit(ctx, story.ID, func(runCtx context.Context) error {
		return c.execute(runCtx, story.ID)
	})
	if err == nil {
		return nil
	}

	c.logger.Error("Failed to schedule run", zap.String("story_id", story.ID.String()), zap.Error(err))
	// статус уже активный, а прогона нет - возвращаем историю в error, чтобы ее можно было повторить
	c.fail(context.WithoutCancel(ctx), story, &PipelineFailure{Code: models.ErrorCodeInternal, Err: err})
	if errors.Is(err, taskmanager.ErrTaskAlreadyRunning) {
		return models.ErrGenerationInProgress
	}
	return fmt.Errorf("schedule run: %w", err)
}

// Wait ждет окончания текущего прогона истории.
func (c *Coordinator) Wait(ctx context.Context, storyID uuid.UUID) error {
	return c.tasks.Wait(ctx, storyID)
}

// IsRunning - выполняется ли прогон истории в этом инстансе.
func (c *Coordinator) IsRunning(storyID uuid.UUID) bool {
	return c.tasks.IsRunning(storyID)
}

// Shutdown отменяет прогоны и ждет их завершения.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	return c.tasks.Shutdown(ctx)
}

// Get возвращает историю владельцу или его ревьюеру. Чужим - ErrStoryNotFound.
func (c *Coordinator) Get(ctx context.Context, storyID, userID uuid.UUID) (*models.Story, error) {
	story, err := c.stories.GetByID(ctx, storyID)
	if err != nil {
		return nil, err
	}
	ok, err := c.gate.CanAccess(ctx, story, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrStoryNotFound
	}
	return story, nil
}

// List - истории владельца постранично.
func (c *Coordinator) List(ctx context.Context, ownerID uuid.UUID, cursor string, limit int) ([]*models.Story, string, error) {
	return c.stories.ListByOwner(ctx, ownerID, cursor, limit)
}

// Review - решение ревьюера из приложения.
func (c *Coordinator) Review(ctx context.Context, storyID, reviewerID uuid.UUID, action models.ReviewAction, reason *string) (*models.Story, error) {
	story, err := c.gate.Review(ctx, storyID, reviewerID, action, reason)
	if err != nil {
		return nil, err
	}
	c.settled(story)
	return story, nil
}

// RedeemToken - решение по ссылке из письма.
func (c *Coordinator) RedeemToken(ctx context.Context, token string, action models.ReviewAction, reason *string) (*models.Story, error) {
	story, err := c.gate.RedeemToken(ctx, token, action, reason)
	if err != nil {
		return nil, err
	}
	c.settled(story)
	return story, nil
}

// MediaKind - какой файл истории запрашивается.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaImage MediaKind = "image"
	MediaInput MediaKind = "input"
)

// OpenMedia открывает озвучку, обложку или исходный файл истории.
func (c *Coordinator) OpenMedia(ctx context.Context, storyID, userID uuid.UUID, kind MediaKind) (io.ReadCloser, string, error) {
	story, err := c.Get(ctx, storyID, userID)
	if err != nil {
		return nil, "", err
	}
	var ref *string
	switch kind {
	case MediaAudio:
		ref = story.AudioRef
	case MediaImage:
		ref = story.ImageRef
	case MediaInput:
		ref = story.InputRef
	default:
		return nil, "", fmt.Errorf("%w: unknown media kind %q", models.ErrBadRequest, kind)
	}
	if ref == nil {
		return nil, "", models.ErrNotFound
	}
	rc, err := c.objects.Open(ctx, *ref)
	if err != nil {
		return nil, "", err
	}
	return rc, contentTypeForKey(*ref), nil
}

func (c *Coordinator) ownedStory(ctx context.Context, storyID, userID uuid.UUID) (*models.Story, error) {
	story, err := c.stories.GetByID(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story.OwnerID != userID {
		return nil, models.ErrForbidden
	}
	return story, nil
}

// transition - CAS из текущего статуса истории в to с публикацией обновления.
func (c *Coordinator) transition(ctx context.Context, story *models.Story, to models.StoryStatus, patch interfaces.TransitionPatch) error {
	from := story.Status
	if err := c.stories.Transition(ctx, story.ID, from, to, patch); err != nil {
		return err
	}
	story.Status = to
	story.ErrorDetail = patch.ErrorDetail
	if to != models.StatusError {
		story.ErrorDetail = nil
	}
	c.hub.Publish(story)
	return nil
}

func (c *Coordinator) settled(story *models.Story) {
	runsFinished.WithLabelValues(string(story.Status)).Inc()
	c.hub.Publish(story)
}

// fail переводит историю в error. Вызывается с контекстом без отмены:
// после таймаута прогона запись в БД все равно должна пройти.
func (c *Coordinator) fail(ctx context.Context, story *models.Story, failure *PipelineFailure) {
	log := c.logger.With(zap.String("story_id", story.ID.String()))
	detail := failure.Detail()
	if err := c.transition(ctx, story, models.StatusError, interfaces.TransitionPatch{ErrorDetail: &detail}); err != nil {
		log.Error("Failed to move story to error", zap.String("from", string(story.Status)), zap.Error(err))
		return
	}
	runFailures.WithLabelValues(string(failure.Code), string(failure.Stage)).Inc()
	runsFinished.WithLabelValues(string(models.StatusError)).Inc()
	log.Warn("Story failed",
		zap.String("code", string(failure.Code)),
		zap.String("stage", string(failure.Stage)),
		zap.Error(failure.Err),
	)
	if err := c.notifier.StoryFailed(ctx, story); err != nil {
		log.Warn("Failure push was not published", zap.Error(err))
	}
}

func inputExtension(fileName, contentType string) string {
	if ext := strings.ToLower(path.Ext(fileName)); ext != "" && len(ext) <= 6 {
		return ext
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
