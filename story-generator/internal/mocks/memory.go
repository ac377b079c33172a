package mocks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"fairytale-server/shared/interfaces"
	"fairytale-server/shared/models"

	"github.com/google/uuid"
)

// MemoryStoryRepository - потокобезопасная реализация StoryRepository в памяти
// с теми же CAS-правилами, что и у Postgres. Для сценарных тестов.
type MemoryStoryRepository struct {
	mu      sync.Mutex
	stories map[uuid.UUID]*models.Story
	// Transitions - все успешные переходы по порядку.
	Transitions []string
}

func NewMemoryStoryRepository() *MemoryStoryRepository {
	return &MemoryStoryRepository{stories: make(map[uuid.UUID]*models.Story)}
}

func cloneStory(s *models.Story) *models.Story {
	c := *s
	c.LatencyMsByStage = make(map[models.Stage]int64, len(s.LatencyMsByStage))
	for k, v := range s.LatencyMsByStage {
		c.LatencyMsByStage[k] = v
	}
	c.StageWarnings = make(map[models.Stage]string, len(s.StageWarnings))
	for k, v := range s.StageWarnings {
		c.StageWarnings[k] = v
	}
	return &c
}

func (r *MemoryStoryRepository) Create(_ context.Context, story *models.Story) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stories[story.ID]; ok {
		return fmt.Errorf("story %s already exists", story.ID)
	}
	if story.CreatedAt.IsZero() {
		story.CreatedAt = time.Now().UTC()
	}
	story.UpdatedAt = story.CreatedAt
	r.stories[story.ID] = cloneStory(story)
	return nil
}

func (r *MemoryStoryRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Story, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stories[id]
	if !ok {
		return nil, models.ErrStoryNotFound
	}
	return cloneStory(s), nil
}

func (r *MemoryStoryRepository) ListByOwner(_ context.Context, ownerID uuid.UUID, _ string, limit int) ([]*models.Story, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Story, 0)
	for _, s := range r.stories {
		if s.OwnerID == ownerID {
			out = append(out, cloneStory(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, "", nil
}

func (r *MemoryStoryRepository) Transition(_ context.Context, id uuid.UUID, from, to models.StoryStatus, patch interfaces.TransitionPatch) error {
	if err := models.ValidateTransition(from, to); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stories[id]
	if !ok {
		return models.ErrStoryNotFound
	}
	if s.Status != from {
		return fmt.Errorf("%w (current status: %s)", models.ErrConflict, s.Status)
	}
	s.Status = to
	s.ErrorDetail = nil
	if to == models.StatusError {
		d := models.ErrorDetail{Code: models.ErrorCodeInternal}
		if patch.ErrorDetail != nil {
			d = *patch.ErrorDetail
		}
		s.ErrorDetail = &d
	}
	if patch.ReviewDecision != nil {
		d := *patch.ReviewDecision
		s.ReviewDecision = &d
	}
	s.UpdatedAt = time.Now().UTC()
	r.Transitions = append(r.Transitions, string(from)+"->"+string(to))
	return nil
}

func setOnce(dst **string, value string) error {
	if *dst != nil && **dst != value {
		return models.ErrFieldAlreadySet
	}
	v := value
	*dst = &v
	return nil
}

func (r *MemoryStoryRepository) SetWriteOnce(_ context.Context, id uuid.UUID, field models.StoryWriteOnce, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stories[id]
	if !ok {
		return models.ErrStoryNotFound
	}
	switch field {
	case models.FieldTranscript:
		return setOnce(&s.Transcript, value)
	case models.FieldDescription:
		return setOnce(&s.Description, value)
	case models.FieldAudioRef:
		return setOnce(&s.AudioRef, value)
	case models.FieldImageRef:
		return setOnce(&s.ImageRef, value)
	}
	return fmt.Errorf("%w: unknown write-once field %q", models.ErrInvalidInput, field)
}

func (r *MemoryStoryRepository) SetContent(_ context.Context, id uuid.UUID, content models.StoryContent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stories[id]
	if !ok {
		return models.ErrStoryNotFound
	}
	if s.Content != nil && *s.Content != content {
		return models.ErrFieldAlreadySet
	}
	c := content
	s.Content = &c
	return nil
}

func (r *MemoryStoryRepository) SetPersonalizationIfAbsent(_ context.Context, id uuid.UUID, decision models.PersonalizationDecision) (*models.PersonalizationDecision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stories[id]
	if !ok {
		return nil, models.ErrStoryNotFound
	}
	if s.Personalization == nil {
		d := decision
		s.Personalization = &d
	}
	out := *s.Personalization
	return &out, nil
}

func (r *MemoryStoryRepository) UpdateDraftText(_ context.Context, id uuid.UUID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stories[id]
	if !ok {
		return models.ErrStoryNotFound
	}
	if s.Status != models.StatusDrafting {
		return models.ErrConflict
	}
	s.InputText = &text
	return nil
}

func (r *MemoryStoryRepository) RecordStageLatency(_ context.Context, id uuid.UUID, stage models.Stage, latency time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stories[id]; ok {
		if s.LatencyMsByStage == nil {
			s.LatencyMsByStage = map[models.Stage]int64{}
		}
		s.LatencyMsByStage[stage] += latency.Milliseconds()
	}
	return nil
}

func (r *MemoryStoryRepository) SetStageWarning(_ context.Context, id uuid.UUID, stage models.Stage, warning string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stories[id]; ok {
		if s.StageWarnings == nil {
			s.StageWarnings = map[models.Stage]string{}
		}
		s.StageWarnings[stage] = warning
	}
	return nil
}

func (r *MemoryStoryRepository) ClearStageWarning(_ context.Context, id uuid.UUID, stage models.Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stories[id]; ok {
		delete(s.StageWarnings, stage)
	}
	return nil
}

func (r *MemoryStoryRepository) MarkStaleAsError(_ context.Context, statuses []models.StoryStatus, olderThan time.Time, detail models.ErrorDetail) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uuid.UUID
	for id, s := range r.stories {
		for _, st := range statuses {
			if s.Status == st && s.UpdatedAt.Before(olderThan) {
				d := detail
				s.Status, s.ErrorDetail = models.StatusError, &d
				ids = append(ids, id)
				break
			}
		}
	}
	return ids, nil
}

// Backdate сдвигает UpdatedAt истории в прошлое.
func (r *MemoryStoryRepository) Backdate(id uuid.UUID, by time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stories[id]; ok {
		s.UpdatedAt = s.UpdatedAt.Add(-by)
	}
}

// MemoryUsageRepository - журнал использования в памяти. Append увеличивает стоимость
// истории в связанном MemoryStoryRepository, если он задан.
type MemoryUsageRepository struct {
	mu      sync.Mutex
	records []models.UsageRecord
	Stories *MemoryStoryRepository
}

func NewMemoryUsageRepository(stories *MemoryStoryRepository) *MemoryUsageRepository {
	return &MemoryUsageRepository{Stories: stories}
}

func (r *MemoryUsageRepository) Append(_ context.Context, record *models.UsageRecord) error {
	r.mu.Lock()
	r.records = append(r.records, *record)
	r.mu.Unlock()
	if r.Stories != nil {
		r.Stories.mu.Lock()
		if s, ok := r.Stories.stories[record.StoryID]; ok {
			s.CostAccumulatedUSD += record.CostUSD
		}
		r.Stories.mu.Unlock()
	}
	return nil
}

func (r *MemoryUsageRepository) SummarizeSince(_ context.Context, ownerID uuid.UUID, since time.Time) (*models.UsageSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum := &models.UsageSummary{}
	for _, rec := range r.records {
		if rec.OwnerID == ownerID && !rec.Timestamp.Before(since) {
			sum.TotalCostUSD += rec.CostUSD
			sum.Operations++
		}
	}
	return sum, nil
}

func (r *MemoryUsageRepository) ListByStory(_ context.Context, storyID uuid.UUID) ([]*models.UsageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.UsageRecord
	for i := range r.records {
		if r.records[i].StoryID == storyID {
			rec := r.records[i]
			out = append(out, &rec)
		}
	}
	return out, nil
}

// Len - число записей в журнале.
func (r *MemoryUsageRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// MemoryReviewTokenRepository - одноразовые токены в памяти.
type MemoryReviewTokenRepository struct {
	mu      sync.Mutex
	tokens  map[string]*models.ReviewToken
	revoked map[string]bool
	Now     func() time.Time
}

func NewMemoryReviewTokenRepository() *MemoryReviewTokenRepository {
	return &MemoryReviewTokenRepository{
		tokens:  make(map[string]*models.ReviewToken),
		revoked: make(map[string]bool),
		Now:     time.Now,
	}
}

func (r *MemoryReviewTokenRepository) Save(_ context.Context, tokens []models.ReviewToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tokens {
		tok := t
		r.tokens[t.Token] = &tok
	}
	return nil
}

func (r *MemoryReviewTokenRepository) Redeem(_ context.Context, token string, action models.ReviewAction) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[token]
	if !ok || t.Used || t.Action != action || !r.Now().Before(t.ExpiresAt) {
		return uuid.Nil, models.ErrTokenInvalid
	}
	t.Used = true
	return t.StoryID, nil
}

func (r *MemoryReviewTokenRepository) Release(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[token]
	if !ok || r.revoked[token] || !r.Now().Before(t.ExpiresAt) {
		return nil
	}
	t.Used = false
	return nil
}

func (r *MemoryReviewTokenRepository) RevokeForStory(_ context.Context, storyID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, t := range r.tokens {
		if t.StoryID == storyID {
			t.Used = true
			r.revoked[key] = true
		}
	}
	return nil
}

// ForStory возвращает все токены истории.
func (r *MemoryReviewTokenRepository) ForStory(storyID uuid.UUID) []models.ReviewToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ReviewToken
	for _, t := range r.tokens {
		if t.StoryID == storyID {
			out = append(out, *t)
		}
	}
	return out
}

// MemoryObjectStore - хранилище объектов в памяти.
type MemoryObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string][]byte)}
}

func (s *MemoryObjectStore) Put(_ context.Context, key string, _ string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return int64(len(data)), nil
}

func (s *MemoryObjectStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

var (
	_ interfaces.StoryRepository       = (*MemoryStoryRepository)(nil)
	_ interfaces.UsageRepository       = (*MemoryUsageRepository)(nil)
	_ interfaces.ReviewTokenRepository = (*MemoryReviewTokenRepository)(nil)
	_ interfaces.ObjectStore           = (*MemoryObjectStore)(nil)
)
