package pipeline

import (
	"sync"

	"fairytale-server/shared/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const subscriberBuffer = 8

// Hub раздает смены статуса подписчикам websocket этого инстанса.
type Hub struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]map[chan models.StoryStatusUpdate]struct{}
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[uuid.UUID]map[chan models.StoryStatusUpdate]struct{}),
		logger: logger.Named("StatusHub"),
	}
}

// Subscribe возвращает канал обновлений истории и функцию отписки.
func (h *Hub) Subscribe(storyID uuid.UUID) (<-chan models.StoryStatusUpdate, func()) {
	ch := make(chan models.StoryStatusUpdate, subscriberBuffer)
	h.mu.Lock()
	if h.subs[storyID] == nil {
		h.subs[storyID] = make(map[chan models.StoryStatusUpdate]struct{})
	}
	h.subs[storyID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[storyID], ch)
			if len(h.subs[storyID]) == 0 {
				delete(h.subs, storyID)
			}
			close(ch)
		})
	}
}

// Publish не блокируется: медленный подписчик теряет кадр, а не тормозит пайплайн.
func (h *Hub) Publish(story *models.Story) {
	if story == nil {
		return
	}
	update := StatusUpdate(story)

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[story.ID] {
		select {
		case ch <- update:
		default:
			h.logger.Debug("Dropping status update for slow subscriber", zap.String("story_id", update.StoryID))
		}
	}
}

// Subscribers - число подписчиков истории.
func (h *Hub) Subscribers(storyID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[storyID])
}

// StatusUpdate строит кадр для клиента из истории.
func StatusUpdate(story *models.Story) models.StoryStatusUpdate {
	u := models.StoryStatusUpdate{
		StoryID:     story.ID.String(),
		Status:      story.Status,
		ErrorDetail: story.ErrorDetail,
	}
	if story.Content != nil && story.Content.Title != "" {
		title := story.Content.Title
		u.Title = &title
	}
	return u
}
