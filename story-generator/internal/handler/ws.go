package handler

import (
	"net/http"
	"time"

	"fairytale-server/shared/constants"
	"fairytale-server/shared/models"
	"fairytale-server/story-generator/internal/pipeline"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Время, разрешенное для записи сообщения клиенту.
	writeWait = 10 * time.Second
	// Время, разрешенное для чтения следующего pong сообщения от клиента.
	pongWait = 60 * time.Second
	// Отправлять пинги клиенту с этим периодом. Должно быть меньше pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Клиент ничего не присылает, кроме control-фреймов.
	maxMessageSize = 512
)

// statusFrame - кадр потока статусов.
type statusFrame struct {
	Event string `json:"event"`
	models.StoryStatusUpdate
}

func (h *StoryHandler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
}

func (h *StoryHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return len(h.opts.AllowedOrigins) == 0
}

// streamStatus отдает снимок статуса, затем каждое изменение до финального статуса.
// Изменения с других инстансов подхватываются периодическим чтением из БД.
func (h *StoryHandler) streamStatus(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	storyID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	// подписка до чтения снимка, чтобы не потерять переход между ними
	updates, unsubscribe := h.stories.Subscribe(storyID)
	defer unsubscribe()

	story, err := h.stories.Get(c.Request.Context(), storyID, userID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}

	conn, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", zap.String("story_id", storyID.String()), zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.logger.With(zap.String("story_id", storyID.String()), zap.String("user_id", userID.String()))
	log.Debug("Status stream opened")

	closed := make(chan struct{})
	go readPump(conn, closed)

	last := pipeline.StatusUpdate(story)
	if err := writeFrame(conn, constants.WSEventSnapshot, last); err != nil {
		return
	}
	if story.Status.IsTerminal() {
		closeStream(conn)
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	poll := time.NewTicker(h.opts.StreamPollInterval)
	defer poll.Stop()

	for {
		var next *models.StoryStatusUpdate
		select {
		case <-closed:
			log.Debug("Status stream closed by client")
			return
		case <-c.Request.Context().Done():
			return
		case u, ok := <-updates:
			if !ok {
				closeStream(conn)
				return
			}
			next = &u
		case <-poll.C:
			fresh, err := h.stories.Get(c.Request.Context(), storyID, userID)
			if err != nil {
				log.Warn("Status poll failed", zap.Error(err))
				continue
			}
			u := pipeline.StatusUpdate(fresh)
			next = &u
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		if next.Status == last.Status {
			continue
		}
		last = *next
		if err := writeFrame(conn, constants.WSEventStatusChanged, last); err != nil {
			log.Debug("Failed to write status frame", zap.Error(err))
			return
		}
		if last.Status.IsTerminal() {
			closeStream(conn)
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, event string, update models.StoryStatusUpdate) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(statusFrame{Event: event, StoryStatusUpdate: update})
}

func closeStream(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "story settled"),
		time.Now().Add(writeWait))
}

// readPump нужен только для control-фреймов (pong, close).
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
