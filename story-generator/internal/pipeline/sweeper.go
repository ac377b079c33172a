package pipeline

import (
	"context"
	"time"

	"fairytale-server/shared/interfaces"
	"fairytale-server/shared/models"

	"go.uber.org/zap"
)

// Sweeper переводит в error истории, чей прогон умер вместе с инстансом:
// они висят в transcribing/processing дольше, чем может длиться любой прогон.
type Sweeper struct {
	stories    interfaces.StoryRepository
	hub        *Hub
	interval   time.Duration
	staleAfter time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewSweeper. staleAfter должен быть больше таймаута прогона.
func NewSweeper(stories interfaces.StoryRepository, hub *Hub, interval, staleAfter time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		stories:    stories,
		hub:        hub,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger.Named("StaleSweeper"),
		now:        time.Now,
	}
}

// Run блокируется до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("Stale run sweeper started", zap.Duration("interval", s.interval), zap.Duration("stale_after", s.staleAfter))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stale run sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("Sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep выполняет один проход и возвращает число помеченных историй.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	detail := models.ErrorDetail{Code: models.ErrorCodeTimeout}
	ids, err := s.stories.MarkStaleAsError(ctx,
		[]models.StoryStatus{models.StatusTranscribing, models.StatusProcessing},
		s.now().Add(-s.staleAfter), detail)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		staleSwept.Inc()
		runsFinished.WithLabelValues(string(models.StatusError)).Inc()
		s.logger.Warn("Stale story marked as error", zap.String("story_id", id.String()))
		d := detail
		s.hub.Publish(&models.Story{ID: id, Status: models.StatusError, ErrorDetail: &d})
	}
	return len(ids), nil
}
