package ledger

import (
	"context"
	"fmt"
	"time"

	"fairytale-server/shared/configservice"
	"fairytale-server/shared/interfaces"
	"fairytale-server/shared/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultWindow - окно квоты, если в конфигурации оно не задано.
const DefaultWindow = 24 * time.Hour

// Ledger - журнал использования провайдеров и проверка квоты владельца.
type Ledger struct {
	repo   interfaces.UsageRepository
	logger *zap.Logger
	now    func() time.Time
}

func New(repo interfaces.UsageRepository, logger *zap.Logger) *Ledger {
	return &Ledger{
		repo:   repo,
		logger: logger.Named("Ledger"),
		now:    time.Now,
	}
}

// Check возвращает models.ErrQuotaExceeded, если за окно владелец уже потратил
// MaxCostUSD или сделал MaxOperations вызовов. Нулевой порог не проверяется.
func (l *Ledger) Check(ctx context.Context, ownerID uuid.UUID, limits configservice.QuotaLimits) error {
	if limits.MaxCostUSD <= 0 && limits.MaxOperations <= 0 {
		return nil
	}
	window := limits.Window
	if window <= 0 {
		window = DefaultWindow
	}

	summary, err := l.repo.SummarizeSince(ctx, ownerID, l.now().Add(-window))
	if err != nil {
		return fmt.Errorf("failed to summarize usage for owner %s: %w", ownerID, err)
	}

	if limits.MaxCostUSD > 0 && summary.TotalCostUSD >= limits.MaxCostUSD {
		l.logger.Info("Quota exceeded by cost",
			zap.String("owner_id", ownerID.String()),
			zap.Float64("spent_usd", summary.TotalCostUSD),
			zap.Float64("limit_usd", limits.MaxCostUSD),
		)
		return fmt.Errorf("%w: spent %.4f of %.4f USD", models.ErrQuotaExceeded, summary.TotalCostUSD, limits.MaxCostUSD)
	}
	if limits.MaxOperations > 0 && summary.Operations >= limits.MaxOperations {
		l.logger.Info("Quota exceeded by operations",
			zap.String("owner_id", ownerID.String()),
			zap.Int64("operations", summary.Operations),
			zap.Int64("limit", limits.MaxOperations),
		)
		return fmt.Errorf("%w: %d of %d operations", models.ErrQuotaExceeded, summary.Operations, limits.MaxOperations)
	}
	return nil
}

// Record добавляет запись в журнал. Стоимость истории увеличивается в той же команде.
func (l *Ledger) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now().UTC()
	}
	if rec.CostUSD < 0 {
		return fmt.Errorf("%w: negative cost %f", models.ErrInvalidInput, rec.CostUSD)
	}
	if err := l.repo.Append(ctx, &rec); err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}
	return nil
}

// Summary - потраченное владельцем за окно (для GET /owners/me/settings).
func (l *Ledger) Summary(ctx context.Context, ownerID uuid.UUID, window time.Duration) (*models.UsageSummary, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	return l.repo.SummarizeSince(ctx, ownerID, l.now().Add(-window))
}
