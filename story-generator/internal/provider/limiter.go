package provider

import (
	"context"
	"fmt"

	"fairytale-server/shared/models"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LimitConfig - клиентское ограничение частоты запросов к вендору.
type LimitConfig struct {
	RPS   float64
	Burst int
}

func newLimiter(cfg LimitConfig) *rate.Limiter {
	if cfg.RPS <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RPS), burst)
}

// base - общая часть всех клиентов: имя вендора, лимитер, тарифы, логгер.
type base struct {
	vendor  string
	limiter *rate.Limiter
	prices  PriceTable
	logger  *zap.Logger
}

func newBase(vendor string, limit LimitConfig, prices PriceTable, logger *zap.Logger) base {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prices.Models == nil {
		prices = DefaultPriceTable()
	}
	return base{
		vendor:  vendor,
		limiter: newLimiter(limit),
		prices:  prices,
		logger:  logger.Named(vendor),
	}
}

// wait ждет разрешения лимитера. Если ждать пришлось бы дольше дедлайна
// контекста, вызов сразу завершается RateLimited.
func (b *base) wait(ctx context.Context, op models.OperationType, model string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return newError(KindTimeout, b.vendor, model, op, err)
		}
		return newError(KindRateLimited, b.vendor, model, op, fmt.Errorf("client rate limit: %w", err))
	}
	return nil
}

// fail оборачивает ошибку SDK в ProviderError, если она еще не обернута.
func (b *base) fail(ctx context.Context, op models.OperationType, model string, err error) error {
	if _, ok := KindOf(err); ok {
		return err
	}
	return newError(classify(ctx, err), b.vendor, model, op, err)
}

func (b *base) invalid(op models.OperationType, model, reason string) error {
	return newError(KindInvalidResponse, b.vendor, model, op, fmt.Errorf("%s", reason))
}

func (b *base) blocked(op models.OperationType, model, reason string) error {
	return newError(KindSafetyBlocked, b.vendor, model, op, fmt.Errorf("%s", reason))
}

// finish пишет метрики и debug-лог по итогам вызова.
func (b *base) finish(op models.OperationType, model string, usage Usage, err error) {
	observe(b.vendor, model, op, usage, err)
	if err != nil {
		b.logger.Warn("vendor call failed",
			zap.String("operation", string(op)),
			zap.String("model", model),
			zap.Duration("latency", usage.Latency),
			zap.Error(err),
		)
		return
	}
	b.logger.Debug("vendor call succeeded",
		zap.String("operation", string(op)),
		zap.String("model", model),
		zap.Duration("latency", usage.Latency),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens),
		zap.Float64("cost_usd", usage.CostUSD),
	)
}
