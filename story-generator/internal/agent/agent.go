package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fairytale-server/shared/configservice"
	"fairytale-server/shared/models"
	"fairytale-server/story-generator/internal/provider"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultCandidateTimeout - таймаут одного вызова, если у кандидата не задан timeoutSec.
const DefaultCandidateTimeout = 60 * time.Second

// UsageRecorder пишет запись о каждом вызове вендора.
type UsageRecorder interface {
	Record(ctx context.Context, rec models.UsageRecord) error
}

// RunContext - контекст одного прогона пайплайна, общий для всех этапов.
type RunContext struct {
	StoryID   uuid.UUID
	OwnerID   uuid.UUID
	Language  string
	OwnerTier string
	Snapshot  *configservice.Snapshot
}

// StageFailure - итог этапа, когда ни один кандидат не справился
// (или первый же вернул SafetyBlocked).
type StageFailure struct {
	Stage    models.Stage
	Code     models.ErrorCode
	Attempts int
	Err      error // последняя ошибка, только для логов
}

func (f *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempt(s): %s: %v", f.Stage, f.Attempts, f.Code, f.Err)
}

func (f *StageFailure) Unwrap() error { return f.Err }

// AsStageFailure извлекает StageFailure из цепочки ошибок.
func AsStageFailure(err error) (*StageFailure, bool) {
	var sf *StageFailure
	if errors.As(err, &sf) {
		return sf, true
	}
	return nil, false
}

// Agents - набор агентов по операциям поверх общего реестра клиентов.
type Agents struct {
	registry *provider.Registry
	usage    UsageRecorder
	logger   *zap.Logger
	now      func() time.Time
}

func New(registry *provider.Registry, usage UsageRecorder, logger *zap.Logger) *Agents {
	return &Agents{
		registry: registry,
		usage:    usage,
		logger:   logger.Named("Agents"),
		now:      time.Now,
	}
}

func candidateTimeout(c models.VendorCandidate) time.Duration {
	if c.Params.TimeoutSec > 0 {
		return time.Duration(c.Params.TimeoutSec) * time.Second
	}
	return DefaultCandidateTimeout
}

// dedupe убирает повторы пары вендор+модель: в рамках прогона комбинация пробуется один раз.
func dedupe(list []models.VendorCandidate) []models.VendorCandidate {
	seen := make(map[string]struct{}, len(list))
	out := list[:0]
	for _, c := range list {
		if _, ok := seen[c.Key()]; ok {
			continue
		}
		seen[c.Key()] = struct{}{}
		out = append(out, c)
	}
	return out
}

// run перебирает кандидатов операции по порядку из снимка конфигурации.
// call - вызов одного кандидата, клиент берется из реестра по имени вендора.
func run[R any](ctx context.Context, a *Agents, rc RunContext, op models.OperationType, stage models.Stage,
	call func(ctx context.Context, c models.VendorCandidate) (R, provider.Usage, error)) (R, error) {
	var zero R
	log := a.logger.With(
		zap.String("story_id", rc.StoryID.String()),
		zap.String("stage", string(stage)),
		zap.String("language", rc.Language),
	)

	candidates := dedupe(rc.Snapshot.Candidates(op, rc.Language))
	if len(candidates) == 0 {
		log.Error("No vendor configured for operation", zap.String("operation", string(op)))
		return zero, &StageFailure{Stage: stage, Code: models.ErrorCodeNoVendor, Err: models.ErrNoVendorConfigured}
	}

	failure := &StageFailure{Stage: stage, Code: models.ErrorCodeVendorUnavailable}
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			failure.Code = models.ErrorCodeTimeout
			failure.Err = err
			return zero, failure
		}
		failure.Attempts++

		callCtx, cancel := context.WithTimeout(ctx, candidateTimeout(c))
		startedAt := a.now()
		res, usage, err := call(callCtx, c)
		cancel()

		if errors.Is(err, errVendorNotRegistered) {
			// вызова не было, записи в журнал тоже нет
			log.Warn("Vendor from config is not registered, skipping", zap.String("vendor", c.Vendor))
			failure.Err = err
			continue
		}

		if recErr := a.record(ctx, rc, op, c, startedAt, usage, err); recErr != nil {
			log.Error("Failed to record usage", zap.Error(recErr))
			return zero, &StageFailure{Stage: stage, Code: models.ErrorCodeInternal, Attempts: failure.Attempts, Err: recErr}
		}

		if err == nil {
			log.Info("Stage completed",
				zap.String("vendor", c.Vendor),
				zap.String("model", c.Model),
				zap.Int("attempt", failure.Attempts),
				zap.Duration("latency", usage.Latency),
			)
			return res, nil
		}

		kind, ok := provider.KindOf(err)
		if !ok {
			kind = provider.KindUnavailable
		}
		failure.Code = kind.ErrorCode()
		failure.Err = err
		log.Warn("Vendor attempt failed",
			zap.String("vendor", c.Vendor),
			zap.String("model", c.Model),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		if !kind.Retryable() {
			return zero, failure
		}
	}

	if ctx.Err() != nil {
		failure.Code = models.ErrorCodeTimeout
	}
	return zero, failure
}

func (a *Agents) record(ctx context.Context, rc RunContext, op models.OperationType, c models.VendorCandidate, startedAt time.Time, usage provider.Usage, callErr error) error {
	latency := usage.Latency
	if latency == 0 {
		latency = a.now().Sub(startedAt)
	}
	rec := models.UsageRecord{
		ID:            uuid.New(),
		OwnerID:       rc.OwnerID,
		StoryID:       rc.StoryID,
		OperationType: op,
		Vendor:        c.Vendor,
		Model:         c.Model,
		CostUSD:       usage.CostUSD,
		LatencyMs:     latency.Milliseconds(),
		Success:       callErr == nil,
		Timestamp:     a.now().UTC(),
	}
	if callErr != nil {
		kind, ok := provider.KindOf(callErr)
		if !ok {
			kind = provider.KindUnavailable
		}
		k := string(kind)
		rec.ErrorKind = &k
	}
	// журнал пишем даже если контекст прогона уже отменен
	return a.usage.Record(context.WithoutCancel(ctx), rec)
}

var errVendorNotRegistered = errors.New("vendor is not registered")

func lookup[C any](get func(string) (C, error), vendor string) (C, error) {
	c, err := get(vendor)
	if err != nil {
		return c, fmt.Errorf("%w: %v", errVendorNotRegistered, err)
	}
	return c, nil
}
