package configservice

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"fairytale-server/shared/interfaces"
	"fairytale-server/shared/models"

	"go.uber.org/zap"
)

// Ключи скалярных настроек и значения по умолчанию.
const (
	ConfigKeyAppearanceProbability = "personalization.appearance_probability"
	ConfigKeyQuotaMaxCostUSD       = "quota.max_cost_usd"
	ConfigKeyQuotaMaxOperations    = "quota.max_operations"
	ConfigKeyQuotaWindow           = "quota.window"
	ConfigKeyReviewTokenTTL        = "review.token_ttl"

	DefaultAppearanceProbability = 0.5
	DefaultQuotaMaxCostUSD       = 5.0
	DefaultQuotaMaxOperations    = 200
	DefaultQuotaWindow           = 24 * time.Hour
	DefaultReviewTokenTTL        = 72 * time.Hour
)

// ConfigService управляет динамическими конфигурациями, загруженными из БД.
// Поверх сырых значений он держит неизменяемый Snapshot, который пересобирается при каждом Update.
type ConfigService struct {
	logger    *zap.Logger
	repo      interfaces.DynamicConfigRepository
	publisher interfaces.ConfigUpdatePublisher

	mu      sync.RWMutex
	configs map[string]string

	snapshot atomic.Pointer[Snapshot]
	version  atomic.Uint64
}

// NewConfigService создает сервис и загружает начальные конфигурации.
// publisher может быть nil: тогда изменения не рассылаются другим инстансам.
func NewConfigService(ctx context.Context, repo interfaces.DynamicConfigRepository, publisher interfaces.ConfigUpdatePublisher, logger *zap.Logger) (*ConfigService, error) {
	cs := &ConfigService{
		logger:    logger.Named("ConfigService"),
		repo:      repo,
		publisher: publisher,
		configs:   make(map[string]string),
	}
	if err := cs.Reload(ctx); err != nil {
		cs.logger.Error("Не удалось загрузить начальные динамические конфигурации", zap.Error(err))
		return nil, err
	}
	return cs, nil
}

// Reload перечитывает все конфигурации из репозитория.
func (cs *ConfigService) Reload(ctx context.Context) error {
	configs, err := cs.repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load dynamic configs: %w", err)
	}

	fresh := make(map[string]string, len(configs))
	for _, cfg := range configs {
		fresh[cfg.Key] = cfg.Value
	}

	cs.mu.Lock()
	cs.configs = fresh
	cs.mu.Unlock()

	cs.rebuild()
	cs.logger.Info("Динамические конфигурации загружены", zap.Int("count", len(fresh)))
	return nil
}

// Snapshot возвращает текущий неизменяемый снимок. Запуск пайплайна берет его один раз.
func (cs *ConfigService) Snapshot() *Snapshot {
	return cs.snapshot.Load()
}

// Update применяет изменение, пришедшее из очереди или от админского API.
// Некорректный список вендоров отбрасывается, предыдущее значение остается.
func (cs *ConfigService) Update(config models.DynamicConfig) {
	if err := ValidateEntry(config.Key, config.Value); err != nil {
		cs.logger.Warn("Отклонено некорректное обновление конфигурации", zap.String("key", config.Key), zap.Error(err))
		return
	}
	cs.mu.Lock()
	cs.configs[config.Key] = config.Value
	cs.mu.Unlock()

	cs.logger.Info("Обновление динамической конфигурации в кэше", zap.String("key", config.Key))
	cs.rebuild()
}

// Set сохраняет значение в БД, применяет локально и рассылает остальным инстансам.
func (cs *ConfigService) Set(ctx context.Context, key, value string) (*models.DynamicConfig, error) {
	if err := ValidateEntry(key, value); err != nil {
		return nil, err
	}
	cfg := &models.DynamicConfig{Key: key, Value: value}
	if err := cs.repo.Upsert(ctx, cfg); err != nil {
		return nil, err
	}
	cs.Update(*cfg)

	if cs.publisher != nil {
		if err := cs.publisher.PublishConfigUpdate(ctx, *cfg); err != nil {
			// Локально значение уже применено, остальные инстансы подхватят его при рестарте.
			cs.logger.Error("Не удалось разослать обновление конфигурации", zap.String("key", key), zap.Error(err))
		}
	}
	return cfg, nil
}

// All возвращает копию всех сырых значений.
func (cs *ConfigService) All() map[string]string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]string, len(cs.configs))
	for k, v := range cs.configs {
		out[k] = v
	}
	return out
}

func (cs *ConfigService) get(key string) (string, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	val, ok := cs.configs[key]
	return val, ok
}

// GetString возвращает строковое значение или значение по умолчанию.
func (cs *ConfigService) GetString(key string, defaultValue string) string {
	val, ok := cs.get(key)
	if !ok || val == "" {
		return defaultValue
	}
	return val
}

// GetInt возвращает целочисленное значение или значение по умолчанию.
func (cs *ConfigService) GetInt(key string, defaultValue int) int {
	strVal, ok := cs.get(key)
	if !ok {
		return defaultValue
	}
	intVal, err := strconv.Atoi(strVal)
	if err != nil {
		cs.logger.Warn("Ошибка парсинга int, используется значение по умолчанию", zap.String("key", key), zap.String("value", strVal), zap.Error(err))
		return defaultValue
	}
	return intVal
}

// GetFloat возвращает float64 значение или значение по умолчанию.
func (cs *ConfigService) GetFloat(key string, defaultValue float64) float64 {
	strVal, ok := cs.get(key)
	if !ok {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(strVal, 64)
	if err != nil {
		cs.logger.Warn("Ошибка парсинга float64, используется значение по умолчанию", zap.String("key", key), zap.String("value", strVal), zap.Error(err))
		return defaultValue
	}
	return floatVal
}

// GetDuration возвращает time.Duration значение или значение по умолчанию.
func (cs *ConfigService) GetDuration(key string, defaultValue time.Duration) time.Duration {
	strVal, ok := cs.get(key)
	if !ok {
		return defaultValue
	}
	durationVal, err := time.ParseDuration(strVal)
	if err != nil {
		cs.logger.Warn("Ошибка парсинга time.Duration, используется значение по умолчанию", zap.String("key", key), zap.String("value", strVal), zap.Error(err))
		return defaultValue
	}
	return durationVal
}

// rebuild собирает новый Snapshot из текущих значений и атомарно подменяет указатель.
func (cs *ConfigService) rebuild() {
	raw := cs.All()
	vendors := make(map[models.OperationType]map[string][]models.VendorCandidate)
	for key, value := range raw {
		op, lang, ok := models.ParseVendorKey(key)
		if !ok {
			continue
		}
		candidates, err := models.ParseVendorCandidates(value)
		if err != nil {
			cs.logger.Warn("Пропущен некорректный список вендоров", zap.String("key", key), zap.Error(err))
			continue
		}
		if vendors[op] == nil {
			vendors[op] = make(map[string][]models.VendorCandidate)
		}
		vendors[op][lang] = candidates
	}

	snap := &Snapshot{
		Version:               cs.version.Add(1),
		TakenAt:               time.Now().UTC(),
		vendors:               vendors,
		AppearanceProbability: clampProbability(cs.GetFloat(ConfigKeyAppearanceProbability, DefaultAppearanceProbability)),
		Quota: QuotaLimits{
			MaxCostUSD:    cs.GetFloat(ConfigKeyQuotaMaxCostUSD, DefaultQuotaMaxCostUSD),
			MaxOperations: int64(cs.GetInt(ConfigKeyQuotaMaxOperations, DefaultQuotaMaxOperations)),
			Window:        cs.GetDuration(ConfigKeyQuotaWindow, DefaultQuotaWindow),
		},
		ReviewTokenTTL: cs.GetDuration(ConfigKeyReviewTokenTTL, DefaultReviewTokenTTL),
	}
	cs.snapshot.Store(snap)
	cs.logger.Debug("Снимок конфигурации пересобран", zap.Uint64("version", snap.Version))
}

// ValidateEntry проверяет значение перед сохранением.
func ValidateEntry(key, value string) error {
	if key == "" {
		return fmt.Errorf("%w: empty config key", models.ErrInvalidInput)
	}
	if _, _, ok := models.ParseVendorKey(key); ok {
		_, err := models.ParseVendorCandidates(value)
		return err
	}
	switch key {
	case ConfigKeyAppearanceProbability, ConfigKeyQuotaMaxCostUSD:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return fmt.Errorf("%w: %s must be a number", models.ErrInvalidInput, key)
		}
	case ConfigKeyQuotaMaxOperations:
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("%w: %s must be an integer", models.ErrInvalidInput, key)
		}
	case ConfigKeyQuotaWindow, ConfigKeyReviewTokenTTL:
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%w: %s must be a duration", models.ErrInvalidInput, key)
		}
	}
	return nil
}

func clampProbability(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
