package configservice

import (
	"slices"
	"strings"
	"time"

	"fairytale-server/shared/models"
)

// QuotaLimits - пороги квоты владельца. Нулевой порог отключает соответствующую проверку.
type QuotaLimits struct {
	MaxCostUSD    float64
	MaxOperations int64
	Window        time.Duration
}

// Snapshot - неизменяемый снимок динамической конфигурации на момент запуска пайплайна.
type Snapshot struct {
	Version uint64
	TakenAt time.Time

	vendors map[models.OperationType]map[string][]models.VendorCandidate

	AppearanceProbability float64
	Quota                 QuotaLimits
	ReviewTokenTTL        time.Duration
}

// NewSnapshot собирает снимок вручную (тесты, статическая конфигурация).
func NewSnapshot(vendors map[models.OperationType]map[string][]models.VendorCandidate, probability float64, quota QuotaLimits, tokenTTL time.Duration) *Snapshot {
	copied := make(map[models.OperationType]map[string][]models.VendorCandidate, len(vendors))
	for op, byLang := range vendors {
		copied[op] = make(map[string][]models.VendorCandidate, len(byLang))
		for lang, list := range byLang {
			copied[op][strings.ToLower(lang)] = slices.Clone(list)
		}
	}
	return &Snapshot{
		TakenAt:               time.Now().UTC(),
		vendors:               copied,
		AppearanceProbability: clampProbability(probability),
		Quota:                 quota,
		ReviewTokenTTL:        tokenTTL,
	}
}

// Candidates возвращает упорядоченный список вендоров для операции и языка.
// Порядок поиска: точный язык, базовый язык ("en-US" -> "en"), строка default.
func (s *Snapshot) Candidates(op models.OperationType, language string) []models.VendorCandidate {
	if s == nil {
		return nil
	}
	byLang := s.vendors[op]
	if byLang == nil {
		return nil
	}
	lang := strings.ToLower(language)
	for _, key := range lookupOrder(lang) {
		if list, ok := byLang[key]; ok && len(list) > 0 {
			return slices.Clone(list)
		}
	}
	return nil
}

func lookupOrder(lang string) []string {
	order := make([]string, 0, 3)
	if lang != "" {
		order = append(order, lang)
		if base, _, found := strings.Cut(lang, "-"); found && base != "" {
			order = append(order, base)
		}
	}
	return append(order, models.DefaultLanguage)
}
