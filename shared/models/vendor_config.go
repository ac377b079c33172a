package models

import (
	"fmt"
	"strings"
	"time"

	"fairytale-server/shared/utils"
)

// DynamicConfig представляет динамически настраиваемый параметр.
type DynamicConfig struct {
	Key       string    `json:"key" db:"key"`
	Value     string    `json:"value" db:"value"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// VendorKeyPrefix - префикс ключей таблицы вендоров: vendors.<operation>.<language>.
const VendorKeyPrefix = "vendors."

// DefaultLanguage - строка таблицы, используемая, если для языка нет своей.
const DefaultLanguage = "default"

// CandidateParams - параметры конкретного вендора/модели.
type CandidateParams struct {
	Voice       string   `json:"voice,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"topP,omitempty"`
	MaxTokens   int      `json:"maxTokens,omitempty"`
	Size        string   `json:"size,omitempty"`
	Ratio       string   `json:"ratio,omitempty"`
	Speed       float64  `json:"speed,omitempty"`
	TimeoutSec  int      `json:"timeoutSec,omitempty"`
}

// VendorCandidate - один элемент упорядоченного списка вендоров.
type VendorCandidate struct {
	Vendor string          `json:"vendor"`
	Model  string          `json:"model"`
	Params CandidateParams `json:"params"`
}

// Key идентифицирует пару вендор+модель.
func (c VendorCandidate) Key() string {
	return c.Vendor + "/" + c.Model
}

// VendorKey строит ключ динамической конфигурации для операции и языка.
func VendorKey(op OperationType, language string) string {
	return VendorKeyPrefix + string(op) + "." + strings.ToLower(language)
}

// ParseVendorKey разбирает ключ vendors.<operation>.<language>.
func ParseVendorKey(key string) (OperationType, string, bool) {
	if !strings.HasPrefix(key, VendorKeyPrefix) {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(key, VendorKeyPrefix), ".", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", false
	}
	op := OperationType(parts[0])
	if !op.Valid() {
		return "", "", false
	}
	return op, parts[1], true
}

// ParseVendorCandidates разбирает JSON-массив кандидатов и проверяет обязательные поля.
// Неизвестные ключи (опечатки в params) отклоняются.
func ParseVendorCandidates(raw string) ([]VendorCandidate, error) {
	var candidates []VendorCandidate
	if err := utils.DecodeStrict([]byte(raw), &candidates); err != nil {
		return nil, fmt.Errorf("%w: vendor list is not a JSON array: %v", ErrInvalidInput, err)
	}
	for i, c := range candidates {
		if c.Vendor == "" || c.Model == "" {
			return nil, fmt.Errorf("%w: candidate %d must have vendor and model", ErrInvalidInput, i)
		}
	}
	return candidates, nil
}
