package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"fairytale-server/shared/models"

	"github.com/ollama/ollama/api"
	openaigo "github.com/sashabaranov/go-openai"
)

// ErrorKind - класс ошибки вендора. Других вариантов нет:
// любая ошибка клиента приводится к одному из них на границе клиента.
type ErrorKind string

const (
	KindRateLimited     ErrorKind = "rate_limited"
	KindTimeout         ErrorKind = "timeout"
	KindSafetyBlocked   ErrorKind = "safety_blocked"
	KindUnavailable     ErrorKind = "unavailable"
	KindInvalidResponse ErrorKind = "invalid_response"
)

// Retryable сообщает, можно ли пробовать следующего вендора.
// SafetyBlocked не переносится на другого вендора.
func (k ErrorKind) Retryable() bool {
	return k != KindSafetyBlocked
}

// ErrorCode возвращает безопасный для клиента код ошибки.
func (k ErrorKind) ErrorCode() models.ErrorCode {
	switch k {
	case KindRateLimited:
		return models.ErrorCodeRateLimited
	case KindTimeout:
		return models.ErrorCodeTimeout
	case KindSafetyBlocked:
		return models.ErrorCodeSafetyBlocked
	case KindInvalidResponse:
		return models.ErrorCodeInvalidResponse
	default:
		return models.ErrorCodeVendorUnavailable
	}
}

// ProviderError - типизированная ошибка вызова вендора.
// Err хранит исходную ошибку только для логов, наружу (в API и errorDetail) она не попадает.
type ProviderError struct {
	Kind   ErrorKind
	Vendor string
	Model  string
	Op     models.OperationType
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s/%s: %s", e.Op, e.Vendor, e.Model, e.Kind)
	}
	return fmt.Sprintf("%s %s/%s: %s: %v", e.Op, e.Vendor, e.Model, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// KindOf извлекает ErrorKind из цепочки ошибок.
func KindOf(err error) (ErrorKind, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

func newError(kind ErrorKind, vendor, model string, op models.OperationType, err error) *ProviderError {
	return &ProviderError{Kind: kind, Vendor: vendor, Model: model, Op: op, Err: err}
}

// classifyHTTPStatus сопоставляет HTTP статус ответа вендора с ErrorKind.
func classifyHTTPStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status == http.StatusUnavailableForLegalReasons:
		return KindSafetyBlocked
	case status >= 200 && status < 300:
		return KindInvalidResponse
	default:
		return KindUnavailable
	}
}

var safetyMarkers = []string{"content_policy_violation", "content_filter", "safety", "moderation"}

func looksLikeSafety(parts ...string) bool {
	for _, p := range parts {
		p = strings.ToLower(p)
		for _, m := range safetyMarkers {
			if strings.Contains(p, m) {
				return true
			}
		}
	}
	return false
}

// classify приводит произвольную ошибку транспорта/SDK к ErrorKind.
// ctx - контекст вызова, по нему отличаем таймаут от прочих сетевых ошибок.
func classify(ctx context.Context, err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return KindTimeout
	}

	var apiErr *openaigo.APIError
	if errors.As(err, &apiErr) {
		code, _ := apiErr.Code.(string)
		inner := ""
		if apiErr.InnerError != nil {
			inner = apiErr.InnerError.Code
		}
		if looksLikeSafety(code, inner, apiErr.Type) {
			return KindSafetyBlocked
		}
		return classifyHTTPStatus(apiErr.HTTPStatusCode)
	}

	var reqErr *openaigo.RequestError
	if errors.As(err, &reqErr) {
		return classifyHTTPStatus(reqErr.HTTPStatusCode)
	}

	var ollamaErr api.StatusError
	if errors.As(err, &ollamaErr) {
		return classifyHTTPStatus(ollamaErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindUnavailable
}
