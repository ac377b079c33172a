package provider

import (
	"fairytale-server/shared/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	providerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_generator_provider_requests_total",
			Help: "Total number of requests to AI vendors.",
		},
		[]string{"vendor", "model", "operation", "status"}, // status: success или ErrorKind
	)
	providerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_generator_provider_request_duration_seconds",
			Help:    "Histogram of AI vendor request durations.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		},
		[]string{"vendor", "operation"},
	)
	providerTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_generator_provider_tokens_total",
			Help: "Prompt and completion tokens consumed.",
		},
		[]string{"vendor", "model", "kind"}, // kind: prompt|completion
	)
	providerEstimatedCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_generator_provider_estimated_cost_usd_total",
			Help: "Estimated total cost of AI vendor requests in USD.",
		},
		[]string{"vendor", "model"},
	)
)

// observe фиксирует метрики одного вызова.
func observe(vendor, model string, op models.OperationType, usage Usage, err error) {
	status := "success"
	if kind, ok := KindOf(err); ok {
		status = string(kind)
	} else if err != nil {
		status = "error"
	}
	providerRequestsTotal.WithLabelValues(vendor, model, string(op), status).Inc()
	providerRequestDuration.WithLabelValues(vendor, string(op)).Observe(usage.Latency.Seconds())
	if usage.PromptTokens > 0 {
		providerTokens.WithLabelValues(vendor, model, "prompt").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		providerTokens.WithLabelValues(vendor, model, "completion").Add(float64(usage.CompletionTokens))
	}
	if usage.CostUSD > 0 {
		providerEstimatedCostUSD.WithLabelValues(vendor, model).Add(usage.CostUSD)
	}
}
