package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "story_generator_stage_duration_seconds",
		Help:    "Duration of pipeline stages.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
	}, []string{"stage", "outcome"})

	runsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "story_generator_runs_finished_total",
		Help: "Pipeline runs by resulting story status.",
	}, []string{"status"})

	runFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "story_generator_run_failures_total",
		Help: "Failed pipeline runs by error code and stage.",
	}, []string{"code", "stage"})

	staleSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "story_generator_stale_runs_swept_total",
		Help: "Stories moved to error by the stale run sweeper.",
	})
)
