// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heart_risk_predictions_total",
			Help: "Total number of predictions served, by verdict",
		},
		[]string{"verdict", "transport"},
	)

	PredictionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heart_risk_prediction_failures_total",
			Help: "Total number of failed prediction requests, by error code",
		},
		[]string{"error_code", "transport"},
	)

	PredictionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "heart_risk_prediction_duration_seconds",
			Help:    "Duration of the inference pipeline in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		},
		[]string{"transport"},
	)

	PredictionProbability = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "heart_risk_prediction_probability",
			Help:    "Distribution of positive-class probabilities",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 9),
		},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heart_risk_cache_lookups_total",
			Help: "Prediction cache lookups, by result (hit, miss, invalid, error)",
		},
		[]string{"result"},
	)

	SideEffectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heart_risk_side_effect_failures_total",
			Help: "Failures of post-prediction collaborators (store, cache, alerts)",
		},
		[]string{"collaborator"},
	)

	ModelReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "heart_risk_model_ready",
			Help: "1 when the model artifacts are loaded, 0 when the service is disabled",
		},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)

// SetModelReady flips the readiness gauge.
func SetModelReady(ready bool) {
	if ready {
		ModelReady.Set(1)
		return
	}
	ModelReady.Set(0)
}
