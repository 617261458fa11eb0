// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submissions_total",
			Help: "Submission attempts by final result",
		},
		[]string{"result"},
	)

	SubmissionStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "submission_stage_duration_seconds",
			Help:    "Duration of each submission stage in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"stage"},
	)

	SubmissionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "submissions_in_flight",
			Help: "Submissions currently uploading or dispatching",
		},
	)

	ExtractedImages = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "extracted_images_per_document",
			Help:    "Embedded images found per rich-text answer",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		},
	)

	ValidationViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validation_violations_total",
			Help: "Image payload validation violations by rule",
		},
		[]string{"rule"},
	)

	UploadOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_outcomes_total",
			Help: "Upload outcomes by kind and fallback reason",
		},
		[]string{"kind", "reason"},
	)

	UploadedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "uploaded_image_bytes_total",
			Help: "Bytes of drawing images written to object storage",
		},
	)

	AttemptStoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attempt_store_operations_total",
			Help: "Attempt store operations by backend, operation and result",
		},
		[]string{"backend", "operation", "result"},
	)

	SceneRestores = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scene_restores_total",
			Help: "Retry scene restorations by result",
		},
		[]string{"result"},
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
)
