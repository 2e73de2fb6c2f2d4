package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	deliveriesTotal    *prometheus.CounterVec
	deliveryAttempts   prometheus.Histogram
	deliveryDuration   prometheus.Histogram
	validationFailures *prometheus.CounterVec
	stepEntries        *prometheus.CounterVec
	storageErrors      *prometheus.CounterVec
	lockoutHits        prometheus.Counter
}

// NewPrometheusRecorder creates a new Prometheus-based metrics recorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		deliveriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_deliveries_total",
				Help: "Total number of submission deliveries by outcome",
			},
			[]string{"status"},
		),
		deliveryAttempts: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "intake_delivery_attempts",
				Help:    "Delivery attempts used per submission",
				Buckets: []float64{1, 2, 3, 4, 5},
			},
		),
		deliveryDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "intake_delivery_duration_seconds",
				Help:    "Total duration of submission deliveries including backoff",
				Buckets: prometheus.DefBuckets,
			},
		),
		validationFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_validation_failures_total",
				Help: "Validation failures by step and failure kind",
			},
			[]string{"step", "kind"},
		),
		stepEntries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_step_entries_total",
				Help: "Step entries by step ID",
			},
			[]string{"step"},
		),
		storageErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_storage_errors_total",
				Help: "Storage problems by class (probe, quota, write)",
			},
			[]string{"class"},
		),
		lockoutHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "intake_lockout_hits_total",
				Help: "Submissions refused by the duplicate-submission lockout",
			},
		),
	}
}

// ObserveDelivery records a completed submission delivery attempt.
func (p *PrometheusRecorder) ObserveDelivery(success bool, attempts int, duration time.Duration) {
	status := "success"
	if !success {
		status = "exhausted"
	}
	p.deliveriesTotal.WithLabelValues(status).Inc()
	p.deliveryAttempts.Observe(float64(attempts))
	p.deliveryDuration.Observe(duration.Seconds())
}

// IncValidationFailure increments the failure counter for a step/kind pair.
func (p *PrometheusRecorder) IncValidationFailure(stepID, kind string) {
	p.validationFailures.WithLabelValues(stepID, kind).Inc()
}

// IncStepEntered increments the entry counter for a step.
func (p *PrometheusRecorder) IncStepEntered(stepID string) {
	p.stepEntries.WithLabelValues(stepID).Inc()
}

// IncStorageError counts storage problems by class.
func (p *PrometheusRecorder) IncStorageError(class string) {
	p.storageErrors.WithLabelValues(class).Inc()
}

// IncLockoutHit counts submissions refused by the duplicate lockout.
func (p *PrometheusRecorder) IncLockoutHit() {
	p.lockoutHits.Inc()
}
