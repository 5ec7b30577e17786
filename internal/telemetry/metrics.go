// internal/telemetry/metrics.go
package telemetry

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/FairForge/gatekeep/internal/pipeline"
)

var (
	evaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeep_evaluations_total",
			Help: "Total number of pipeline evaluations",
		},
		[]string{"outcome"},
	)

	evaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gatekeep_evaluation_duration_seconds",
			Help:    "End-to-end evaluation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	rejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeep_rejections_total",
			Help: "Total number of rejections by error kind",
		},
		[]string{"kind", "validator"},
	)

	validatorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatekeep_validator_duration_seconds",
			Help:    "Validator execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"validator"},
	)

	validatorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeep_validator_failures_total",
			Help: "Total number of validator failures",
		},
		[]string{"validator"},
	)

	cacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeep_cache_hits_total",
			Help: "Total number of verdict cache hits",
		},
	)

	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeep_cache_misses_total",
			Help: "Total number of verdict cache misses",
		},
	)
)

// Collector bridges pipeline activity into Prometheus.
type Collector struct{}

// NewCollector creates a metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordEvaluation records one completed evaluation.
func (c *Collector) RecordEvaluation(err error, duration time.Duration) {
	evaluationDuration.Observe(duration.Seconds())

	if err == nil {
		evaluationsTotal.WithLabelValues("passed").Inc()
		return
	}

	kind, ok := pipeline.KindOf(err)
	if !ok {
		evaluationsTotal.WithLabelValues("aborted").Inc()
		return
	}

	evaluationsTotal.WithLabelValues("rejected").Inc()

	validator := ""
	var ve *pipeline.ValidationError
	if errors.As(err, &ve) {
		validator = ve.Validator
	}
	rejectionsTotal.WithLabelValues(kind.String(), validator).Inc()
}

// ObserveSample records one validator execution sample.
func (c *Collector) ObserveSample(s pipeline.Sample) {
	if s.CacheHit {
		cacheHits.Inc()
	} else {
		cacheMisses.Inc()
		validatorDuration.WithLabelValues(s.Validator).Observe(s.Latency.Seconds())
	}
	if !s.Success {
		validatorFailures.WithLabelValues(s.Validator).Inc()
	}
}
