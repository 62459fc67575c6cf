package authority

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector defines the interface for collecting authority metrics
type MetricsCollector interface {
	RecordCommand(commandType, outcome string)
	RecordBatchProcessed(count int, duration time.Duration)
	RecordWriteFailure(op string)
	RecordBeep(mode string)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordCommand(commandType, outcome string)              {}
func (NoOpMetricsCollector) RecordBatchProcessed(count int, duration time.Duration) {}
func (NoOpMetricsCollector) RecordWriteFailure(op string)                           {}
func (NoOpMetricsCollector) RecordBeep(mode string)                                 {}

// No session id labels: sessions are unbounded.
var (
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cuecard_authority_commands_total",
		Help: "Commands taken off the queue, by type and outcome.",
	}, []string{"type", "outcome"})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cuecard_authority_batch_size",
		Help:    "Pending commands per processed snapshot.",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
	})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cuecard_authority_batch_duration_seconds",
		Help:    "Time spent processing one command snapshot.",
		Buckets: prometheus.DefBuckets,
	})

	WriteFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cuecard_authority_write_failures_total",
		Help: "Failed store writes, by operation.",
	}, []string{"op"})

	BeepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cuecard_authority_beeps_total",
		Help: "Overtime beeps fired, by overtime mode.",
	}, []string{"mode"})
)

// PrometheusMetrics implements MetricsCollector using Prometheus
type PrometheusMetrics struct{}

func (PrometheusMetrics) RecordCommand(commandType, outcome string) {
	CommandsTotal.WithLabelValues(commandType, outcome).Inc()
}

func (PrometheusMetrics) RecordBatchProcessed(count int, duration time.Duration) {
	BatchSize.Observe(float64(count))
	BatchDuration.Observe(duration.Seconds())
}

func (PrometheusMetrics) RecordWriteFailure(op string) {
	WriteFailuresTotal.WithLabelValues(op).Inc()
}

func (PrometheusMetrics) RecordBeep(mode string) {
	BeepsTotal.WithLabelValues(mode).Inc()
}
