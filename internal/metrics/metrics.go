// Package metrics exposes Prometheus instruments for the pipeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for blogpilot.
type Metrics struct {
	FilesProcessedTotal *prometheus.CounterVec
	FileDuration        prometheus.Histogram

	ModelCallsTotal  *prometheus.CounterVec
	ModelTokensTotal *prometheus.CounterVec
	ModelCallLatency *prometheus.HistogramVec

	QualityScore     *prometheus.HistogramVec
	RewritesTotal    prometheus.Counter
	DegradedReviews  prometheus.Counter
	PublishesTotal   *prometheus.CounterVec
	BackpatchesTotal *prometheus.CounterVec
	RetryQueueDepth  prometheus.Gauge
	LockContention   prometheus.Counter
}

// NewMetrics creates and registers the metrics once per process.
//
// Metrics:
//   - blogpilot_files_processed_total{outcome} - files finished per outcome
//   - blogpilot_file_duration_seconds - wall time per file
//   - blogpilot_model_calls_total{task,model,status} - model calls including failures
//   - blogpilot_model_tokens_total{model,direction} - prompt and completion tokens
//   - blogpilot_model_call_duration_seconds{task} - model call latency
//   - blogpilot_quality_composite{category} - review composite scores
//   - blogpilot_rewrites_total - rewrite cycles triggered by the gate
//   - blogpilot_degraded_reviews_total - reviews that failed open
//   - blogpilot_publishes_total{status} - publish attempts by result
//   - blogpilot_series_backpatches_total{status} - previous-member patches
//   - blogpilot_retry_queue_depth - pending failed-ingest records
//   - blogpilot_lock_contention_total - files skipped because they were locked
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			FilesProcessedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "blogpilot_files_processed_total",
					Help: "Total number of files finished, by outcome",
				},
				[]string{"outcome"}, // published, duplicate, draft, review, deferred, skipped
			),
			FileDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "blogpilot_file_duration_seconds",
					Help:    "Time spent processing one file",
					Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
				},
			),
			ModelCallsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "blogpilot_model_calls_total",
					Help: "Total number of model calls, including failed attempts",
				},
				[]string{"task", "model", "status"},
			),
			ModelTokensTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "blogpilot_model_tokens_total",
					Help: "Total number of tokens reported by the model",
				},
				[]string{"model", "direction"}, // prompt, completion
			),
			ModelCallLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "blogpilot_model_call_duration_seconds",
					Help:    "Duration of model calls in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"task"},
			),
			QualityScore: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "blogpilot_quality_composite",
					Help:    "Composite review score",
					Buckets: []float64{2, 4, 5, 6, 7, 8, 9, 10},
				},
				[]string{"category"},
			),
			RewritesTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "blogpilot_rewrites_total",
					Help: "Total number of rewrite cycles",
				},
			),
			DegradedReviews: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "blogpilot_degraded_reviews_total",
					Help: "Total number of reviews that failed open",
				},
			),
			PublishesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "blogpilot_publishes_total",
					Help: "Total number of publish attempts",
				},
				[]string{"status"},
			),
			BackpatchesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "blogpilot_series_backpatches_total",
					Help: "Total number of series back-patches",
				},
				[]string{"status"},
			),
			RetryQueueDepth: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "blogpilot_retry_queue_depth",
					Help: "Number of pending failed-ingest records",
				},
			),
			LockContention: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "blogpilot_lock_contention_total",
					Help: "Files skipped because another worker held the lock",
				},
			),
		}
	})
	return globalMetrics
}

// RecordModelCall records one model call.
func (m *Metrics) RecordModelCall(task, model string, promptTokens, completionTokens int, seconds float64, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ModelCallsTotal.WithLabelValues(task, model, status).Inc()
	m.ModelTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	m.ModelTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	m.ModelCallLatency.WithLabelValues(task).Observe(seconds)
}

// RecordOutcome counts a finished file.
func (m *Metrics) RecordOutcome(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.FilesProcessedTotal.WithLabelValues(outcome).Inc()
	if seconds > 0 {
		m.FileDuration.Observe(seconds)
	}
}

// RecordReview observes one quality review.
func (m *Metrics) RecordReview(category string, composite float64, degraded bool) {
	if m == nil {
		return
	}
	m.QualityScore.WithLabelValues(category).Observe(composite)
	if degraded {
		m.DegradedReviews.Inc()
	}
}

// RecordRewrites counts rewrite cycles.
func (m *Metrics) RecordRewrites(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RewritesTotal.Add(float64(n))
}

// RecordPublish counts a publish attempt by result.
func (m *Metrics) RecordPublish(status string) {
	if m == nil {
		return
	}
	m.PublishesTotal.WithLabelValues(status).Inc()
}

// RecordBackpatch counts a series back-patch by result.
func (m *Metrics) RecordBackpatch(status string) {
	if m == nil {
		return
	}
	m.BackpatchesTotal.WithLabelValues(status).Inc()
}

// SetRetryQueueDepth reports the pending failed-ingest records.
func (m *Metrics) SetRetryQueueDepth(n int) {
	if m == nil {
		return
	}
	m.RetryQueueDepth.Set(float64(n))
}

// RecordLockContention counts a file skipped because it was locked.
func (m *Metrics) RecordLockContention() {
	if m == nil {
		return
	}
	m.LockContention.Inc()
}
