// Package metrics exposes review counters and latencies for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docreview"

// Label values exported from the first scrape, before anything is counted.
var (
	reviewStatuses  = []string{"completed", "partial", "failed"}
	annotationPaths = []string{"structural", "fallback"}
	severities      = []string{"high", "medium", "low"}
)

// Metrics holds the collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	reviews         *prometheus.CounterVec
	reviewDuration  prometheus.Histogram
	llmDuration     *prometheus.HistogramVec
	annotations     *prometheus.CounterVec
	issues          *prometheus.CounterVec
	issuesUnlocated prometheus.Counter
}

// New registers the collectors. queueDepth, when set, backs the
// docreview_queue_depth gauge.
func New(queueDepth func() float64) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		reviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reviews_total",
			Help:      "Finished reviews by final status.",
		}, []string{"status"}),
		reviewDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "review_duration_seconds",
			Help:      "Wall time of a review job.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Latency of single LLM completion calls.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"provider"}),
		annotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotations_total",
			Help:      "Comments written, by path.",
		}, []string{"path"}),
		issues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issues_total",
			Help:      "Issues found, by severity.",
		}, []string{"severity"}),
		issuesUnlocated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issues_unlocated_total",
			Help:      "Issues that could not be matched to a paragraph.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.reviews, m.reviewDuration, m.llmDuration, m.annotations, m.issues, m.issuesUnlocated,
	)
	for _, v := range reviewStatuses {
		m.reviews.WithLabelValues(v)
	}
	for _, v := range annotationPaths {
		m.annotations.WithLabelValues(v)
	}
	for _, v := range severities {
		m.issues.WithLabelValues(v)
	}
	if queueDepth != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Review jobs waiting for a worker.",
		}, queueDepth))
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ReviewFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.reviews.WithLabelValues(status).Inc()
	m.reviewDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveLLM(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.llmDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) Annotations(structural, fallback int) {
	if m == nil {
		return
	}
	m.annotations.WithLabelValues("structural").Add(float64(structural))
	m.annotations.WithLabelValues("fallback").Add(float64(fallback))
}

func (m *Metrics) Issues(high, medium, low, unlocated int) {
	if m == nil {
		return
	}
	m.issues.WithLabelValues("high").Add(float64(high))
	m.issues.WithLabelValues("medium").Add(float64(medium))
	m.issues.WithLabelValues("low").Add(float64(low))
	m.issuesUnlocated.Add(float64(unlocated))
}
