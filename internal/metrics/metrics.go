// Package metrics provides Prometheus metrics for the IST insights service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns a private registry and the service's collectors. A nil
// *Manager is valid and records nothing.
type Manager struct {
	namespace        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	reportsComputed   *prometheus.CounterVec
	reportLatency     prometheus.Histogram
	reportEvents      *prometheus.GaugeVec
	cacheLookups      *prometheus.CounterVec
	extractions       *prometheus.CounterVec
	extractionLatency prometheus.Histogram
	eventsStored      *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithHistogramBuckets sets custom histogram buckets for latency metrics.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.histogramBuckets = buckets
		}
	}
}

// NewManager creates a manager registered on a fresh registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "ist",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.reportsComputed = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "report",
		Name:      "computed_total",
		Help:      "Class reports served, by source (computed or cache)",
	}, []string{"source"})

	m.reportLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "report",
		Name:      "compute_seconds",
		Help:      "Time spent loading events and computing a class report",
		Buckets:   m.histogramBuckets,
	})

	m.reportEvents = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "report",
		Name:      "events",
		Help:      "Events in the most recently computed report per course",
	}, []string{"course_id"})

	m.cacheLookups = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Report cache lookups by result (hit or miss)",
	}, []string{"result"})

	m.extractions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "extractor",
		Name:      "requests_total",
		Help:      "IST extraction calls by outcome",
	}, []string{"outcome"})

	m.extractionLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "extractor",
		Name:      "latency_seconds",
		Help:      "IST extraction latency including retries",
		Buckets:   m.histogramBuckets,
	})

	m.eventsStored = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "store",
		Name:      "events_saved_total",
		Help:      "IST events persisted by outcome",
	}, []string{"outcome"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by handler and status code",
	}, []string{"handler", "code"})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveReport records one served report.
func (m *Manager) ObserveReport(courseID string, events int, fromCache bool, took time.Duration) {
	if m == nil {
		return
	}
	if fromCache {
		m.reportsComputed.WithLabelValues("cache").Inc()
		return
	}
	m.reportsComputed.WithLabelValues("computed").Inc()
	m.reportLatency.Observe(took.Seconds())
	m.reportEvents.WithLabelValues(courseID).Set(float64(events))
}

// ObserveCache records a cache lookup.
func (m *Manager) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveExtraction records one extraction call.
func (m *Manager) ObserveExtraction(err error, took time.Duration) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(outcome(err)).Inc()
	m.extractionLatency.Observe(took.Seconds())
}

// ObserveStore records one event save.
func (m *Manager) ObserveStore(err error) {
	if m == nil {
		return
	}
	m.eventsStored.WithLabelValues(outcome(err)).Inc()
}

// ObserveHTTP records one handled request.
func (m *Manager) ObserveHTTP(handler string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(handler, strconv.Itoa(code)).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
