// Package metrics exposes the Prometheus collectors of the decision pipeline
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"irrigation-backend/internal/models"
)

const namespace = "irrigation"

type Metrics struct {
	registry prometheus.Gatherer

	cacheLookups   *prometheus.CounterVec
	decisions      *prometheus.CounterVec
	computeLatency prometheus.Histogram
	batchFlushes   *prometheus.CounterVec
	batchSize      prometheus.Histogram
	batchFailures  prometheus.Counter
	pendingWindow  prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	mqttMessages   *prometheus.CounterVec
}

// New registers every collector on a fresh registry
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers every collector on reg
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Fingerprint cache lookups by result.",
		}, []string{"result"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Computed decisions by source.",
		}, []string{"source"}),
		computeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_compute_seconds",
			Help:      "Time spent computing one decision.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1},
		}),
		batchFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_flushes_total",
			Help:      "Batch window flushes by trigger.",
		}, []string{"trigger"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Unique fingerprints per flushed window.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		batchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_failures_total",
			Help:      "Windows whose computation failed.",
		}),
		pendingWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_window_size",
			Help:      "Fingerprints waiting in the open batch window.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		mqttMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_messages_total",
			Help:      "MQTT messages handled by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}

	reg.MustRegister(
		m.cacheLookups,
		m.decisions,
		m.computeLatency,
		m.batchFlushes,
		m.batchSize,
		m.batchFailures,
		m.pendingWindow,
		m.httpRequests,
		m.httpDuration,
		m.mqttMessages,
	)

	for _, s := range models.Sources() {
		m.decisions.WithLabelValues(string(s))
	}

	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) Flushed(trigger string, size int) {
	if m == nil {
		return
	}
	m.batchFlushes.WithLabelValues(trigger).Inc()
	m.batchSize.Observe(float64(size))
}

func (m *Metrics) Computed(source models.Source, took time.Duration) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(source)).Inc()
	m.computeLatency.Observe(took.Seconds())
}

func (m *Metrics) BatchFailed() {
	if m == nil {
		return
	}
	m.batchFailures.Inc()
}

func (m *Metrics) Pending(n int) {
	if m == nil {
		return
	}
	m.pendingWindow.Set(float64(n))
}

// HTTPRequest records one served request
func (m *Metrics) HTTPRequest(route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(took.Seconds())
}

// MQTTMessage records one handled message, e.g. ("reading", "ok")
func (m *Metrics) MQTTMessage(kind, outcome string) {
	if m == nil {
		return
	}
	m.mqttMessages.WithLabelValues(kind, outcome).Inc()
}
