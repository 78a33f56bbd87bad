// Package metrics exposes the Prometheus collectors of the license gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "license_gateway"

// Metrics holds every collector, registered on a private registry
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	Validations     *prometheus.CounterVec
	Activations     *prometheus.CounterVec
	Deactivations   *prometheus.CounterVec
	Heartbeats      *prometheus.CounterVec
	EventsRecorded  prometheus.Counter
	EventsDropped   prometheus.Counter
	EventSinkErrors prometheus.Counter
	EventQueueDepth prometheus.Gauge
	RateLimited     prometheus.Counter
	StreamClients   prometheus.Gauge
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		Validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "validations_total",
			Help: "License validations by outcome.",
		}, []string{"result"}),
		Activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "activations_total",
			Help: "Activation requests by outcome.",
		}, []string{"result"}),
		Deactivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "deactivations_total",
			Help: "Deactivation requests by outcome.",
		}, []string{"result"}),
		Heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "heartbeats_total",
			Help: "Heartbeats by outcome.",
		}, []string{"result"}),
		EventsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_recorded_total",
			Help: "Audit events written to the sink.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_dropped_total",
			Help: "Audit events dropped because the queue was full.",
		}),
		EventSinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "event_sink_errors_total",
			Help: "Audit events the sink failed to write.",
		}),
		EventQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "event_queue_depth",
			Help: "Audit events waiting to be written.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter.",
		}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "event_stream_clients",
			Help: "Connected live event stream clients.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests, m.HTTPDuration,
		m.Validations, m.Activations, m.Deactivations, m.Heartbeats,
		m.EventsRecorded, m.EventsDropped, m.EventSinkErrors, m.EventQueueDepth,
		m.RateLimited, m.StreamClients,
	)
	return m
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one finished HTTP request
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Outcome labels a business result: "ok" on success, otherwise the reason
func Outcome(success bool, reason string) string {
	if success {
		return "ok"
	}
	if reason == "" {
		return "error"
	}
	return reason
}
