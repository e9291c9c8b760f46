package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the Prometheus collectors exported on /metrics. A nil *Metrics
// is valid and records nothing, which keeps tests free of registry setup.
type Metrics struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	captures      *prometheus.CounterVec
	compensations *prometheus.CounterVec
	notifications *prometheus.CounterVec
	transitions   *prometheus.CounterVec
}

// NewMetrics registers the API collectors on a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storefront",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "order_captures_total",
			Help:      "Payment capture attempts by outcome.",
		}, []string{"outcome"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "order_saga_compensations_total",
			Help:      "Capture saga compensations by step and result.",
		}, []string{"step", "result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "order_notifications_total",
			Help:      "Order status notifications by result.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "order_status_transitions_total",
			Help:      "Order status transitions by target status and whether they followed the standard flow.",
		}, []string{"status", "in_flow"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.latency, m.captures, m.compensations, m.notifications, m.transitions,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records a completed HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(latency.Seconds())
}

// CaptureOutcome counts a capture attempt ("captured", "rejected", "failed", "compensated").
func (m *Metrics) CaptureOutcome(outcome string) {
	if m == nil {
		return
	}
	m.captures.WithLabelValues(outcome).Inc()
}

// Compensation counts a saga compensation for step.
func (m *Metrics) Compensation(step string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.compensations.WithLabelValues(step, result).Inc()
}

// Notification counts a notification outcome ("sent", "failed", "skipped").
func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

// StatusTransition counts an applied order status change.
func (m *Metrics) StatusTransition(status string, inFlow bool) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status, strconv.FormatBool(inFlow)).Inc()
}
