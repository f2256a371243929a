package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hls-gateway/internal/platform/events"
)

// Metrics holds Prometheus counters and gauges for the gateway.
type Metrics struct {
	registry           *prometheus.Registry
	requestsTotal      *prometheus.CounterVec
	errorsTotal        prometheus.Counter
	activeSessions     prometheus.Gauge
	sessionTransitions *prometheus.CounterVec
	capturesTotal      *prometheus.CounterVec
}

// New creates and registers Prometheus metrics for the gateway.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_gateway_requests_total",
		Help: "Total number of HTTP requests received, by route pattern and status code",
	}, []string{"route", "code"})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_gateway_http_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hls_gateway_active_sessions",
		Help: "Number of registered stream sessions (starting or ready)",
	})
	sessionTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_gateway_session_transitions_total",
		Help: "Total number of session status transitions, by target status",
	}, []string{"status"})
	capturesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_gateway_captures_total",
		Help: "Total number of still-frame captures, by result",
	}, []string{"result"})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		activeSessions,
		sessionTransitions,
		capturesTotal,
	)

	return &Metrics{
		registry:           registry,
		requestsTotal:      requestsTotal,
		errorsTotal:        errorsTotal,
		activeSessions:     activeSessions,
		sessionTransitions: sessionTransitions,
		capturesTotal:      capturesTotal,
	}
}

// IncRequests increments the request counter for route and status code.
func (m *Metrics) IncRequests(route, code string) {
	m.requestsTotal.WithLabelValues(route, code).Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// ObserveTransition counts a session entering status.
func (m *Metrics) ObserveTransition(status string) {
	m.sessionTransitions.WithLabelValues(status).Inc()
}

// ObserveCapture counts a capture attempt as "ok" or "failed".
func (m *Metrics) ObserveCapture(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.capturesTotal.WithLabelValues(result).Inc()
}

// Subscribe feeds lifecycle events from bus into the counters. The returned
// function removes the subscriptions.
func (m *Metrics) Subscribe(bus *events.Bus) func() {
	unsubState := events.Subscribe(bus, func(e events.SessionStateChanged) {
		m.ObserveTransition(e.To)
	})
	unsubCapture := events.Subscribe(bus, func(e events.CaptureFinished) {
		m.ObserveCapture(e.Err == "")
	})
	return func() {
		unsubState()
		unsubCapture()
	}
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
