// Package obs holds the Prometheus metrics for the HTTP layer and the document core.
package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg prometheus.Gatherer

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	transitions  *prometheus.CounterVec
	decisions    *prometheus.CounterVec
	stepUp       *prometheus.CounterVec
	auditDropped prometheus.Counter
	notifyErrors prometheus.Counter
}

// New creates the collectors and registers them in reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		reg: reg,
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docvault_document_transitions_total",
			Help: "Document lifecycle operations by kind and outcome.",
		}, []string{"op", "outcome"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docvault_access_denials_total",
			Help: "Access decisions denied, by action and reason.",
		}, []string{"action", "reason"}),
		stepUp: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docvault_step_up_total",
			Help: "Step-up grants and raw view outcomes.",
		}, []string{"event"}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docvault_audit_dropped_total",
			Help: "Audit entries dropped because the queue was full or the write failed.",
		}),
		notifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docvault_notify_errors_total",
			Help: "Document event notifications that failed to publish.",
		}),
	}
	reg.MustRegister(m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
		m.transitions, m.decisions, m.stepUp, m.auditDropped, m.notifyErrors)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Instrument measures request count, latency and in-flight requests, labelled
// by the matched chi route pattern so ids do not explode cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := strconv.Itoa(sw.code)
		m.httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

// Transition counts a lifecycle operation (upload, issue, verify, reject) by outcome.
func (m *Metrics) Transition(op, outcome string) {
	if m != nil {
		m.transitions.WithLabelValues(op, outcome).Inc()
	}
}

// Denied counts an access denial.
func (m *Metrics) Denied(action, reason string) {
	if m != nil {
		m.decisions.WithLabelValues(action, reason).Inc()
	}
}

// StepUp counts a step-up event such as granted, failed, raw_view or reuse.
func (m *Metrics) StepUp(event string) {
	if m != nil {
		m.stepUp.WithLabelValues(event).Inc()
	}
}

// AuditDropped counts a lost audit entry.
func (m *Metrics) AuditDropped() {
	if m != nil {
		m.auditDropped.Inc()
	}
}

// NotifyFailed counts a failed event publication.
func (m *Metrics) NotifyFailed() {
	if m != nil {
		m.notifyErrors.Inc()
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
