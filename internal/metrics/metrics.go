// Package metrics exposes check and API activity as Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datadavev/mnstatus/internal/checker"
	"github.com/datadavev/mnstatus/internal/scheduler"
)

// Check outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeHTTP      = "http_error"
	OutcomeTransport = "transport_error"
)

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	reg *prometheus.Registry

	checks       *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	inFlight     *prometheus.GaugeVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		checks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mnstatus_checks_total",
			Help: "Completed checks by category and outcome.",
		}, []string{"category", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mnstatus_check_duration_seconds",
			Help:    "Check duration in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"category"}),
		inFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mnstatus_checks_in_flight",
			Help: "Admitted checks not yet released, by category.",
		}, []string{"category"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mnstatus_http_requests_total",
			Help: "API requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mnstatus_http_request_duration_seconds",
			Help:    "API request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Observe records one completed check. Its signature matches the
// scheduler's result callback.
func (m *Metrics) Observe(_ string, r checker.CheckResult) {
	c := string(r.Category)
	m.checks.WithLabelValues(c, Outcome(r.Status)).Inc()
	m.duration.WithLabelValues(c).Observe(r.Elapsed.Seconds())
}

// Outcome classifies a check status.
func Outcome(status int) string {
	switch {
	case status == http.StatusOK:
		return OutcomeOK
	case status > 0:
		return OutcomeHTTP
	default:
		return OutcomeTransport
	}
}

type admitter struct {
	next  scheduler.Admitter
	gauge *prometheus.GaugeVec
}

// Admitter wraps next so admissions and releases move the in-flight gauge.
func (m *Metrics) Admitter(next scheduler.Admitter) scheduler.Admitter {
	return &admitter{next: next, gauge: m.inFlight}
}

func (a *admitter) TryAdmit(c checker.Category) bool {
	if !a.next.TryAdmit(c) {
		return false
	}
	a.gauge.WithLabelValues(string(c)).Inc()
	return true
}

func (a *admitter) Release(c checker.Category) {
	a.next.Release(c)
	a.gauge.WithLabelValues(string(c)).Dec()
}

func (a *admitter) Limit(c checker.Category) (int, bool) {
	if l, ok := a.next.(interface {
		Limit(checker.Category) (int, bool)
	}); ok {
		return l.Limit(c)
	}
	return 0, false
}

// Changed forwards the wrapped admitter's release signal, or returns nil
// when it has none.
func (a *admitter) Changed() <-chan struct{} {
	if n, ok := a.next.(interface{ Changed() <-chan struct{} }); ok {
		return n.Changed()
	}
	return nil
}

// Middleware records request counts and durations, labelled by the chi
// route pattern to keep node identifiers out of the label set.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		m.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
