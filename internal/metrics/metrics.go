// ABOUTME: Prometheus collectors for auth outcomes, lockouts and HTTP traffic
// ABOUTME: Implements auth.Recorder and serves the registry over HTTP

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/nursery-gateway/internal/auth"
)

const namespace = "nursery"

// Sizes reports the current size of in-memory auth state.
type Sizes struct {
	RevokedTokens  func() int
	TrackedSources func() int
}

// Metrics holds the gateway's collectors.
type Metrics struct {
	registry *prometheus.Registry

	resolutions *prometheus.CounterVec
	failures    *prometheus.CounterVec
	lockouts    prometheus.Counter

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var _ auth.Recorder = (*Metrics)(nil)

// New creates and registers all collectors. Nil size funcs are skipped.
func New(sizes Sizes) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_resolutions_total",
			Help:      "Successful credential resolutions by principal kind.",
		}, []string{"principal"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Failed credential resolutions by failure kind.",
		}, []string{"kind"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_lockouts_total",
			Help:      "Sources locked out by the brute-force guard.",
		}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.resolutions,
		m.failures,
		m.lockouts,
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
	)

	if sizes.RevokedTokens != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "auth_revoked_tokens",
			Help:      "Revoked tokens still held by the revocation registry.",
		}, func() float64 { return float64(sizes.RevokedTokens()) }))
	}
	if sizes.TrackedSources != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "auth_guard_tracked_sources",
			Help:      "Sources with failed login attempts tracked by the brute-force guard.",
		}, func() float64 { return float64(sizes.TrackedSources()) }))
	}

	return m
}

// Resolved counts a successful resolution.
func (m *Metrics) Resolved(kind auth.PrincipalKind) {
	m.resolutions.WithLabelValues(string(kind)).Inc()
}

// ResolutionFailed counts a failed resolution.
func (m *Metrics) ResolutionFailed(kind auth.ErrorKind) {
	m.failures.WithLabelValues(string(kind)).Inc()
}

// LockedOut counts a guard lockout.
func (m *Metrics) LockedOut() {
	m.lockouts.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Instrument records request counts and latencies. Requests are labelled by
// chi route pattern so ids in paths do not explode cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := strconv.Itoa(sw.code)

		m.httpDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(r.Method, route, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}
