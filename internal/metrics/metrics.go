// Package metrics holds the Prometheus collectors exported by streamgate.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	tokensIssued    prometheus.Counter
	cacheLookups    *prometheus.CounterVec
	resolveDuration *prometheus.HistogramVec
	failures        *prometheus.CounterVec
	prewarm         *prometheus.CounterVec

	httpRequests *prometheus.HistogramVec
	inFlight     prometheus.Gauge
}

// New registers the collectors on a fresh registry alongside the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		tokensIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_playback_tokens_issued_total",
			Help: "Playback tokens minted.",
		}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgate_resolution_cache_lookups_total",
			Help: "Resolution cache lookups by result.",
		}, []string{"result"}), // hit, miss
		resolveDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamgate_resolve_duration_seconds",
			Help:    "Time spent in the extraction adapter.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}), // success, failure
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgate_playback_failures_total",
			Help: "Gateway failures by error code.",
		}, []string{"code"}),
		prewarm: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgate_prewarm_jobs_total",
			Help: "Background prewarm jobs by result.",
		}, []string{"result"}), // queued, dropped, done, failed
		httpRequests: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamgate_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamgate_http_requests_in_flight",
			Help: "Current number of HTTP requests being served.",
		}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TokenIssued() {
	if m == nil {
		return
	}
	m.tokensIssued.Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Resolve(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.resolveDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) Failure(code string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(code).Inc()
}

func (m *Metrics) Prewarm(result string) {
	if m == nil {
		return
	}
	m.prewarm.WithLabelValues(result).Inc()
}

// Middleware records request latency labelled by the matched route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
