package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/upb/vision-gateway/services/fallback"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	// AttemptsTotal counts provider calls by candidate and result
	AttemptsTotal *prometheus.CounterVec

	// AttemptLatency tracks provider call latency
	AttemptLatency *prometheus.HistogramVec

	// BackoffSeconds accumulates time slept between transient retries
	BackoffSeconds *prometheus.CounterVec

	// RunsTotal counts finished orchestration runs by outcome and verdict
	RunsTotal *prometheus.CounterVec

	// RunAttempts tracks how many attempts a run needed
	RunAttempts prometheus.Histogram

	// HTTPRequestsTotal counts API requests
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPRequestDuration tracks API request latency
	HTTPRequestDuration *prometheus.HistogramVec
}

var _ fallback.Metrics = (*Metrics)(nil)

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		AttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_attempts_total",
				Help: "Total number of provider calls",
			},
			[]string{"provider", "candidate", "result"},
		),
		AttemptLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_attempt_latency_seconds",
				Help:    "Provider call latency in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
			},
			[]string{"provider", "candidate"},
		),
		BackoffSeconds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_backoff_seconds_total",
				Help: "Total time spent waiting between transient retries",
			},
			[]string{"provider", "candidate"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_runs_total",
				Help: "Total number of orchestration runs",
			},
			[]string{"outcome", "verdict"},
		),
		RunAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gateway_run_attempts",
				Help:    "Attempts made per orchestration run",
				Buckets: []float64{1, 2, 3, 4, 6, 9, 12, 18},
			},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAttempt records one provider call.
func (m *Metrics) ObserveAttempt(record fallback.AttemptRecord) {
	provider := providerOf(record.Candidate)

	result := "success"
	if !record.Succeeded() {
		result = record.Classification.String()
	}

	m.AttemptsTotal.WithLabelValues(provider, record.Candidate, result).Inc()
	m.AttemptLatency.WithLabelValues(provider, record.Candidate).Observe(record.Latency.Seconds())
	if record.Wait > 0 {
		m.BackoffSeconds.WithLabelValues(provider, record.Candidate).Add(record.Wait.Seconds())
	}
}

// ObserveOutcome records one finished run.
func (m *Metrics) ObserveOutcome(report *fallback.Report) {
	m.RunsTotal.WithLabelValues(string(report.Outcome), string(report.Verdict)).Inc()
	m.RunAttempts.Observe(float64(report.Attempts))
}

// Middleware records request counts and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// providerOf returns the provider prefix of a qualified candidate ID.
func providerOf(candidate string) string {
	if i := strings.Index(candidate, "/"); i > 0 {
		return candidate[:i]
	}
	return "default"
}
