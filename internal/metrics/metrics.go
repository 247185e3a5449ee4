package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ipsix/scamshield/internal/risk"
)

// Scan outcomes.
const (
	OutcomeSettled = "settled"
	OutcomeErrored = "errored"
	OutcomeDropped = "dropped"
)

// Metrics owns a private registry.
type Metrics struct {
	registry *prometheus.Registry

	scans           *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	serviceRequests *prometheus.HistogramVec
	banners         *prometheus.CounterVec
	jobRuns         *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scamshield_scans_total",
			Help: "Completed scan procedures by outcome.",
		}, []string{"outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scamshield_fallback_total",
			Help: "Domain heuristic fallbacks by verdict.",
		}, []string{"result"}),
		serviceRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scamshield_service_request_seconds",
			Help:    "Risk scoring service request latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"outcome"}),
		banners: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scamshield_banners_total",
			Help: "Warning banners delivered by risk level.",
		}, []string{"level"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scamshield_maintenance_runs_total",
			Help: "Maintenance job runs by job and status.",
		}, []string{"job", "status"}),
	}
	m.registry.MustRegister(
		m.scans,
		m.fallbacks,
		m.serviceRequests,
		m.banners,
		m.jobRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveScan(outcome string) {
	m.scans.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveServiceRequest(outcome string, elapsed time.Duration) {
	m.serviceRequests.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveFallback(result string) {
	m.fallbacks.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveBanner(level risk.Level) {
	m.banners.WithLabelValues(string(level)).Inc()
}

func (m *Metrics) ObserveJob(job, status string) {
	m.jobRuns.WithLabelValues(job, status).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
