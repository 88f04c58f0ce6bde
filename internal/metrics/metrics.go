// Package metrics holds the Prometheus collectors of the judge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns every metric on a private registry.
type Collector struct {
	Registry *prometheus.Registry

	ExecutionsTotal   *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	IdleSandboxes     *prometheus.GaugeVec
	SandboxesCreated  *prometheus.CounterVec
	SandboxesDisposed *prometheus.CounterVec
	InFlight          prometheus.Gauge
	RejectedTotal     prometheus.Counter
	RateLimitHits     prometheus.Counter
}

// New creates a Collector with all metrics registered.
func New() *Collector {
	reg := prometheus.NewRegistry()

	m := &Collector{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "javabox",
			Name:      "executions_total",
			Help:      "Finished pipeline runs by mode and status.",
		}, []string{"mode", "status"}),

		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "javabox",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of the compile and run stages.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),

		IdleSandboxes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "javabox",
			Subsystem: "pool",
			Name:      "idle_sandboxes",
			Help:      "Idle sandboxes waiting in the pool.",
		}, []string{"flavor"}),

		SandboxesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "javabox",
			Subsystem: "pool",
			Name:      "sandboxes_created_total",
			Help:      "Sandboxes provisioned.",
		}, []string{"flavor"}),

		SandboxesDisposed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "javabox",
			Subsystem: "pool",
			Name:      "sandboxes_disposed_total",
			Help:      "Sandboxes destroyed, by reason.",
		}, []string{"reason"}),

		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "javabox",
			Subsystem: "admission",
			Name:      "in_flight",
			Help:      "Requests currently inside the execution pipeline.",
		}),

		RejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "javabox",
			Subsystem: "admission",
			Name:      "rejected_total",
			Help:      "Requests rejected by validation before reaching the pipeline.",
		}),

		RateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "javabox",
			Subsystem: "http",
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.StageDuration,
		m.IdleSandboxes,
		m.SandboxesCreated,
		m.SandboxesDisposed,
		m.InFlight,
		m.RejectedTotal,
		m.RateLimitHits,
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
