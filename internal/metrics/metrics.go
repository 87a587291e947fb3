package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lostctl/internal/engine"
)

const namespace = "lostctl"

// Metrics holds the engine and job metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Invocations     *prometheus.CounterVec
	Duration        *prometheus.HistogramVec
	InFlight        prometheus.Gauge
	Identifications *prometheus.CounterVec
	EngineAvailable prometheus.Gauge
}

// New creates and registers all metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "invocations_total",
				Help:      "Engine invocations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),

		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "duration_seconds",
				Help:      "Engine invocation wall time in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"operation"},
		),

		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "in_flight",
				Help:      "Jobs currently being processed",
			},
		),

		Identifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "identify",
				Name:      "results_total",
				Help:      "Identify results by variant and whether the attitude was known",
			},
			[]string{"variant", "known"},
		),

		EngineAvailable: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "available",
				Help:      "Engine availability (0=missing, 1=available)",
			},
		),
	}

	m.registry.MustRegister(
		m.Invocations,
		m.Duration,
		m.InFlight,
		m.Identifications,
		m.EngineAvailable,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveInvocation makes Metrics an engine.Observer.
func (m *Metrics) ObserveInvocation(rec engine.Record) {
	op := string(rec.Operation)
	m.Invocations.WithLabelValues(op, Outcome(rec.Err)).Inc()
	m.Duration.WithLabelValues(op).Observe(rec.Duration.Seconds())
}

// ObserveAttitude counts one identify result.
func (m *Metrics) ObserveAttitude(variant string, att engine.Attitude) {
	known := "false"
	if att.Identified() {
		known = "true"
	}
	m.Identifications.WithLabelValues(variant, known).Inc()
}

// SetEngineStatus records the result of an engine check.
func (m *Metrics) SetEngineStatus(status engine.Status) {
	if status.Available {
		m.EngineAvailable.Set(1)
		return
	}
	m.EngineAvailable.Set(0)
}

// Outcome maps an invocation error to a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, engine.ErrConfiguration):
		return "configuration"
	case errors.Is(err, engine.ErrLaunch):
		return "launch_failed"
	case errors.Is(err, engine.ErrTimeout):
		return "timeout"
	case errors.Is(err, engine.ErrEngineFailure):
		return "engine_failed"
	case errors.Is(err, engine.ErrMissingOutput):
		return "missing_output"
	case errors.Is(err, engine.ErrMalformedResult):
		return "malformed"
	default:
		return "error"
	}
}
