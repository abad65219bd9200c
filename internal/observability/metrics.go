package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics shared across the dispatch core:
// router, balancer, and health checker each record through the same
// registry so a single /metrics endpoint covers the whole module.
type Metrics struct {
	dispatchesTotal  *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	activeDispatches *prometheus.GaugeVec
	endpointHealth   *prometheus.GaugeVec
	endpointState    *prometheus.GaugeVec
	buildInfo        *prometheus.GaugeVec
	startTime        prometheus.Gauge
	registry         *prometheus.Registry
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "avapigw"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.dispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Total number of balancer dispatch attempts",
		},
		[]string{"route", "outcome"},
	)

	m.dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent selecting and invoking an endpoint",
			Buckets: []float64{
				.001, .005, .01, .025, .05,
				.1, .25, .5, 1, 2.5, 5, 10,
			},
		},
		[]string{"route", "outcome"},
	)

	m.activeDispatches = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_dispatches",
			Help:      "Number of in-flight dispatch attempts",
		},
		[]string{"route"},
	)

	m.endpointHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "endpoint_healthy",
			Help:      "Endpoint eligibility for dispatch (1=eligible, 0=not)",
		},
		[]string{"upstream", "endpoint"},
	)

	m.endpointState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "endpoint_state",
			Help: "Endpoint health state " +
				"(0=healthy, 1=mostly_healthy, 2=mostly_unhealthy, 3=unhealthy)",
		},
		[]string{"upstream", "endpoint"},
	)

	m.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)

	m.startTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "start_time_seconds",
			Help:      "Start time in unix seconds",
		},
	)

	m.registerCollectors()

	m.startTime.SetToCurrentTime()

	return m
}

func (m *Metrics) registerCollectors() {
	m.registry.MustRegister(
		m.dispatchesTotal,
		m.dispatchDuration,
		m.activeDispatches,
		m.endpointHealth,
		m.endpointState,
		m.buildInfo,
		m.startTime,
	)

	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
	)
}

// RecordDispatch records a completed dispatch attempt. outcome is a small
// fixed vocabulary ("success", "timeout", "tcp_failure", "http_error") to
// keep cardinality bounded.
func (m *Metrics) RecordDispatch(route, outcome string, duration time.Duration) {
	m.dispatchesTotal.WithLabelValues(route, outcome).Inc()
	m.dispatchDuration.WithLabelValues(route, outcome).Observe(duration.Seconds())
}

// IncrementActiveDispatches increments the in-flight dispatch gauge.
func (m *Metrics) IncrementActiveDispatches(route string) {
	m.activeDispatches.WithLabelValues(route).Inc()
}

// DecrementActiveDispatches decrements the in-flight dispatch gauge.
func (m *Metrics) DecrementActiveDispatches(route string) {
	m.activeDispatches.WithLabelValues(route).Dec()
}

// SetEndpointHealth sets the dispatch-eligibility gauge for an endpoint.
func (m *Metrics) SetEndpointHealth(upstream, endpoint string, eligible bool) {
	value := 0.0
	if eligible {
		value = 1.0
	}
	m.endpointHealth.WithLabelValues(upstream, endpoint).Set(value)
}

// SetEndpointState sets the numeric health-state gauge for an endpoint
// (0=healthy .. 3=unhealthy).
func (m *Metrics) SetEndpointState(upstream, endpoint string, state int) {
	m.endpointState.WithLabelValues(upstream, endpoint).Set(float64(state))
}

// SetBuildInfo sets the build information metric.
func (m *Metrics) SetBuildInfo(version, commit, buildTime string) {
	m.buildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// Handler returns an HTTP handler for the metrics endpoint. The dispatch
// core has no HTTP server of its own; callers embedding it mount this at
// whatever path they expose.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(
		m.registry,
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	)
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterCollector registers an additional collector with the shared
// registry, so per-package metrics (router, balancer, healthcheck) land
// on the same /metrics endpoint.
func (m *Metrics) RegisterCollector(c prometheus.Collector) error {
	return m.registry.Register(c)
}

// MustRegisterCollector registers an additional collector, panicking on
// error.
func (m *Metrics) MustRegisterCollector(c prometheus.Collector) {
	m.registry.MustRegister(c)
}

// statusLabel converts an HTTP status code to its string label form,
// used by callers building "outcome" labels from a passive report.
func statusLabel(status int) string {
	return strconv.Itoa(status)
}
