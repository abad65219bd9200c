package healthcheck

import "github.com/prometheus/client_golang/prometheus"

// Metrics records per-checker probe outcomes and state transitions,
// separate from the shared observability.Metrics registry so a checker
// can be exercised without a gateway-wide metrics instance in tests.
type Metrics struct {
	probesTotal   *prometheus.CounterVec
	endpointState *prometheus.GaugeVec
	endpointUp    *prometheus.GaugeVec
}

// NewMetrics creates health-check metrics registered against registry.
func NewMetrics(registry *prometheus.Registry, namespace string) *Metrics {
	if namespace == "" {
		namespace = "avapigw"
	}

	m := &Metrics{
		probesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "healthcheck",
				Name:      "probes_total",
				Help:      "Total active/passive health probes recorded",
			},
			[]string{"checker", "outcome"},
		),
		endpointState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "healthcheck",
				Name:      "endpoint_state",
				Help:      "Endpoint state (0=healthy .. 3=unhealthy)",
			},
			[]string{"checker", "endpoint"},
		),
		endpointUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "healthcheck",
				Name:      "endpoint_up",
				Help:      "Endpoint dispatch eligibility (1=eligible, 0=not)",
			},
			[]string{"checker", "endpoint"},
		),
	}

	registry.MustRegister(m.probesTotal, m.endpointState, m.endpointUp)
	return m
}

// SetEndpointState records the numeric state gauge for an endpoint.
func (m *Metrics) SetEndpointState(checker, endpoint string, state int) {
	m.endpointState.WithLabelValues(checker, endpoint).Set(float64(state))
}

// SetEndpointHealth records the eligibility gauge for an endpoint.
func (m *Metrics) SetEndpointHealth(checker, endpoint string, eligible bool) {
	value := 0.0
	if eligible {
		value = 1.0
	}
	m.endpointUp.WithLabelValues(checker, endpoint).Set(value)
}

// RecordProbe increments the probe counter for checker/outcome.
func (m *Metrics) RecordProbe(checker, outcome string) {
	m.probesTotal.WithLabelValues(checker, outcome).Inc()
}
