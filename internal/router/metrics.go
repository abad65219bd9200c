package router

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments trie rebuilds and dispatch outcomes (§4.1, §8).
type Metrics struct {
	rebuildsTotal prometheus.Counter
	confVersion   prometheus.Gauge
	dispatchTotal *prometheus.CounterVec
}

// NewMetrics creates router metrics registered against registry.
func NewMetrics(registry *prometheus.Registry, namespace string) *Metrics {
	if namespace == "" {
		namespace = "avapigw"
	}

	m := &Metrics{
		rebuildsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "trie_rebuilds_total",
			Help:      "Total number of trie rebuilds triggered by a conf_version change",
		}),
		confVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "conf_version",
			Help:      "conf_version of the trie currently installed",
		}),
		dispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "dispatch_total",
				Help:      "Total Dispatch calls by route and outcome",
			},
			[]string{"route", "outcome"},
		),
	}

	registry.MustRegister(m.rebuildsTotal, m.confVersion, m.dispatchTotal)
	return m
}

// RecordRebuild increments the trie rebuild counter.
func (m *Metrics) RecordRebuild() {
	if m == nil {
		return
	}
	m.rebuildsTotal.Inc()
}

// SetConfVersion records the conf_version of the trie just installed.
func (m *Metrics) SetConfVersion(v uint64) {
	if m == nil {
		return
	}
	m.confVersion.Set(float64(v))
}

// RecordDispatch records one Dispatch call's outcome for route ("" when
// no route matched).
func (m *Metrics) RecordDispatch(route, outcome string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(route, outcome).Inc()
}
