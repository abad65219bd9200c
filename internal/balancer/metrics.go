package balancer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records per-upstream dispatch counts, durations, and picker
// cache effectiveness, separate from the shared observability.Metrics
// registry so a Dispatcher can be exercised without a gateway-wide
// metrics instance in tests.
type Metrics struct {
	dispatchesTotal   *prometheus.CounterVec
	dispatchDuration  *prometheus.HistogramVec
	pickerCacheHits   *prometheus.CounterVec
	pickerCacheMisses *prometheus.CounterVec
}

// NewMetrics creates balancer metrics registered against registry.
func NewMetrics(registry *prometheus.Registry, namespace string) *Metrics {
	if namespace == "" {
		namespace = "avapigw"
	}

	m := &Metrics{
		dispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "balancer",
				Name:      "dispatches_total",
				Help:      "Total dispatch attempts by upstream and outcome",
			},
			[]string{"upstream", "outcome"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "balancer",
				Name:      "dispatch_duration_seconds",
				Help:      "Dispatch attempt latency by upstream and outcome",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"upstream", "outcome"},
		),
		pickerCacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "balancer",
				Name:      "picker_cache_hits_total",
				Help:      "Picker cache hits by upstream",
			},
			[]string{"upstream"},
		),
		pickerCacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "balancer",
				Name:      "picker_cache_misses_total",
				Help:      "Picker cache misses (builds) by upstream",
			},
			[]string{"upstream"},
		),
	}

	registry.MustRegister(m.dispatchesTotal, m.dispatchDuration, m.pickerCacheHits, m.pickerCacheMisses)
	return m
}

// RecordDispatch records one completed attempt's outcome and latency.
func (m *Metrics) RecordDispatch(upstream, outcome string, d time.Duration) {
	m.dispatchesTotal.WithLabelValues(upstream, outcome).Inc()
	m.dispatchDuration.WithLabelValues(upstream, outcome).Observe(d.Seconds())
}

// RecordPickerCacheHit increments the picker cache hit counter for upstream.
func (m *Metrics) RecordPickerCacheHit(upstream string) {
	m.pickerCacheHits.WithLabelValues(upstream).Inc()
}

// RecordPickerCacheMiss increments the picker cache miss counter for
// upstream.
func (m *Metrics) RecordPickerCacheMiss(upstream string) {
	m.pickerCacheMisses.WithLabelValues(upstream).Inc()
}
