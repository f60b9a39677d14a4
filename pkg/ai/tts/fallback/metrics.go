package fallback

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "tts_fallback"

// adapterMetrics is the Prometheus surface for one FallbackAdapter
// instance. Unlike package-level collectors, these are registered per
// adapter against an injectable Registerer so multiple adapters (or
// repeated test construction) never collide on double-registration.
type adapterMetrics struct {
	backendAvailable    *prometheus.GaugeVec
	transitionsTotal    *prometheus.CounterVec
}

func newAdapterMetrics(reg prometheus.Registerer, adapterID string) *adapterMetrics {
	labels := prometheus.Labels{"adapter": adapterID}

	m := &adapterMetrics{
		backendAvailable: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   metricsNamespace,
				Name:        "backend_available",
				Help:        "1 if the backend is currently considered available, 0 otherwise",
				ConstLabels: labels,
			},
			[]string{"backend"},
		),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   metricsNamespace,
				Name:        "availability_transitions_total",
				Help:        "Total number of availability transitions per backend",
				ConstLabels: labels,
			},
			[]string{"backend", "direction"}, // direction: up, down
		),
	}

	if reg != nil {
		// Registration errors (e.g. re-registering the same adapter ID
		// under the default registerer in tests) are non-fatal: metrics
		// are an observability aid, not load-bearing for correctness.
		_ = reg.Register(m.backendAvailable)
		_ = reg.Register(m.transitionsTotal)
	}

	return m
}

func (m *adapterMetrics) observe(backendLabel string, available bool) {
	if m == nil {
		return
	}
	val := 0.0
	direction := "down"
	if available {
		val = 1.0
		direction = "up"
	}
	m.backendAvailable.WithLabelValues(backendLabel).Set(val)
	m.transitionsTotal.WithLabelValues(backendLabel, direction).Inc()
}

// backendLabel renders a stable-ish label for a Backend without requiring
// it to implement Stringer.
func backendLabel(b Backend, index int) string {
	if s, ok := b.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("backend-%d", index)
}
