package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/metrics"
)

// Metrics exposes subscriber and delivery collectors.
type Metrics struct {
	subscribers      prometheus.Gauge
	deliveryFailures prometheus.Counter
	published        *prometheus.CounterVec
}

// MustNewMetrics registers the broadcaster collectors with reg.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		subscribers: metrics.Register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "broadcaster",
			Name:      "subscribers",
			Help:      "Push handles currently registered across all tasks.",
		})),
		deliveryFailures: metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "broadcaster",
			Name:      "delivery_failures_total",
			Help:      "Handles dropped because an event could not be delivered.",
		})),
		published: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "broadcaster",
			Name:      "events_published_total",
			Help:      "Events fanned out, by kind.",
		}, []string{"kind"})),
	}
}

func (m *Metrics) addSubscribers(delta int) {
	if m == nil {
		return
	}
	m.subscribers.Add(float64(delta))
}

func (m *Metrics) incDeliveryFailure() {
	if m == nil {
		return
	}
	m.deliveryFailures.Inc()
}

func (m *Metrics) incPublished(kind string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(kind).Inc()
}
