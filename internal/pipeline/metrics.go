package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/metrics"
)

// Metrics exposes Prometheus collectors that report pipeline activity.
type Metrics struct {
	stageDuration   *prometheus.HistogramVec
	stageFailures   *prometheus.CounterVec
	pipelines       *prometheus.CounterVec
	pipelinesActive prometheus.Gauge
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Collectors already registered with reg are reused.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		stageDuration: metrics.Register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Duration spent in each pipeline stage.",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"stage", "status"},
		)),
		stageFailures: metrics.Register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "pipeline",
				Name:      "stage_failures_total",
				Help:      "Stage executions that failed, by reason.",
			},
			[]string{"stage", "reason"},
		)),
		pipelines: metrics.Register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Finished pipeline runs, by final task status.",
			},
			[]string{"status"},
		)),
		pipelinesActive: metrics.Register(reg, prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metrics.Namespace,
				Subsystem: "pipeline",
				Name:      "runs_active",
				Help:      "Pipelines currently executing.",
			},
		)),
	}
}

func (m *Metrics) observeStage(stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

func (m *Metrics) incStageFailure(stage, reason string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage, reason).Inc()
}

func (m *Metrics) incFinished(status string) {
	if m == nil {
		return
	}
	m.pipelines.WithLabelValues(status).Inc()
}

func (m *Metrics) trackActive() func() {
	if m == nil {
		return func() {}
	}
	m.pipelinesActive.Inc()
	return m.pipelinesActive.Dec
}
