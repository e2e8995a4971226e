package scheduler

import (
	"time"

	"github.com/func/seeder/failure"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsNamespace is the namespace of all seeder metrics.
const MetricsNamespace = "seeder"

// Metrics tracks queue and reconciliation metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Depth      prometheus.Gauge
	InProgress prometheus.Gauge
	Duration   *prometheus.HistogramVec // [result]
}

// NewMetrics creates the scheduler metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "queue_depth",
			Help:      "Number of seeds waiting for a worker.",
		}),
		InProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "reconciles_in_progress",
			Help:      "Number of seed reconciliations currently running.",
		}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of seed reconciliations in seconds.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		}, []string{"result"}),
	}
	reg.MustRegister(m.Depth, m.InProgress, m.Duration)
	return m
}

func (m *Metrics) setDepth(n int) {
	if m == nil {
		return
	}
	m.Depth.Set(float64(n))
}

func (m *Metrics) running(delta float64) {
	if m == nil {
		return
	}
	m.InProgress.Add(delta)
}

func (m *Metrics) observe(err error, d time.Duration) {
	if m == nil {
		return
	}
	m.Duration.WithLabelValues(result(err)).Observe(d.Seconds())
}

func result(err error) string {
	if err == nil {
		return "success"
	}
	return failure.KindOf(err).String()
}
