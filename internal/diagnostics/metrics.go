package diagnostics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// GateMetrics collects Prometheus counters/gauges for gate pipeline
// outcomes, grounded on internal/metrics/websocket_metrics.go's shape
// of named fields built from prometheus.New*(Opts{...}).
type GateMetrics struct {
	evaluations   *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	fires         *prometheus.CounterVec
	consecutivePass *prometheus.GaugeVec
	confidence    *prometheus.HistogramVec
}

// NewGateMetrics creates and registers the gate pipeline metrics against
// registry.
func NewGateMetrics(registry prometheus.Registerer) *GateMetrics {
	m := &GateMetrics{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hunter_gate_evaluations_total",
			Help: "Total number of gate pipeline evaluations per instrument.",
		}, []string{"instrument"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hunter_gate_rejections_total",
			Help: "Total number of gate rejections per instrument and gate name.",
		}, []string{"instrument", "gate"}),
		fires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hunter_gate_fires_total",
			Help: "Total number of signals fired per instrument and direction.",
		}, []string{"instrument", "direction"}),
		consecutivePass: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hunter_gate_consecutive_pass_count",
			Help: "Current consecutive-pass count per instrument.",
		}, []string{"instrument"}),
		confidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hunter_gate_fire_confidence",
			Help:    "Confidence score distribution of fired signals.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"instrument"}),
	}

	registry.MustRegister(m.evaluations, m.rejections, m.fires, m.consecutivePass, m.confidence)
	return m
}

// Observe records one gate pipeline evaluation's outcome.
func (m *GateMetrics) Observe(instrument, direction string, rejectedAtGate string, fired bool, consecutivePassCount int, confidence float64) {
	m.evaluations.WithLabelValues(instrument).Inc()
	m.consecutivePass.WithLabelValues(instrument).Set(float64(consecutivePassCount))

	if rejectedAtGate != "" {
		m.rejections.WithLabelValues(instrument, rejectedAtGate).Inc()
		return
	}
	if fired {
		m.fires.WithLabelValues(instrument, direction).Inc()
		m.confidence.WithLabelValues(instrument).Observe(confidence)
	}
}
