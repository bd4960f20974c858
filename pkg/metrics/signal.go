package metrics

import "github.com/prometheus/client_golang/prometheus"

func (m *Manager) initSignalMetrics(cfg Config) {
	m.signalsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signals_delivered_total",
			Help: "Total number of signals delivered to executions",
		},
		[]string{"name"},
	)

	m.registry.MustRegister(m.signalsDelivered)
}

// RecordSignalDelivered records one signal delivery.
func (m *Manager) RecordSignalDelivered(name string) {
	if !m.enabled {
		return
	}
	m.signalsDelivered.WithLabelValues(name).Inc()
}
