package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initExecutionMetrics(cfg Config) {
	m.executionStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execution_starts_total",
			Help: "Total number of workflow executions started",
		},
		[]string{"workflow"},
	)

	m.executionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execution_outcomes_total",
			Help: "Total number of workflow executions by terminal status",
		},
		[]string{"workflow", "status"},
	)

	m.executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "execution_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: cfg.ExecutionDurationBuckets,
		},
		[]string{"workflow", "status"},
	)

	m.executionActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "execution_active_count",
			Help: "Current number of live workflow executions",
		},
	)

	m.historyEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_events_total",
			Help: "Total number of history events appended by type",
		},
		[]string{"type"},
	)

	m.registry.MustRegister(m.executionStarts)
	m.registry.MustRegister(m.executionOutcomes)
	m.registry.MustRegister(m.executionDuration)
	m.registry.MustRegister(m.executionActive)
	m.registry.MustRegister(m.historyEvents)
}

// RecordExecutionStarted records one execution start.
func (m *Manager) RecordExecutionStarted(workflow string) {
	if !m.enabled {
		return
	}
	m.executionStarts.WithLabelValues(workflow).Inc()
	m.executionActive.Inc()
}

// RecordExecutionFinished records one terminal execution outcome.
func (m *Manager) RecordExecutionFinished(workflow, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.executionOutcomes.WithLabelValues(workflow, status).Inc()
	m.executionDuration.WithLabelValues(workflow, status).Observe(duration.Seconds())
	m.executionActive.Dec()
}

// RecordEventAppended records one history event append.
func (m *Manager) RecordEventAppended(eventType string) {
	if !m.enabled {
		return
	}
	m.historyEvents.WithLabelValues(eventType).Inc()
}
