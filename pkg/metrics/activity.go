package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initActivityMetrics(cfg Config) {
	m.activityAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_attempts_total",
			Help: "Total number of activity attempts by outcome",
		},
		[]string{"queue", "activity_type", "outcome"},
	)

	m.activityDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "activity_attempt_duration_seconds",
			Help:    "Activity attempt duration in seconds",
			Buckets: cfg.ActivityDurationBuckets,
		},
		[]string{"queue", "activity_type"},
	)

	m.activityRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_retries_total",
			Help: "Total number of activity retries",
		},
		[]string{"queue", "activity_type"},
	)

	m.registry.MustRegister(m.activityAttempts)
	m.registry.MustRegister(m.activityDuration)
	m.registry.MustRegister(m.activityRetries)
}

// RecordActivityAttempt records one activity attempt outcome.
func (m *Manager) RecordActivityAttempt(queue, activityType, outcome string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.activityAttempts.WithLabelValues(queue, activityType, outcome).Inc()
	m.activityDuration.WithLabelValues(queue, activityType).Observe(duration.Seconds())
}

// RecordActivityRetry records one activity retry.
func (m *Manager) RecordActivityRetry(queue, activityType string) {
	if !m.enabled {
		return
	}
	m.activityRetries.WithLabelValues(queue, activityType).Inc()
}
