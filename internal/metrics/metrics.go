package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the recall engine.
type Metrics struct {
	// Cycle metrics
	CyclesTotal   *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec

	// Selection metrics
	WindowAssets  *prometheus.GaugeVec
	WindowResults *prometheus.CounterVec

	// Output metrics
	ExercisesCreated       *prometheus.CounterVec
	NotificationsScheduled *prometheus.CounterVec
	NotificationsDelivered *prometheus.CounterVec

	// Task metrics
	TaskRuns *prometheus.CounterVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all metrics with the default registry.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			CyclesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "reminisce_cycles_total",
					Help: "Generation cycles by outcome",
				},
				[]string{"result"},
			),
			CycleDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "reminisce_cycle_duration_seconds",
					Help:    "Duration of generation cycles in seconds",
					Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2min
				},
				[]string{"result"},
			),
			WindowAssets: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "reminisce_window_assets",
					Help: "Candidate photos found for each lookback window in the last cycle",
				},
				[]string{"window"},
			),
			WindowResults: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "reminisce_window_queries_total",
					Help: "Lookback window queries by outcome",
				},
				[]string{"window", "result"},
			),
			ExercisesCreated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "reminisce_exercises_created_total",
					Help: "Exercises persisted, by image path and problem type",
				},
				[]string{"path", "problem_type"},
			),
			NotificationsScheduled: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "reminisce_notifications_scheduled_total",
					Help: "Notification enqueue attempts by outcome",
				},
				[]string{"result"},
			),
			NotificationsDelivered: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "reminisce_notifications_delivered_total",
					Help: "Notifications handed to sinks, by sink",
				},
				[]string{"sink", "result"},
			),
			TaskRuns: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "reminisce_task_runs_total",
					Help: "Periodic task runs by task and outcome",
				},
				[]string{"task", "result"},
			),
		}
	})
	return sharedMetrics
}

// RecordCycle records a finished generation cycle.
func (m *Metrics) RecordCycle(result string, d time.Duration) {
	m.CyclesTotal.WithLabelValues(result).Inc()
	m.CycleDuration.WithLabelValues(result).Observe(d.Seconds())
}

// RecordWindow records one lookback window query.
func (m *Metrics) RecordWindow(window, result string, assets int) {
	m.WindowResults.WithLabelValues(window, result).Inc()
	m.WindowAssets.WithLabelValues(window).Set(float64(assets))
}

// RecordExercise records a persisted exercise.
func (m *Metrics) RecordExercise(path, problemType string) {
	m.ExercisesCreated.WithLabelValues(path, problemType).Inc()
}

// RecordNotification records a scheduling attempt.
func (m *Metrics) RecordNotification(result string) {
	m.NotificationsScheduled.WithLabelValues(result).Inc()
}

// RecordDelivery records a delivery to a sink.
func (m *Metrics) RecordDelivery(sink string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.NotificationsDelivered.WithLabelValues(sink, result).Inc()
}

// RecordTask records a periodic task run.
func (m *Metrics) RecordTask(task, result string) {
	m.TaskRuns.WithLabelValues(task, result).Inc()
}
