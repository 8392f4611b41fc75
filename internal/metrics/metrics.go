// Package metrics exposes executor activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	// Counters
	tasksEnqueued *prometheus.CounterVec
	tasksFinished *prometheus.CounterVec
	tasksRejected prometheus.Counter
	rowsProcessed *prometheus.CounterVec

	// Gauges
	tasksRunning prometheus.Gauge
	queueDepth   prometheus.Gauge

	// Histograms
	taskDuration *prometheus.HistogramVec
}

// New creates the metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasksEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_tasks_enqueued_total",
				Help: "Total number of task executions admitted to the queue",
			},
			[]string{"type"},
		),
		tasksFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_tasks_finished_total",
				Help: "Total number of task executions finished, by final status",
			},
			[]string{"type", "status"},
		),
		tasksRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "etl_tasks_rejected_total",
				Help: "Total number of runs rejected because the queue was full",
			},
		),
		rowsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_rows_processed_total",
				Help: "Total number of rows or keys written by finished executions",
			},
			[]string{"type"},
		),
		tasksRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "etl_tasks_running",
				Help: "Current number of registered executions, queued or in flight",
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "etl_worker_queue_depth",
				Help: "Current number of executions waiting for a worker",
			},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "etl_task_duration_seconds",
				Help:    "Task execution duration in seconds",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 300, 600, 1800},
			},
			[]string{"type"},
		),
	}

	reg.MustRegister(
		m.tasksEnqueued,
		m.tasksFinished,
		m.tasksRejected,
		m.rowsProcessed,
		m.tasksRunning,
		m.queueDepth,
		m.taskDuration,
	)

	return m
}

// Enqueued records an admitted run.
func (m *Metrics) Enqueued(taskType string) {
	if m == nil {
		return
	}
	m.tasksEnqueued.WithLabelValues(taskType).Inc()
	m.tasksRunning.Inc()
}

// Rejected records a run refused by admission control.
func (m *Metrics) Rejected() {
	if m == nil {
		return
	}
	m.tasksRejected.Inc()
}

// Finished records the end of an execution.
func (m *Metrics) Finished(taskType, status string, d time.Duration, rows int64) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(taskType, status).Inc()
	m.taskDuration.WithLabelValues(taskType).Observe(d.Seconds())
	if rows > 0 {
		m.rowsProcessed.WithLabelValues(taskType).Add(float64(rows))
	}
	m.tasksRunning.Dec()
}

// QueueDepth sets the number of executions waiting for a worker.
func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
