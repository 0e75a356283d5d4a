package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qexec_executor_tasks_total",
			Help: "Tasks that reached a terminal status.",
		},
		[]string{"status"},
	)

	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qexec_executor_retries_total",
			Help: "Tasks requeued after a retryable backend error.",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "qexec_executor_queue_depth",
			Help: "Tasks waiting for a worker.",
		},
	)

	workerLoad = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qexec_executor_worker_load",
			Help: "Tasks assigned to a worker and not yet finished.",
		},
		[]string{"worker_id"},
	)

	workerHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qexec_executor_worker_healthy",
			Help: "1 if the worker answers heartbeats, 0 otherwise.",
		},
		[]string{"worker_id"},
	)

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qexec_executor_task_duration_seconds",
			Help:    "Time from submission to terminal status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(tasksTotal, retriesTotal, queueDepth, workerLoad, workerHealthy, taskDuration)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
