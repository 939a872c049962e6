// Package metrics defines the Prometheus instruments exposed by the
// worker's metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksProcessedTotal counts finished task executions by type and
	// terminal state.
	TasksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conv_tasks_processed_total",
			Help: "Total number of task executions by type and terminal state.",
		},
		[]string{"type", "state"},
	)

	// TasksDroppedTotal counts queue entries discarded without execution.
	TasksDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conv_tasks_dropped_total",
			Help: "Total number of queue entries dropped without execution.",
		},
		[]string{"reason"},
	)

	// TaskDurationSeconds tracks wall-clock task runtime by type.
	TaskDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conv_task_duration_seconds",
			Help:    "Task runtime in seconds by type.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		},
		[]string{"type"},
	)

	// CaptchaRendezvousTotal counts captcha handshakes by outcome.
	CaptchaRendezvousTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conv_captcha_rendezvous_total",
			Help: "Total number of captcha handshakes by outcome.",
		},
		[]string{"outcome"},
	)
)
