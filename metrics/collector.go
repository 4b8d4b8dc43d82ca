// Package metrics provides Prometheus metrics collection for the
// orchestration core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates the orchestration core's Prometheus metrics.
type Collector struct {
	// Resolver metrics
	taskTransitions *prometheus.CounterVec
	tasksByStatus   *prometheus.GaugeVec

	// Executor metrics
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	retryAttempts     *prometheus.CounterVec

	// Checkpoint metrics
	checkpointsSaved *prometheus.CounterVec
	checkpointWrites *prometheus.HistogramVec
	activeThreads    prometheus.Gauge

	// Approval metrics
	approvalsResolved *prometheus.CounterVec
	pendingApprovals  prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a metrics collector registering on reg. A nil reg
// falls back to the default Prometheus registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.taskTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Total number of task status transitions",
		},
		[]string{"from", "to"},
	)

	c.tasksByStatus = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_by_status",
			Help:      "Number of registered tasks by status",
		},
		[]string{"status"},
	)

	c.executionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of wrapped executions",
		},
		[]string{"operation", "status"},
	)

	c.executionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wrapped execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	c.retryAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Total number of execution retry attempts",
		},
		[]string{"operation"},
	)

	c.checkpointsSaved = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_saved_total",
			Help:      "Total number of checkpoints saved",
		},
		[]string{"phase"},
	)

	c.checkpointWrites = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_write_duration_seconds",
			Help:      "Checkpoint store write duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	c.activeThreads = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_threads",
			Help:      "Number of open execution threads",
		},
	)

	c.approvalsResolved = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_resolved_total",
			Help:      "Total number of resolved approval requests",
		},
		[]string{"status"},
	)

	c.pendingApprovals = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_approvals",
			Help:      "Number of approval requests awaiting resolution",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordTaskTransition records a task status transition.
func (c *Collector) RecordTaskTransition(from, to string) {
	c.taskTransitions.WithLabelValues(from, to).Inc()
}

// SetTasksByStatus records the current task count for a status.
func (c *Collector) SetTasksByStatus(status string, count int) {
	c.tasksByStatus.WithLabelValues(status).Set(float64(count))
}

// RecordExecution records a completed wrapped execution.
func (c *Collector) RecordExecution(operation, status string, duration time.Duration) {
	c.executionsTotal.WithLabelValues(operation, status).Inc()
	c.executionDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRetry records a retry attempt.
func (c *Collector) RecordRetry(operation string) {
	c.retryAttempts.WithLabelValues(operation).Inc()
}

// RecordCheckpoint records a checkpoint save.
func (c *Collector) RecordCheckpoint(phase string) {
	c.checkpointsSaved.WithLabelValues(phase).Inc()
}

// RecordCheckpointWrite records a store write duration.
func (c *Collector) RecordCheckpointWrite(phase string, duration time.Duration) {
	c.checkpointWrites.WithLabelValues(phase).Observe(duration.Seconds())
}

// SetActiveThreads records the number of open threads.
func (c *Collector) SetActiveThreads(count int) {
	c.activeThreads.Set(float64(count))
}

// RecordApproval records a resolved approval request.
func (c *Collector) RecordApproval(status string) {
	c.approvalsResolved.WithLabelValues(status).Inc()
}

// SetPendingApprovals records the pending approval count.
func (c *Collector) SetPendingApprovals(count int) {
	c.pendingApprovals.Set(float64(count))
}
