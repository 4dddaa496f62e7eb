// Package metrics registers the Prometheus instruments exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TriggerFires counts trigger evaluations that created a task.
	TriggerFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castor_trigger_fires_total",
		Help: "Auto-publish tasks created by trigger fires.",
	}, []string{"kind"})

	// PipelineRuns counts finished pipeline invocations by outcome.
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castor_pipeline_runs_total",
		Help: "Pipeline invocations by terminal outcome.",
	}, []string{"outcome"})

	// PipelineDuration observes wall-clock pipeline invocation time.
	PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "castor_pipeline_duration_seconds",
		Help:    "Pipeline invocation duration.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	// PublishDispatches counts publish uploads by outcome.
	PublishDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castor_publish_dispatches_total",
		Help: "Publish upload attempts by terminal outcome.",
	}, []string{"outcome"})

	// PublishQueueDepth gauges the scheduler's in-memory heap size.
	PublishQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "castor_publish_queue_depth",
		Help: "Entries currently in the publish scheduler heap.",
	})

	// WorkersBusy gauges pipeline workers currently executing a task.
	WorkersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "castor_pipeline_workers_busy",
		Help: "Pipeline workers currently executing a task.",
	})

	// StaleTasksRecovered counts tasks failed by the stale scanner.
	StaleTasksRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "castor_stale_tasks_recovered_total",
		Help: "Running tasks failed by heartbeat staleness recovery.",
	})

	// MonitorResultsDiscovered counts new monitor results by monitor type.
	MonitorResultsDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castor_monitor_results_discovered_total",
		Help: "New content items discovered by monitors.",
	}, []string{"monitor_type"})
)
