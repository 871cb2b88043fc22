package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the orchestrator.
// Using promauto for automatic registration with the default registry.
var (
	// QueueDepth tracks queued rows by type and status.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "marketpulse",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of jobs in the queue by type and status",
		},
		[]string{"job_type", "status"},
	)

	// OldestPendingAge tracks the age in seconds of the oldest eligible
	// pending/retry row.
	OldestPendingAge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketpulse",
			Subsystem: "queue",
			Name:      "oldest_pending_age_seconds",
			Help:      "Age in seconds of the oldest pending job eligible to run",
		},
	)

	// JobsProcessedTotal counts attempts that reached an outcome, by type
	// and outcome status.
	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketpulse",
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Total number of job attempts processed by type and status",
		},
		[]string{"job_type", "status"},
	)

	// JobsInFlight tracks jobs currently claimed by a worker.
	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketpulse",
			Subsystem: "jobs",
			Name:      "in_flight",
			Help:      "Number of jobs currently claimed and running",
		},
	)

	// JobDuration tracks handler execution duration.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketpulse",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Duration of job handler execution in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15), // 0.1s to ~27m (1638.4s)
		},
		[]string{"job_type", "status"},
	)

	// ReaperReapedTotal counts stuck rows the reaper recovered.
	ReaperReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketpulse",
			Subsystem: "reaper",
			Name:      "reaped_total",
			Help:      "Total number of stuck processing rows recovered by the reaper",
		},
	)

	// ReaperPrunedTotal counts terminal rows removed by retention pruning.
	ReaperPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketpulse",
			Subsystem: "reaper",
			Name:      "pruned_total",
			Help:      "Total number of terminal rows pruned past the retention window",
		},
	)

	// HeartbeatsSent counts heartbeats sent by workers.
	HeartbeatsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketpulse",
			Subsystem: "worker",
			Name:      "heartbeats_total",
			Help:      "Total heartbeats sent by worker processes",
		},
	)

	// ActiveWorkers tracks the number of live worker processes.
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketpulse",
			Subsystem: "cluster",
			Name:      "active_workers",
			Help:      "Number of worker processes with a live heartbeat",
		},
	)

	// CacheHitsTotal / CacheMissesTotal track the content-addressed cache.
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketpulse",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total cache lookups that hit",
		},
	)
	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketpulse",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total cache lookups that missed",
		},
	)

	// JobsDispatched counts jobs claimed per producer/worker poll cycle.
	JobsDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketpulse",
			Subsystem: "queue",
			Name:      "dispatched_total",
			Help:      "Total number of jobs claimed by workers",
		},
	)

	// WorkerMemoryUsedBytes reports the host's resident memory usage as seen
	// by the worker process, sampled periodically from gopsutil.
	WorkerMemoryUsedBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketpulse",
			Subsystem: "worker",
			Name:      "host_memory_used_bytes",
			Help:      "Resident host memory in use, as reported by gopsutil",
		},
	)

	// WorkerMemoryTotalBytes reports total host memory, sampled alongside
	// WorkerMemoryUsedBytes so dashboards can derive a utilization ratio.
	WorkerMemoryTotalBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketpulse",
			Subsystem: "worker",
			Name:      "host_memory_total_bytes",
			Help:      "Total host memory, as reported by gopsutil",
		},
	)
)

// RecordJobOutcome records metrics for a finished job attempt.
func RecordJobOutcome(jobType, status string, durationSeconds float64) {
	JobsProcessedTotal.WithLabelValues(jobType, status).Inc()
	JobDuration.WithLabelValues(jobType, status).Observe(durationSeconds)
}
