package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job queue counters and histograms, partitioned by queue name.

var (
	// Queue
	QueueJobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "queue",
		Name:      "jobs_enqueued_total",
		Help:      "Total jobs written to a queue (duplicates excluded)",
	}, []string{"queue"})

	QueueJobsDeduplicated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "queue",
		Name:      "jobs_deduplicated_total",
		Help:      "Total enqueue calls skipped because the job id already existed",
	}, []string{"queue"})

	QueueJobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "queue",
		Name:      "jobs_completed_total",
		Help:      "Total jobs whose handler returned successfully",
	}, []string{"queue"})

	QueueJobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "queue",
		Name:      "jobs_failed_total",
		Help:      "Total handler failures, partitioned by error classification reason",
	}, []string{"queue", "reason"})

	QueueJobsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "queue",
		Name:      "jobs_retried_total",
		Help:      "Total failed jobs rescheduled with backoff",
	}, []string{"queue"})

	QueueJobsDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "queue",
		Name:      "jobs_dead_lettered_total",
		Help:      "Total jobs retained as failed after exhausting attempts",
	}, []string{"queue"})

	QueueJobsStalled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "queue",
		Name:      "jobs_stalled_total",
		Help:      "Total active jobs whose lease expired and were failed by the scheduler",
	}, []string{"queue"})

	QueueJobsPromoted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "queue",
		Name:      "jobs_promoted_total",
		Help:      "Total delayed jobs moved to the wait list by the scheduler",
	}, []string{"queue"})

	QueueJobsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "queue",
		Name:      "jobs_active",
		Help:      "Jobs currently executing in this process",
	}, []string{"queue"})

	QueueJobLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "indexer",
		Subsystem: "queue",
		Name:      "job_duration_seconds",
		Help:      "Job handler execution duration",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"queue"})

	// Distributed lock
	LockAcquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "lock",
		Name:      "acquisitions_total",
		Help:      "Lock acquisition attempts by outcome (acquired, busy, error)",
	}, []string{"outcome"})

	// Event store
	BulkCancelEventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "event_store",
		Name:      "bulk_cancel_events_received_total",
		Help:      "Total bulk cancel events passed to AddEvents",
	})

	BulkCancelOrdersCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "event_store",
		Name:      "orders_cancelled_total",
		Help:      "Total orders transitioned to cancelled by bulk cancel events",
	}, []string{"mode"})

	BulkCancelEventsRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "event_store",
		Name:      "bulk_cancel_events_removed_total",
		Help:      "Total bulk cancel events deleted by reorg handling",
	})

	OrderUpdateOutboxRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "event_store",
		Name:      "order_update_outbox_relayed_total",
		Help:      "Total outbox entries enqueued as order-updates-by-id jobs",
	})

	EventStoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "indexer",
		Subsystem: "event_store",
		Name:      "operation_duration_seconds",
		Help:      "Event store operation duration (DB transaction)",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"operation"})

	// Resync
	ResyncRowsUpdated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "resync",
		Name:      "rows_updated_total",
		Help:      "Total rows updated by resync jobs",
	}, []string{"resync"})

	ResyncRowErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "resync",
		Name:      "row_errors_total",
		Help:      "Total rows skipped after a per-row error",
	}, []string{"resync"})

	ResyncPagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "resync",
		Name:      "pages_processed_total",
		Help:      "Total pages scanned by resync jobs",
	}, []string{"resync"})

	// Daily volumes
	DailyVolumeDaysCalculated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "daily_volume",
		Name:      "days_total",
		Help:      "Daily volume buckets by outcome (calculated, skipped)",
	}, []string{"outcome"})

	DailyVolumeFinalizations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "daily_volume",
		Name:      "finalizations_total",
		Help:      "Total collection table refreshes after all pending days finished",
	})

	DailyVolumePendingDays = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "daily_volume",
		Name:      "pending_days",
		Help:      "Days still pending as observed by the last tick",
	})

	// DB pool
	DBPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "postgres",
		Name:      "db_pool_open",
		Help:      "Open connections in the database pool",
	})

	DBPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "postgres",
		Name:      "db_pool_in_use",
		Help:      "Connections currently in use",
	})

	DBPoolIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "postgres",
		Name:      "db_pool_idle",
		Help:      "Idle connections in the pool",
	})

	DBPoolWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "postgres",
		Name:      "db_pool_wait_count",
		Help:      "Total number of connections waited for",
	})

	DBPoolWaitDurationSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "postgres",
		Name:      "db_pool_wait_duration_seconds",
		Help:      "Total time blocked waiting for a connection",
	})

	// Reorg
	EventFeedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "event_feed",
		Name:      "messages_total",
		Help:      "Stream messages consumed by the event feed",
	}, []string{"stream", "outcome"})

	ReorgsHandled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "reorg",
		Name:      "handled_total",
		Help:      "Total reorg notifications processed",
	})

	// Alert
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent by channel and type",
	}, []string{"channel", "type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts suppressed by cooldown",
	}, []string{"channel", "type"})

	AlertsCircuitOpen = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "alert",
		Name:      "circuit_open_total",
		Help:      "Total alerts dropped because the channel circuit breaker was open",
	}, []string{"channel"})

	// Admin API
	AdminCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "admin",
		Name:      "cache_hits_total",
		Help:      "Total response cache hits by endpoint",
	}, []string{"endpoint"})
)
