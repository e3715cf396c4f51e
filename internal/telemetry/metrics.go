package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Ingestion counters, labeled per tenant.
var (
	IngestOkTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siemgate",
			Subsystem: "ingest",
			Name:      "ok_total",
			Help:      "Total number of events admitted and batched successfully.",
		},
		[]string{"tenant_id"},
	)

	IngestRateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siemgate",
			Subsystem: "ingest",
			Name:      "rate_limited_total",
			Help:      "Total number of events rejected by the per-tenant token bucket.",
		},
		[]string{"tenant_id"},
	)

	IngestSoftLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siemgate",
			Subsystem: "ingest",
			Name:      "soft_limited_total",
			Help:      "Total number of events crossing the soft EPS threshold (warning only).",
		},
		[]string{"tenant_id"},
	)

	IngestDLQTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siemgate",
			Subsystem: "ingest",
			Name:      "dlq_total",
			Help:      "Total number of events routed to the dead-letter sink.",
		},
		[]string{"tenant_id", "error_type"},
	)

	SearchOkTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siemgate",
			Subsystem: "search",
			Name:      "ok_total",
			Help:      "Total number of successfully executed searches.",
		},
		[]string{"tenant_id"},
	)

	SearchErrTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siemgate",
			Subsystem: "search",
			Name:      "err_total",
			Help:      "Total number of failed searches, labeled by error code.",
		},
		[]string{"tenant_id", "code"},
	)

	AlertEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siemgate",
			Subsystem: "alert",
			Name:      "emitted_total",
			Help:      "Total number of alerts emitted by the streaming rule engine.",
		},
		[]string{"tenant_id", "rule_id", "severity"},
	)

	BulkWriteOutcomeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siemgate",
			Subsystem: "bulkwriter",
			Name:      "write_outcome_total",
			Help:      "Total number of bulk insert attempts by outcome.",
		},
		[]string{"tenant_id", "outcome"},
	)

	BulkBytesInTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siemgate",
			Subsystem: "bulkwriter",
			Name:      "bytes_in_total",
			Help:      "Approximate total bytes flushed to the columnar store per tenant.",
		},
		[]string{"tenant_id"},
	)

	BulkRowsInTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siemgate",
			Subsystem: "bulkwriter",
			Name:      "rows_in_total",
			Help:      "Total rows flushed to the columnar store per tenant.",
		},
		[]string{"tenant_id"},
	)

	RuleEvalOkTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siemgate",
			Subsystem: "rules",
			Name:      "eval_ok_total",
			Help:      "Total number of events evaluated successfully against a rule.",
		},
		[]string{"tenant_id", "rule_id"},
	)

	RuleEvalErrTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siemgate",
			Subsystem: "rules",
			Name:      "eval_err_total",
			Help:      "Total number of per-message evaluation errors, isolated to the offending rule.",
		},
		[]string{"tenant_id", "rule_id"},
	)

	AlertThrottledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siemgate",
			Subsystem: "alert",
			Name:      "throttled_total",
			Help:      "Total number of alert emissions suppressed by the dedup/throttle window.",
		},
		[]string{"tenant_id", "rule_id"},
	)
)

// Gauges.
var (
	BufferDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "siemgate",
			Subsystem: "ingest",
			Name:      "buffer_depth",
			Help:      "Current depth of the per-tenant ingestion buffer channel.",
		},
		[]string{"tenant_id"},
	)

	RedisUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "siemgate",
			Name:      "redis_up",
			Help:      "1 if the last Redis health probe succeeded, else 0.",
		},
	)

	ClickHouseUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "siemgate",
			Name:      "ch_up",
			Help:      "1 if the last columnar-store health probe succeeded, else 0.",
		},
	)

	ConsumerLagTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "siemgate",
			Subsystem: "eventbus",
			Name:      "consumer_lag_total",
			Help:      "Estimated consumer lag (messages behind) per bus/tenant.",
		},
		[]string{"bus", "tenant_id"},
	)

	ConsumerPartitionCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "siemgate",
			Subsystem: "eventbus",
			Name:      "consumer_partition_count",
			Help:      "Number of partitions/shards currently assigned to this consumer group.",
		},
		[]string{"bus"},
	)

	RuleDegraded = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "siemgate",
			Subsystem: "rules",
			Name:      "degraded",
			Help:      "1 if the rule's trailing error rate exceeds 1% over the last 5 minutes, else 0.",
		},
		[]string{"tenant_id", "rule_id"},
	)
)

// Histograms.
var (
	IngestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "siemgate",
			Subsystem: "ingest",
			Name:      "latency_seconds",
			Help:      "End-to-end latency of event admission and batching.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tenant_id"},
	)

	SearchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "siemgate",
			Subsystem: "search",
			Name:      "latency_seconds",
			Help:      "Search compile+execute latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tenant_id"},
	)

	BulkFlushLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "siemgate",
			Subsystem: "bulkwriter",
			Name:      "flush_latency_seconds",
			Help:      "Bulk insert flush latency per tenant.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tenant_id"},
	)
)

// HTTPRequestDuration records request duration to Prometheus, labeled by
// method, route, and status code.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "siemgate",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

// All returns every siemgate metric collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		IngestOkTotal,
		IngestRateLimitedTotal,
		IngestSoftLimitedTotal,
		IngestDLQTotal,
		SearchOkTotal,
		SearchErrTotal,
		AlertEmittedTotal,
		BulkWriteOutcomeTotal,
		BulkBytesInTotal,
		BulkRowsInTotal,
		RuleEvalOkTotal,
		RuleEvalErrTotal,
		AlertThrottledTotal,
		BufferDepth,
		RedisUp,
		ClickHouseUp,
		ConsumerLagTotal,
		ConsumerPartitionCount,
		RuleDegraded,
		IngestLatency,
		SearchLatency,
		BulkFlushLatency,
		HTTPRequestDuration,
	}
}
