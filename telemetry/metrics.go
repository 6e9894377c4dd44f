package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// QueryBuckets for end-to-end query execution
	QueryBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

	// WALFlushBuckets for storage flush latencies
	WALFlushBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

	// SinkPublishBuckets for change-stream publish latencies
	SinkPublishBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
)

// Query Processing Metrics
var (
	// QueriesTotal counts queries by type (retrieve, insert, update, delete, ddl, txn) and result
	QueriesTotal CounterVec = noopCounterVec{}

	// QueryDurationSeconds measures query latency by type
	QueryDurationSeconds HistogramVec = noopHistogramVec{}

	// QueryErrorsTotal counts query failures by error kind
	QueryErrorsTotal CounterVec = noopCounterVec{}

	// RowsAffected measures rows affected per write query
	RowsAffected Histogram = NoopStat{}

	// RowsReturned measures rows returned per read query
	RowsReturned Histogram = NoopStat{}

	// SandboxTripsTotal counts queries killed by the sandbox, by limit (memory, wall)
	SandboxTripsTotal CounterVec = noopCounterVec{}

	// WireConnections tracks active wire protocol connections
	WireConnections Gauge = NoopStat{}
)

// Transaction Metrics
var (
	// ActiveTransactions tracks currently open transactions
	ActiveTransactions Gauge = NoopStat{}

	// TxnTotal counts transactions by mode (realtime, deterministic) and result
	TxnTotal CounterVec = noopCounterVec{}
)

// Storage Metrics
var (
	// WALFlushSeconds measures write-ahead log flush latency
	WALFlushSeconds Histogram = NoopStat{}

	// WALFlushBatchSize measures mutations coalesced per flush
	WALFlushBatchSize Histogram = NoopStat{}

	// CheckpointsTotal counts storage checkpoints
	CheckpointsTotal Counter = NoopStat{}

	// MutationsTotal counts storage mutations by operation
	MutationsTotal CounterVec = noopCounterVec{}
)

// Replication Metrics
var (
	// LogEntriesTotal counts replicated log appends by type
	LogEntriesTotal CounterVec = noopCounterVec{}

	// LogCommittedIndex tracks the highest committed log index
	LogCommittedIndex Gauge = NoopStat{}

	// LogCompressionRatio measures payload compression ratio per entry
	LogCompressionRatio Histogram = NoopStat{}
)

// Change Stream Metrics
var (
	// ChangeEventsTotal counts emitted change events by operation
	ChangeEventsTotal CounterVec = noopCounterVec{}

	// SinkPublishSeconds measures per-sink publish latency
	SinkPublishSeconds HistogramVec = noopHistogramVec{}

	// SinkRetriesTotal counts publish retries by sink
	SinkRetriesTotal CounterVec = noopCounterVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	// Query Processing Metrics
	QueriesTotal = NewCounterVec(
		"queries_total",
		"Total queries by type and result",
		[]string{"type", "result"},
	)
	QueryDurationSeconds = NewHistogramVec(
		"query_duration_seconds",
		"Query duration in seconds",
		[]string{"type"},
		QueryBuckets,
	)
	QueryErrorsTotal = NewCounterVec(
		"query_errors_total",
		"Query failures by error kind",
		[]string{"kind"},
	)
	RowsAffected = NewHistogram(
		"rows_affected",
		"Number of rows affected per write query",
	)
	RowsReturned = NewHistogram(
		"rows_returned",
		"Number of rows returned per read query",
	)
	SandboxTripsTotal = NewCounterVec(
		"sandbox_trips_total",
		"Queries killed by the sandbox, by limit",
		[]string{"limit"},
	)
	WireConnections = NewGauge(
		"wire_connections",
		"Number of active wire protocol connections",
	)

	// Transaction Metrics
	ActiveTransactions = NewGauge(
		"active_transactions",
		"Number of currently open transactions",
	)
	TxnTotal = NewCounterVec(
		"txn_total",
		"Total transactions by mode and result",
		[]string{"mode", "result"},
	)

	// Storage Metrics
	WALFlushSeconds = NewHistogramWithBuckets(
		"wal_flush_seconds",
		"Write-ahead log flush duration in seconds",
		WALFlushBuckets,
	)
	WALFlushBatchSize = NewHistogram(
		"wal_flush_batch_size",
		"Mutations coalesced per WAL flush",
	)
	CheckpointsTotal = NewCounter(
		"checkpoints_total",
		"Total storage checkpoints",
	)
	MutationsTotal = NewCounterVec(
		"mutations_total",
		"Storage mutations by operation",
		[]string{"op"},
	)

	// Replication Metrics
	LogEntriesTotal = NewCounterVec(
		"log_entries_total",
		"Replicated log appends by entry type",
		[]string{"type"},
	)
	LogCommittedIndex = NewGauge(
		"log_committed_index",
		"Highest committed replicated log index",
	)
	LogCompressionRatio = NewHistogram(
		"log_compression_ratio",
		"Compressed to uncompressed payload ratio per log entry",
	)

	// Change Stream Metrics
	ChangeEventsTotal = NewCounterVec(
		"change_events_total",
		"Emitted change events by operation",
		[]string{"op"},
	)
	SinkPublishSeconds = NewHistogramVec(
		"sink_publish_seconds",
		"Per-sink publish duration in seconds",
		[]string{"sink"},
		SinkPublishBuckets,
	)
	SinkRetriesTotal = NewCounterVec(
		"sink_retries_total",
		"Publish retries by sink",
		[]string{"sink"},
	)
}
