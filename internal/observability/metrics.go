package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groundsql_pipeline_steps_total",
			Help: "Pipeline states reached, by step.",
		},
		[]string{"step"},
	)

	oracleCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groundsql_oracle_calls_total",
			Help: "Text oracle calls by pipeline stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)

	oracleLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "groundsql_oracle_latency_seconds",
			Help:    "Text oracle call latency by pipeline stage.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	storeQueryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "groundsql_store_query_duration_seconds",
			Help:    "Relational store query latency by outcome.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	schemaRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groundsql_schema_refresh_total",
			Help: "Schema refreshes by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	schemaRefreshDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "groundsql_schema_refresh_duration_seconds",
			Help:    "Schema refresh latency.",
			Buckets: prometheus.DefBuckets,
		},
	)

	schemaSnapshotTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "groundsql_schema_snapshot_timestamp_seconds",
			Help: "Unix time the published schema snapshot was captured.",
		},
	)

	schemaSnapshotTables = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "groundsql_schema_snapshot_tables",
			Help: "Tables in the published schema snapshot.",
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groundsql_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "groundsql_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		pipelineStepsTotal,
		oracleCallsTotal,
		oracleLatencySeconds,
		storeQueryDurationSeconds,
		schemaRefreshTotal,
		schemaRefreshDurationSeconds,
		schemaSnapshotTimestamp,
		schemaSnapshotTables,
		httpRequestsTotal,
		httpRequestDurationSeconds,
	)
}

func RecordStep(step string) {
	pipelineStepsTotal.WithLabelValues(step).Inc()
}

func ObserveOracleCall(stage, outcome string, elapsed time.Duration) {
	oracleCallsTotal.WithLabelValues(stage, outcome).Inc()
	oracleLatencySeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func ObserveStoreQuery(outcome string, elapsed time.Duration) {
	storeQueryDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func RecordSchemaRefresh(source, outcome string, elapsed time.Duration) {
	schemaRefreshTotal.WithLabelValues(source, outcome).Inc()
	schemaRefreshDurationSeconds.Observe(elapsed.Seconds())
}

func SetSchemaSnapshot(capturedAt time.Time, tables int) {
	schemaSnapshotTimestamp.Set(float64(capturedAt.Unix()))
	schemaSnapshotTables.Set(float64(tables))
}

func ObserveHTTPRequest(method, path string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, path, code).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, path, code).Observe(elapsed.Seconds())
}
