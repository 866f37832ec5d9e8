package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_executions_total",
		Help: "Processed plan and rebalancer items by outcome",
	}, []string{"kind", "outcome"})

	SkipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_skips_total",
		Help: "Skipped items by reason",
	}, []string{"kind", "reason"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "autopilot_cycle_duration_seconds",
		Help:    "Scheduler cycle duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})

	SchedulerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_scheduler_errors_total",
		Help: "Critical scheduler cycle errors",
	})

	AnalyticsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_analytics_dropped_total",
		Help: "Execution logs dropped because the analytics queue was full",
	})

	AnalyticsFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_analytics_failures_total",
		Help: "Analytics sink delivery failures",
	}, []string{"sink"})

	LedgerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_ledger_calls_total",
		Help: "Ledger RPC calls by method and status",
	}, []string{"method", "status"})

	PriceSource = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_oracle_price_source_total",
		Help: "USD price lookups by source",
	}, []string{"source"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_http_requests_total",
		Help: "Admin API requests",
	}, []string{"method", "path", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autopilot_http_request_duration_seconds",
		Help:    "Admin API latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})
)
