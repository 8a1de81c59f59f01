package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReconciliationRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_runs_total",
		Help: "Total number of matching passes by resolved mode",
	}, []string{"mode"})

	ReconciliationSlotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_slots_total",
		Help: "Slots classified by a matching pass, by status",
	}, []string{"status"})

	CSVParseErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csv_parse_errors_total",
		Help: "Total number of skipped or partially parsed CSV lines",
	})

	ReviewOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_operations_total",
		Help: "Manual review operations applied",
	}, []string{"operation"})

	SalesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sales_created_total",
		Help: "Total number of sales created by reconciliation commits",
	})

	CommitFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commit_failures_total",
		Help: "Total number of reconciliation commit failures",
	}, []string{"stage"})

	CommitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reconciliation_commit_latency_seconds",
		Help:    "Latency of reconciliation commits",
		Buckets: prometheus.DefBuckets,
	})

	CompRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comp_refresh_total",
		Help: "Comp refreshes by result",
	}, []string{"result"})

	CompSampleSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "comp_sample_size",
		Help:    "Observations left after trimming",
		Buckets: []float64{0, 1, 3, 5, 8, 10, 20, 50, 100},
	})

	ListingSearchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "listing_search_latency_seconds",
		Help:    "Latency of external listing searches",
		Buckets: prometheus.DefBuckets,
	})

	ListingSearchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listing_search_failures_total",
		Help: "External listing search failures by kind",
	}, []string{"kind"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
