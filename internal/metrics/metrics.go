// Package metrics defines the pipeline's prometheus collectors. Exposed via
// the metrics listener when the sync command runs in interval mode.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ContentTransmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channelsync_content_items_total",
		Help: "Content items successfully transmitted, by channel and operation.",
	}, []string{"channel", "operation"})

	ContentFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channelsync_content_failures_total",
		Help: "Content items that failed transmission, by channel and failure class.",
	}, []string{"channel", "status"})

	CompletionsTransmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channelsync_completions_total",
		Help: "Learner completion records successfully transmitted, by channel.",
	}, []string{"channel"})

	CompletionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channelsync_completion_failures_total",
		Help: "Learner completion records that failed transmission, by channel and failure class.",
	}, []string{"channel", "status"})

	IntegrityViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channelsync_integrity_violations_total",
		Help: "Completion regressions rejected before transmission, by channel.",
	}, []string{"channel"})

	CatalogFetchSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channelsync_catalog_fetch_skipped_total",
		Help: "Full catalog fetches avoided by the update-only freshness check.",
	}, []string{"channel"})

	CatalogFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channelsync_catalog_fetches_total",
		Help: "Full catalog fetches performed.",
	}, []string{"channel"})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "channelsync_run_duration_seconds",
		Help:    "Wall time of one orchestrator run.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	UnitsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channelsync_units_failed_total",
		Help: "Channel-configuration units of work that failed entirely.",
	}, []string{"channel"})
)
