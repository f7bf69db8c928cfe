// Package metrics provides Prometheus metrics for the template lookup
// service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RebuildsTotal tracks rebuild executions by status
	RebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spectable",
			Subsystem: "rebuild",
			Name:      "executions_total",
			Help:      "Total number of lookup index rebuild executions by status",
		},
		[]string{"status"},
	)

	// RebuildDuration tracks rebuild duration in seconds
	RebuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spectable",
			Subsystem: "rebuild",
			Name:      "duration_seconds",
			Help:      "Duration of lookup index rebuilds in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)

	// RebuildEntries tracks the number of rows written per rebuild
	RebuildEntries = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "spectable",
			Subsystem: "rebuild",
			Name:      "entries",
			Help:      "Number of lookup entries written per rebuild",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	// SkippedTargetsTotal tracks targets that produced no lookup row
	SkippedTargetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spectable",
			Subsystem: "rebuild",
			Name:      "skipped_targets_total",
			Help:      "Targets skipped during rebuild by reason",
		},
		[]string{"reason"},
	)

	// ConflictsTotal tracks resolution keys claimed by more than one template
	ConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spectable",
			Subsystem: "rebuild",
			Name:      "conflicts_total",
			Help:      "Lookup keys claimed by more than one template during rebuild",
		},
	)

	// CoalescedRequestsTotal tracks rebuild requests folded into another execution
	CoalescedRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spectable",
			Subsystem: "coordinator",
			Name:      "coalesced_requests_total",
			Help:      "Rebuild requests that joined a pending rebuild instead of running their own",
		},
	)

	// RebuildsInFlight tracks rebuilds currently executing in this process
	RebuildsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "spectable",
			Subsystem: "coordinator",
			Name:      "rebuilds_in_flight",
			Help:      "Number of rebuilds currently executing",
		},
	)

	// ResolutionsTotal tracks resolve calls by the level that matched
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spectable",
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Template resolutions by matched level (product, collection, default, none)",
		},
		[]string{"level"},
	)

	// ResolutionCacheTotal tracks resolution cache lookups
	ResolutionCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spectable",
			Subsystem: "resolver",
			Name:      "cache_lookups_total",
			Help:      "Resolution cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)

	// SelfHealsTotal tracks read-path rebuilds triggered by an empty index
	SelfHealsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spectable",
			Subsystem: "resolver",
			Name:      "self_heals_total",
			Help:      "Rebuilds triggered from the read path because a shop's index was empty",
		},
		[]string{"status"},
	)

	// JobsProcessedTotal tracks rebuild jobs processed by the worker pool
	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spectable",
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Total number of rebuild jobs processed by status",
		},
		[]string{"status"},
	)
)

// Status label values shared by the counters above.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)
