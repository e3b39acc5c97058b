package model

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resolverPasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "footprint_resolver_passes_total",
		Help: "Total number of resolver passes run",
	})

	planSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "footprint_resolver_plan_size",
		Help:    "Number of tasks per resolver pass",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	resolverDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "footprint_resolver_duration_seconds",
		Help:    "Duration of resolver passes",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	recomputations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "footprint_recomputations_total",
		Help: "Calculated attribute recomputations by entity kind",
	}, []string{"kind"})

	prunedTasks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "footprint_resolver_pruned_entries_total",
		Help: "Entry recomputations folded into their collection recomputation",
	})

	writeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "footprint_write_failures_total",
		Help: "Writes rolled back, by operation",
	}, []string{"op"})
)
