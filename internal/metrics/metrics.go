// Package metrics holds the Prometheus collectors of the store, the
// invalidation tracker and the reactive query engine.
//
// Collectors are package-level and unregistered; binaries call Register
// once with the registry they serve.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Keys for status labels.
const (
	Fail = "fail"
	Ok   = "ok"
)

// Collectors for store mutations and schema handling.
var (
	MutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roberto_mutations_total",
		Help: "Cumulative number of mutation transactions, by operation and status.",
	}, []string{"op", "status"})
	MutationDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roberto_mutation_duration_seconds",
		Help:    "Duration of mutation transactions, including waiting for the write lock.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{"op"})
	CompactionFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roberto_compaction_failures_total",
		Help: "Cumulative number of failed checkpoint or vacuum passes after clear-all.",
	})
	SchemaOpensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roberto_schema_opens_total",
		Help: "Cumulative number of database opens, by outcome (created, validated, rebuilt).",
	}, []string{"outcome"})
)

// Collectors for invalidation and reactive queries.
var (
	InvalidationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roberto_invalidations_total",
		Help: "Cumulative number of change sets handed to the invalidation tracker.",
	})
	ObserverCallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roberto_observer_callbacks_total",
		Help: "Cumulative number of observer callbacks dispatched.",
	})
	ObserverPanicsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roberto_observer_panics_total",
		Help: "Cumulative number of observer callbacks that panicked.",
	})
	QueryExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roberto_query_executions_total",
		Help: "Cumulative number of reactive query executions, by status.",
	}, []string{"status"})
	LiveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roberto_live_subscriptions",
		Help: "Number of reactive subscriptions currently running.",
	})
)

// Collectors for housekeeping.
var (
	PurgedRowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roberto_purged_rows_total",
		Help: "Cumulative number of rows removed by age-based purges.",
	})
)

// Collectors returns every collector of this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		MutationsTotal,
		MutationDurationSeconds,
		CompactionFailuresTotal,
		SchemaOpensTotal,
		InvalidationsTotal,
		ObserverCallbacksTotal,
		ObserverPanicsTotal,
		QueryExecutionsTotal,
		LiveSubscriptions,
		PurgedRowsTotal,
	}
}

// Register registers every collector with reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
