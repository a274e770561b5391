// Package metrics holds the Prometheus collectors shared by the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "groupsync"

var (
	// GroupsVisited counts groups expanded by the crawler.
	GroupsVisited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "crawler",
		Name:      "groups_visited_total",
		Help:      "Groups expanded by the nested group crawler",
	})

	// CyclesDetected counts ancestor repeats observed during crawls.
	CyclesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "crawler",
		Name:      "cycles_detected_total",
		Help:      "Group membership cycles observed during crawls",
	})

	// FetchFailures counts child fetches that failed and were skipped.
	FetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "crawler",
		Name:      "fetch_failures_total",
		Help:      "Group child fetches that failed and were skipped",
	})

	// SessionsCompleted counts transfer sessions reassembled by the aggregator.
	SessionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transfer",
		Name:      "sessions_completed_total",
		Help:      "Chunked transfer sessions reassembled",
	})

	// SessionsSwept counts partial sessions dropped for being stale.
	SessionsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transfer",
		Name:      "sessions_swept_total",
		Help:      "Partial transfer sessions dropped as stale",
	})

	// ThresholdBlocks counts runs withheld by the threshold gate.
	// Labels: direction (add, remove)
	ThresholdBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "threshold",
		Name:      "blocks_total",
		Help:      "Runs withheld because a change threshold was exceeded",
	}, []string{"direction"})

	// MemberOperations counts applied membership mutations by outcome.
	// Labels: op (add, remove), outcome (success, not_found, already_in_desired_state, failed)
	MemberOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "applier",
		Name:      "member_operations_total",
		Help:      "Membership mutations by operation and outcome",
	}, []string{"op", "outcome"})

	// BatchDuration measures wall time per applied batch, retries included.
	BatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "applier",
		Name:      "batch_duration_seconds",
		Help:      "Time to apply one membership batch including retries",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"op"})
)
