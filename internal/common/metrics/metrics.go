// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransitionsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_transitions_applied_total",
			Help: "Total number of lifecycle transitions applied",
		},
		[]string{"from", "to"},
	)

	TransitionsStale = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_transitions_stale_total",
			Help: "Total number of transitions lost to a concurrent racer",
		},
		[]string{"from", "to"},
	)

	AssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_assignments_total",
			Help: "Total number of officer assignments, including reassignments",
		},
		[]string{"department", "kind"},
	)

	AssignmentsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_assignments_failed_total",
			Help: "Total number of assignment attempts that found no eligible officer",
		},
		[]string{"department"},
	)

	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_gateway_requests_total",
			Help: "Total number of gateway calls by outcome",
		},
		[]string{"gateway", "outcome"},
	)

	GatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "engine_gateway_duration_seconds",
			Help: "Duration of gateway calls in seconds",
		},
		[]string{"gateway"},
	)

	WorkerBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "engine_worker_batch_duration_seconds",
			Help: "Duration of one stage worker poll batch in seconds",
		},
		[]string{"worker"},
	)

	ApplicationsPinned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_applications_pinned_total",
			Help: "Total number of applications pinned for manual intervention",
		},
	)
)
