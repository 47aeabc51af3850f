package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AwardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "points_awards_total",
		Help: "Award engine calls, labeled by outcome (applied, replayed, noop, failed)",
	}, []string{"outcome"})

	// PointsMoved splits applied deltas by sign; counters cannot go down.
	PointsMoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "points_moved_sum",
		Help: "Absolute sum of deltas applied to wallets, by direction",
	}, []string{"direction"})

	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlements_total",
		Help: "Settlement attempts, labeled by outcome",
	}, []string{"outcome"})

	SettlementPolls = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_polls",
		Help:    "Collaborator polls needed before a settlement attempt finished",
		Buckets: []float64{1, 2, 3, 4, 6, 10},
	})

	MatchingCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matching_calls_total",
		Help: "Calls to the matching service, labeled by operation and outcome",
	}, []string{"op", "outcome"})

	MatchingCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matching_call_duration_seconds",
		Help:    "Latency distribution of matching service calls",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"op"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "points_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "points_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
	}, []string{"method", "endpoint"})
)
