// Package metrics holds the Prometheus collectors of the refresh engine and its backends.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Backend metrics
var (
	// BackendRequestsTotal counts backend capability calls by backend, operation and outcome.
	BackendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "releasetracker_backend_requests_total",
			Help: "Backend capability calls by backend, operation and outcome",
		},
		[]string{"backend", "operation", "outcome"},
	)

	// BackendRequestDuration tracks backend call latency in seconds.
	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "releasetracker_backend_request_duration_seconds",
			Help:    "Backend capability call duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"backend", "operation"},
	)

	// CircuitBreakerState tracks the breaker state per backend (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "releasetracker_circuit_breaker_state",
			Help: "Current circuit breaker state per backend (0=closed, 1=half-open, 2=open)",
		},
		[]string{"backend"},
	)

	// CircuitBreakerStateChanges counts breaker transitions by backend and new state.
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "releasetracker_circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by backend and new state",
		},
		[]string{"backend", "state"},
	)

	// RateLimitRemaining reports the remaining API budget per backend resource.
	RateLimitRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "releasetracker_rate_limit_remaining",
			Help: "Remaining API requests per backend resource",
		},
		[]string{"backend", "resource"},
	)
)

// Engine metrics
var (
	// RefreshTotal counts refresh steps by stage (membership, metadata, releases) and outcome.
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "releasetracker_refresh_total",
			Help: "Refresh steps by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	// ReleasesDiscovered counts releases newly stored per backend.
	ReleasesDiscovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "releasetracker_releases_discovered_total",
			Help: "Releases newly stored per backend",
		},
		[]string{"backend"},
	)

	// MembershipChanges counts repositories linked to or unlinked from subjects.
	MembershipChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "releasetracker_membership_changes_total",
			Help: "Repositories linked to or unlinked from tracking subjects",
		},
		[]string{"change"},
	)

	// FanoutDuration tracks how long one last-releases call takes.
	FanoutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "releasetracker_fanout_duration_seconds",
			Help:    "Duration of one last-releases call in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)

	// AnnouncementsTotal counts releases handed to the notifier by outcome.
	AnnouncementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "releasetracker_announcements_total",
			Help: "Releases handed to the notifier by outcome",
		},
		[]string{"outcome"},
	)

	// TrackedSubjects reports how many subjects the last poll cycle covered.
	TrackedSubjects = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "releasetracker_tracked_subjects",
			Help: "Tracking subjects covered by the last poll cycle",
		},
	)
)
