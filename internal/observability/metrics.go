// Package observability exposes the Prometheus metrics surface for the
// assignment engine and scheduler, grounded on
// control_plane/observability/metrics.go — same promauto constructors and
// naming conventions, renamed from the flux_* prefix to assign_* and
// narrowed to this domain's signals.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PoolDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "assign_pool_depth",
		Help: "Current number of bookings waiting in the deferred pool",
	}, []string{"mode"})

	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assign_decisions_total",
		Help: "Total number of assignment decisions made",
	}, []string{"outcome"}) // committed, escalated, skipped

	PassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "assign_scheduler_pass_duration_seconds",
		Help:    "Duration of one scheduler pass",
		Buckets: prometheus.DefBuckets,
	})

	EngineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "assign_engine_duration_seconds",
		Help:    "Duration of one assignment-engine invocation",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	ClaimRaces = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assign_claim_races_total",
		Help: "ClaimBooking attempts that lost the race to another instance",
	}, []string{"stage"})

	StaleLocksReset = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assign_stale_locks_reset_total",
		Help: "Total stale locks forcibly returned to pending",
	})

	CommitConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assign_commit_conflicts_total",
		Help: "CommitAssignment attempts that lost to a concurrent writer",
	})

	Escalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assign_escalations_total",
		Help: "Bookings that exhausted the candidate set and were escalated",
	}, []string{"meeting_type"})

	FairnessSkew = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "assign_fairness_skew",
		Help: "Max-min spread of assignmentCount across the current candidate set",
	}, []string{"environment"})

	DRBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assign_dr_blocks_total",
		Help: "Candidates excluded by the consecutive-DR hard block",
	}, []string{"emp_code"})

	DRBlockFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assign_dr_block_fallbacks_total",
		Help: "Bookings committed to a DR-blocked candidate because no alternative existed",
	}, []string{"emp_code"})

	PoolBackoffs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assign_pool_backoffs_total",
		Help: "Pool entries returned to waiting with a backoff after a failed attempt",
	}, []string{"reason"})

	StoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assign_store_operation_latency_seconds",
		Help:    "Store adapter operation latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"operation"})

	SchedulerMode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "assign_scheduler_mode",
		Help: "Current operating mode (1=active)",
	}, []string{"mode"})

	LeadershipEpoch = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "assign_leader_epoch",
		Help: "Current fencing epoch of the daily-tick leader",
	}, []string{"instance_id"})

	LeadershipTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assign_leader_transitions_total",
		Help: "Total leadership acquisition/loss events for the daily-tick election",
	}, []string{"instance_id", "event"})

	EventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assign_event_publish_failures_total",
		Help: "Failed decision-stream publish attempts (non-blocking, best-effort)",
	}, []string{"reason"})

	DegradedMode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "assign_dependency_degraded",
		Help: "1 when the named dependency (store, coordinator) is considered unavailable, else 0",
	}, []string{"component"})

	LogBufferDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assign_log_buffer_dropped_total",
		Help: "Decision/error log records dropped because the bounded buffer was full",
	}, []string{"kind"})

	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "assign_circuit_state",
		Help: "Store circuit breaker state (0=closed, 1=half_open, 2=open)",
	}, []string{"state"})
)
