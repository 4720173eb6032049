// Package engine implements the assignment procedure for one booking:
// load, filter, score, commit-with-retry, escalate-or-log. Grounded on
// control_plane/reconciler.go's Reconciler — same hard-timeout
// wrapper around a multi-phase procedure, same per-resource exclusivity
// lock, same best-effort async event publish that never blocks the
// critical path.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/meetbridge/interpreter-scheduler/internal/clock"
	"github.com/meetbridge/interpreter-scheduler/internal/conflict"
	"github.com/meetbridge/interpreter-scheduler/internal/fairness"
	"github.com/meetbridge/interpreter-scheduler/internal/incident"
	"github.com/meetbridge/interpreter-scheduler/internal/observability"
	"github.com/meetbridge/interpreter-scheduler/internal/scoring"
	"github.com/meetbridge/interpreter-scheduler/internal/store"
	"github.com/meetbridge/interpreter-scheduler/internal/streaming"
)

// Outcome is the terminal result of one Assign invocation.
type Outcome string

const (
	OutcomeCommitted  Outcome = "committed"
	OutcomeEscalated  Outcome = "escalated"
	OutcomeAlreadyDone Outcome = "already_done"
	OutcomeCancelled  Outcome = "cancelled"
)

// ErrCancelledMidProcess is returned when the booking was cancelled
// externally after the engine began processing it.
var ErrCancelledMidProcess = errors.New("engine: booking cancelled mid-process")

// Engine runs the nine-step assignment procedure.
type Engine struct {
	store     store.Store
	clock     clock.Clock
	publisher streaming.Publisher // may be nil

	// activeBookings enforces per-booking exclusivity within one process,
	// mirroring control_plane/reconciler.go's activeReconciles map keyed
	// by NodeID.
	mu             sync.Mutex
	activeBookings map[int64]bool

	maxTaskRuntime time.Duration

	// incidents retains a bounded history of escalation snapshots for the
	// debug endpoint; nil disables capture entirely.
	incidents *incident.Recent

	// candidateCache mirrors the last computed candidate score set into
	// Redis purely so the debug snapshot endpoint can render a recent
	// pass without recomputing it; nil disables caching entirely and
	// affects nothing else, since the engine always recomputes from the
	// store before every commit.
	candidateCache *store.CandidateCache
}

// SetCandidateCache wires the optional ephemeral candidate-score cache.
func (e *Engine) SetCandidateCache(c *store.CandidateCache) {
	e.candidateCache = c
}

func New(s store.Store, c clock.Clock, publisher streaming.Publisher) *Engine {
	return &Engine{
		store:          s,
		clock:          c,
		publisher:      publisher,
		activeBookings: make(map[int64]bool),
		maxTaskRuntime: 2 * time.Minute,
		incidents:      incident.NewRecent(),
	}
}

// Incidents returns the engine's recent-escalation snapshot store, used by
// the debug control endpoint.
func (e *Engine) Incidents() *incident.Recent {
	return e.incidents
}

func (e *Engine) SetMaxTaskRuntime(d time.Duration) {
	e.maxTaskRuntime = d
}

// Assign is the entry point, enforcing the hard per-task timeout (the
// teacher's "Defense Layer 1" in Reconciler.Reconcile).
func (e *Engine) Assign(ctx context.Context, bookingID int64, policy *clock.Policy, batchID string) (Outcome, error) {
	taskCtx, cancel := context.WithTimeout(ctx, e.maxTaskRuntime)
	defer cancel()

	start := e.clock.Now()
	defer func() {
		observability.EngineDuration.Observe(time.Since(start).Seconds())
	}()

	if !e.acquireLock(bookingID) {
		return "", fmt.Errorf("booking %d is already being processed", bookingID)
	}
	defer e.releaseLock(bookingID)

	return e.assignWithContext(taskCtx, bookingID, policy, batchID)
}

func (e *Engine) acquireLock(bookingID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeBookings[bookingID] {
		return false
	}
	e.activeBookings[bookingID] = true
	return true
}

func (e *Engine) releaseLock(bookingID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.activeBookings, bookingID)
}

func (e *Engine) assignWithContext(ctx context.Context, bookingID int64, policy *clock.Policy, batchID string) (Outcome, error) {
	decisionStart := e.clock.Now()

	// 1. Load booking and a fresh policy snapshot (policy is supplied by
	// the caller, already a fresh LoadPolicy() read).
	booking, err := e.store.GetBooking(ctx, bookingID)
	if err != nil {
		return "", fmt.Errorf("load booking %d: %w", bookingID, err)
	}

	// 2. Already-committed / wrong-status short-circuit.
	if booking.Status != store.StatusWaiting || booking.InterpreterEmpCode != "" {
		return OutcomeAlreadyDone, nil
	}

	candidates, err := e.store.ListCandidateInterpreters(ctx, bookingID)
	if err != nil {
		return "", fmt.Errorf("list candidates for booking %d: %w", bookingID, err)
	}

	log := AssignmentDecisionBuilder{
		BookingID:  bookingID,
		BatchID:    batchID,
		Mode:       booking.Mode,
		PolicyHash: policy.Hash,
		Timestamp:  decisionStart,
	}

	empCodes := make([]string, len(candidates))
	for i, c := range candidates {
		empCodes[i] = c.EmpCode
	}

	windowEnd := booking.TimeStart
	windowStart := windowEnd.Add(-policy.FairnessWindow)
	counters, err := e.store.FairnessCounters(ctx, empCodes, windowStart, windowEnd)
	if err != nil {
		return "", fmt.Errorf("fairness counters for booking %d: %w", bookingID, err)
	}
	fairnessSnapshot := fairness.BuildSnapshot(counters, empCodes)

	var lastGlobalDREmp string
	if booking.MeetingType.IsDR() {
		emp, _, ok, err := e.store.LastGlobalDRBefore(ctx, decisionStart, windowStart)
		if err != nil {
			return "", fmt.Errorf("last global DR lookup: %w", err)
		}
		if ok {
			lastGlobalDREmp = emp
		}
	}

	retries := 0
	maxRetries := len(candidates)
	var excluded map[string]bool = make(map[string]bool)

	for {
		if ctx.Err() != nil {
			return "", fmt.Errorf("assign booking %d: %w", bookingID, ctx.Err())
		}

		// re-check cancellation mid-process (§5)
		fresh, err := e.store.GetBooking(ctx, bookingID)
		if err != nil {
			return "", fmt.Errorf("re-load booking %d: %w", bookingID, err)
		}
		if fresh.Status == store.StatusCancel {
			_ = e.store.AppendDecisionLog(ctx, log.Build(nil, "", true, e.clock.Now()))
			return OutcomeCancelled, ErrCancelledMidProcess
		}

		// 3/4/5/6: build + filter + score candidates, excluding any that
		// already lost a commit race this invocation.
		inputs, decisions := e.buildCandidateInputs(ctx, booking, candidates, policy, fairnessSnapshot, lastGlobalDREmp, excluded)

		weights := scoring.Weights{
			Availability: policy.WAvailability,
			Fairness:     policy.WFairness,
			DR:           policy.WDR,
			Recency:      policy.WRecency,
			Language:     policy.WLanguage,
		}
		ranked := scoring.RankWithBlocked(inputs, weights)
		scoreByEmp := make(map[string]float64, len(ranked))
		for _, r := range ranked {
			scoreByEmp[r.EmpCode] = r.Score
		}
		for i := range decisions {
			decisions[i].Score = scoreByEmp[decisions[i].EmpCode]
		}
		log.Candidates = append(log.Candidates, decisions...)
		e.cacheCandidates(ctx, booking, decisions)

		// §4.4/§8.3: a DR-blocked candidate is still usable when no
		// non-blocked alternative exists; the block stays annotated on the
		// candidate's decision-log entry regardless of the fallback.
		top, ok, fellBack := scoring.TopWithFallback(inputs, weights)
		if !ok {
			observability.Escalations.WithLabelValues(string(booking.MeetingType)).Inc()
			decision := log.Build(nil, "", true, e.clock.Now())
			_ = e.store.AppendDecisionLog(ctx, decision)
			e.captureEscalation(ctx, decision)
			e.publishAsync(bookingID, "escalated", "no eligible candidates")
			return OutcomeEscalated, nil
		}
		if fellBack {
			observability.DRBlockFallbacks.WithLabelValues(top.EmpCode).Inc()
		}

		// 7. Attempt conflict-safe commit.
		err = e.store.CommitAssignment(ctx, bookingID, top.EmpCode, booking.Version)
		if err == nil {
			observability.Decisions.WithLabelValues("committed").Inc()
			chosen := top.EmpCode
			_ = e.store.AppendDecisionLog(ctx, log.Build(&chosen, chosen, false, e.clock.Now()))
			e.publishAsync(bookingID, "committed", chosen)
			return OutcomeCommitted, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return "", fmt.Errorf("commit booking %d: %w", bookingID, err)
		}

		// 8. On Conflict, exclude and retry, bounded by candidate count.
		observability.CommitConflicts.Inc()
		excluded[top.EmpCode] = true
		retries++
		if retries > maxRetries {
			decision := log.Build(nil, "", true, e.clock.Now())
			_ = e.store.AppendDecisionLog(ctx, decision)
			e.captureEscalation(ctx, decision)
			e.publishAsync(bookingID, "escalated", "exhausted retries on conflict")
			return OutcomeEscalated, nil
		}
		// booking.Version is stale after a conflict; reload for the next attempt.
		booking, err = e.store.GetBooking(ctx, bookingID)
		if err != nil {
			return "", fmt.Errorf("reload booking %d after conflict: %w", bookingID, err)
		}
	}
}

func (e *Engine) buildCandidateInputs(
	ctx context.Context,
	booking *store.Booking,
	candidates []*store.Interpreter,
	policy *clock.Policy,
	fairnessSnapshot fairness.Snapshot,
	lastGlobalDREmp string,
	excluded map[string]bool,
) ([]scoring.Input, []store.CandidateDecision) {
	inputs := make([]scoring.Input, 0, len(candidates))
	decisions := make([]store.CandidateDecision, 0, len(candidates))

	thresholds := policy.ConflictBufferMinutes

	for _, c := range candidates {
		if excluded[c.EmpCode] {
			continue
		}

		available := true
		reason := ""

		overlapping, err := e.store.OverlappingBookings(ctx, c.EmpCode, booking.TimeStart, booking.TimeEnd)
		if err != nil {
			log.Printf("[engine] overlap lookup failed for %s: %v", c.EmpCode, err)
			available = false
			reason = "overlap_lookup_failed"
		} else if has, cls := conflict.HasConflict(overlapping, booking.TimeStart, booking.TimeEnd, thresholds); has {
			available = false
			reason = cls.String()
		}

		langMatch := 1.0
		if booking.LanguageCode != "" {
			if !c.HasLanguage(booking.LanguageCode) {
				available = false
				reason = "language_mismatch"
				langMatch = 0
			}
		} else {
			langMatch = 0.5
		}

		fscore := fairnessSnapshot.Score(c.EmpCode)

		var drScore float64
		var drBlocked bool
		var consecutiveRun int
		if booking.MeetingType.IsDR() {
			history, err := e.store.RecentAssignmentHistory(ctx, c.EmpCode, booking.TimeStart.Add(-policy.FairnessWindow))
			if err != nil {
				log.Printf("[engine] DR history lookup failed for %s: %v", c.EmpCode, err)
			} else {
				run := fairness.ConsecutiveDRRun(history)
				consecutiveRun = run
				drPolicy := fairness.EvaluateDR(c.EmpCode, lastGlobalDREmp, run, policy.DRConsecutiveMaxRun, policy.DRConsecutivePenaltyHours)
				if drPolicy.Blocked {
					drBlocked = true
					reason = "dr_consecutive_block"
					observability.DRBlocks.WithLabelValues(c.EmpCode).Inc()
				} else {
					drScore = 1 - drPolicy.Penalty/10 // normalize penalty hours into roughly [-1,1]
					if drScore < -1 {
						drScore = -1
					}
				}
			}
		}

		counter := fairnessSnapshot.Counters[c.EmpCode]

		inputs = append(inputs, scoring.Input{
			EmpCode:         c.EmpCode,
			Available:       available,
			Fairness:        fscore,
			DRScore:         drScore,
			DRBlocked:       drBlocked,
			Recency:         recencyOf(counter),
			LanguageMatch:   langMatch,
			AssignmentCount: counter.AssignmentCount,
			AssignedMinutes: counter.AssignedMinutes,
		})
		decisions = append(decisions, store.CandidateDecision{
			EmpCode:       c.EmpCode,
			Fairness:      fscore,
			ConsecutiveDR: consecutiveRun,
			Blocked:       drBlocked,
			Reason:        reason,
		})
	}
	return inputs, decisions
}

// recencyOf derives a crude recency signal from assignment count until a
// richer last-assigned timestamp is threaded through FairnessCounters; more
// assignments within the window approximates "assigned more recently".
func recencyOf(c store.FairnessCounter) float64 {
	if c.AssignmentCount == 0 {
		return 0
	}
	v := float64(c.AssignmentCount) / 10.0
	if v > 1 {
		v = 1
	}
	return v
}

// cacheCandidates best-effort mirrors the just-computed candidate scores
// into the optional Redis cache for the debug snapshot endpoint. Never
// affects the outcome: a cache miss or write failure just means the next
// debug read recomputes nothing (it has nothing to show) rather than
// blocking or retrying the assignment itself.
func (e *Engine) cacheCandidates(ctx context.Context, booking *store.Booking, decisions []store.CandidateDecision) {
	if e.candidateCache == nil {
		return
	}
	env, err := e.store.GetEnvironmentForOwner(ctx, booking.OwnerEmpCode, booking.OwnerGroup)
	if err != nil || env == nil {
		return
	}
	if err := e.candidateCache.Put(ctx, env.Name, booking.BookingID, decisions); err != nil {
		log.Printf("[engine] candidate cache write failed for booking %d: %v", booking.BookingID, err)
	}
}

// captureEscalation snapshots the booking/environment context around an
// escalation decision for later inspection via the debug endpoint. Best
// effort: a failed capture never affects the outcome already decided.
func (e *Engine) captureEscalation(ctx context.Context, decision store.AssignmentDecisionLog) {
	if e.incidents == nil {
		return
	}
	report, err := incident.Capture(ctx, e.store, decision)
	if err != nil {
		log.Printf("[engine] incident capture failed for booking %d: %v", decision.BookingID, err)
		return
	}
	e.incidents.Add(report)
}

// publishAsync mirrors control_plane/reconciler.go's publishEventAsync:
// fire-and-forget, its own short timeout, failures logged and metered
// but never propagated.
func (e *Engine) publishAsync(bookingID int64, outcome, detail string) {
	if e.publisher == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		payload := map[string]interface{}{
			"booking_id": bookingID,
			"outcome":    outcome,
			"detail":     detail,
			"timestamp":  e.clock.Now().Format(time.RFC3339),
		}
		if err := e.publisher.Publish(ctx, "assign.events.decision", payload); err != nil {
			log.Printf("event publish failed (non-critical): %v", err)
			observability.EventPublishFailures.WithLabelValues("publish_error").Inc()
		}
	}()
}
