// Package scheduler drives the interval and daily-tick passes over due
// bookings, grounded on control_plane/scheduler/scheduler.go's Scheduler:
// same active/mu-guarded lifecycle, same worker ticker loop, same
// circuit-breaker admission check before doing real work, trimmed of the
// per-tenant/per-domain queueing that system carries (this domain has no
// in-memory task queue — FindDueBookings re-reads the store every pass,
// so there is nothing to rehydrate or shard across an in-process queue).
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/meetbridge/interpreter-scheduler/internal/clock"
	"github.com/meetbridge/interpreter-scheduler/internal/engine"
	"github.com/meetbridge/interpreter-scheduler/internal/observability"
	"github.com/meetbridge/interpreter-scheduler/internal/pool"
	"github.com/meetbridge/interpreter-scheduler/internal/store"
)

// Reason identifies what triggered a pass, echoed into logs/metrics.
type Reason string

const (
	ReasonInterval Reason = "interval"
	ReasonDaily    Reason = "daily"
	ReasonManual   Reason = "manual"
)

// Status is the external snapshot returned by the control surface.
type Status struct {
	Running    bool   `json:"running"`
	InstanceID string `json:"instanceId"`
	LastPassAt string `json:"lastPassAt,omitempty"`
}

// Scheduler owns the interval/daily loops and Pass() itself. Multiple
// Scheduler instances (in separate processes) may run concurrently;
// correctness rests entirely on Store.ClaimBooking's atomic CAS — this
// type performs no leader gating of its own pass loop.
type Scheduler struct {
	store  store.Store
	engine *engine.Engine
	config *clock.Config

	instanceID string

	mu         sync.RWMutex
	running    bool
	lastPassAt time.Time

	circuitBreaker *CircuitBreaker
	envLimiter     *TokenBucketLimiter

	cancel context.CancelFunc

	// passDeadline bounds one Pass() call to a soft budget.
	passDeadline time.Duration

	// dailyGate, when set, is consulted before firing a daily-tick pass;
	// a false return skips this instance's trigger for that tick. Used to
	// wire the coordination package's daily-tick leader election without
	// this package importing it directly. nil means "always fire" (single
	// instance / no coordinator configured).
	dailyGate func() bool
}

// SetDailyGate installs a predicate consulted before every daily-tick
// pass; only the instance for which it returns true fires that tick. The
// interval loop is never gated; its single-writer property rests on
// ClaimBooking alone for every pass but the daily one.
func (s *Scheduler) SetDailyGate(gate func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dailyGate = gate
}

func New(s store.Store, e *engine.Engine, cfg *clock.Config, instanceID string) *Scheduler {
	return &Scheduler{
		store:          s,
		engine:         e,
		config:         cfg,
		instanceID:     instanceID,
		circuitBreaker: NewCircuitBreaker(5),
		envLimiter:     NewTokenBucketLimiter(20, 5),
		passDeadline:   5 * time.Minute,
	}
}

// Start launches the interval loop and the daily loop as background
// goroutines, mirroring control_plane/scheduler/scheduler.go's Start()
// spawning worker+poller.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.intervalLoop(runCtx)
	go s.dailyLoop(runCtx)
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if s.cancel != nil {
		s.cancel()
	}
	log.Println("[scheduler] stopped")
}

func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{Running: s.running, InstanceID: s.instanceID}
	if !s.lastPassAt.IsZero() {
		st.LastPassAt = s.lastPassAt.Format(time.RFC3339)
	}
	return st
}

func (s *Scheduler) intervalLoop(ctx context.Context) {
	policy := s.config.LoadPolicy()
	ticker := time.NewTicker(policy.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunPassNow(ctx, ReasonInterval); err != nil {
				log.Printf("[scheduler] interval pass failed: %v", err)
			}
			newPolicy := s.config.LoadPolicy()
			if newPolicy.PollInterval != policy.PollInterval {
				policy = newPolicy
				ticker.Reset(policy.PollInterval)
			}
		}
	}
}

func (s *Scheduler) dailyLoop(ctx context.Context) {
	for {
		policy := s.config.LoadPolicy()
		next := nextDailyTrigger(time.Now().In(policy.Timezone), policy.DailyRunTimes, policy.Timezone)
		wait := time.Until(next)
		if wait < 0 {
			wait = time.Minute
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			s.mu.RLock()
			gate := s.dailyGate
			s.mu.RUnlock()
			if gate != nil && !gate() {
				log.Printf("[scheduler] skipping daily tick, not the elected daily-tick leader")
				continue
			}
			if err := s.RunPassNow(ctx, ReasonDaily); err != nil {
				log.Printf("[scheduler] daily pass failed: %v", err)
			}
		}
	}
}

// nextDailyTrigger computes the nearest future HH:MM trigger in the given
// timezone. Unknown/malformed entries are skipped with a log warning.
func nextDailyTrigger(now time.Time, times []string, loc *time.Location) time.Time {
	var best time.Time
	for _, hm := range times {
		var hh, mm int
		if _, err := fmt.Sscanf(hm, "%d:%d", &hh, &mm); err != nil {
			log.Printf("[scheduler] invalid DAILY_RUN_TIMES entry %q: %v", hm, err)
			continue
		}
		candidate := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, loc)
		if !candidate.After(now) {
			candidate = candidate.Add(24 * time.Hour)
		}
		if best.IsZero() || candidate.Before(best) {
			best = candidate
		}
	}
	if best.IsZero() {
		return now.Add(24 * time.Hour)
	}
	return best
}

// RunPassNow executes one scheduler pass immediately, usable both by the
// internal loops and by the manual-trigger control endpoint.
func (s *Scheduler) RunPassNow(ctx context.Context, reason Reason) error {
	passCtx, cancel := context.WithTimeout(ctx, s.passDeadline)
	defer cancel()

	start := time.Now()
	defer func() {
		observability.PassDuration.Observe(time.Since(start).Seconds())
		s.mu.Lock()
		s.lastPassAt = time.Now()
		s.mu.Unlock()
	}()

	if !s.circuitBreaker.ShouldAdmit() {
		return fmt.Errorf("scheduler circuit open, skipping %s pass", reason)
	}

	policy := s.config.LoadPolicy()
	err := s.pass(passCtx, policy, reason)
	if err != nil {
		s.circuitBreaker.RecordFailure()
		return err
	}
	s.circuitBreaker.RecordSuccess()
	return nil
}

// pass implements the three-step procedure: reset stale locks, find due
// bookings, then claim/process/release each one. Failures on one booking
// never abort the batch.
func (s *Scheduler) pass(ctx context.Context, policy *clock.Policy, reason Reason) error {
	now := time.Now()
	cutoff := now.Add(-policy.StaleLockTTL)

	reset, err := s.store.ResetStaleLocks(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("reset stale locks: %w", err)
	}
	if reset > 0 {
		observability.StaleLocksReset.Add(float64(reset))
		log.Printf("[scheduler] reset %d stale locks (pass=%s)", reset, reason)
	}

	due, err := s.store.FindDueBookings(ctx, now, policy.BatchSize)
	if err != nil {
		return fmt.Errorf("find due bookings: %w", err)
	}

	batchID := fmt.Sprintf("%s-%d", reason, now.UnixNano())
	for i, id := range due {
		if ctx.Err() != nil {
			log.Printf("[scheduler] pass deadline exceeded, %d bookings left pending", len(due)-i)
			break
		}
		s.processOne(ctx, id, policy, batchID)
	}
	return nil
}

func (s *Scheduler) processOne(ctx context.Context, id int64, policy *clock.Policy, batchID string) {
	claimerID := s.instanceID
	if !s.envLimiter.Allow(claimerID) {
		// This instance is claiming faster than its configured rate; leave
		// the booking pending for the next pass or another instance.
		return
	}

	claimed, err := s.store.ClaimBooking(ctx, id, claimerID, time.Now())
	if err != nil {
		log.Printf("[scheduler] claim booking %d failed: %v", id, err)
		return
	}
	if !claimed {
		observability.ClaimRaces.WithLabelValues("claim").Inc()
		return
	}

	outcome, err := s.engine.Assign(ctx, id, policy, batchID)
	if err != nil {
		log.Printf("[scheduler] engine failed for booking %d: %v", id, err)
		s.releaseWithBackoff(ctx, id, policy, "engine_error")
		return
	}

	switch outcome {
	case engine.OutcomeCommitted, engine.OutcomeAlreadyDone:
		if err := s.store.ReleaseBooking(ctx, id, store.ReleaseDone, false, time.Time{}); err != nil {
			log.Printf("[scheduler] release booking %d as done: %v", id, err)
		}
	case engine.OutcomeCancelled:
		if err := s.store.ReleaseBooking(ctx, id, store.ReleaseSkipped, false, time.Time{}); err != nil {
			log.Printf("[scheduler] release booking %d as skipped: %v", id, err)
		}
	case engine.OutcomeEscalated:
		s.releaseWithBackoff(ctx, id, policy, "no_candidates")
	}
}

// releaseWithBackoff returns a booking that failed this pass's assignment
// attempt to the pool, per §4.5/§7: it is not due again until an
// exponentially growing backoff elapses, and once the policy's
// MaxPoolAttempts is exhausted the booking transitions to poolStatus=failed
// instead of retrying forever, surfacing it for manual assignment.
func (s *Scheduler) releaseWithBackoff(ctx context.Context, id int64, policy *clock.Policy, reason string) {
	observability.PoolBackoffs.WithLabelValues(reason).Inc()

	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		log.Printf("[scheduler] reload booking %d for backoff: %v", id, err)
		if relErr := s.store.ReleaseBooking(ctx, id, store.ReleasePending, true, time.Time{}); relErr != nil {
			log.Printf("[scheduler] release booking %d after failure: %v", id, relErr)
		}
		return
	}

	attempts := b.AutoAssignAttempts + 1
	if policy.MaxPoolAttempts > 0 && attempts >= policy.MaxPoolAttempts {
		if err := s.store.FailBooking(ctx, id); err != nil {
			log.Printf("[scheduler] fail booking %d after %d attempts: %v", id, attempts, err)
		}
		return
	}

	delay := pool.Backoff(b.AutoAssignAttempts, policy.PoolBaseBackoff, policy.PoolMaxBackoff)
	nextAt := time.Now().Add(delay)
	if err := s.store.ReleaseBooking(ctx, id, store.ReleasePending, true, nextAt); err != nil {
		log.Printf("[scheduler] release booking %d as pending: %v", id, err)
	}
}
