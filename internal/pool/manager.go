package pool

import (
	"context"
	"fmt"
	"log"

	"github.com/meetbridge/interpreter-scheduler/internal/clock"
	"github.com/meetbridge/interpreter-scheduler/internal/idempotency"
	"github.com/meetbridge/interpreter-scheduler/internal/observability"
	"github.com/meetbridge/interpreter-scheduler/internal/store"
)

// Manager is the seam an external Bookings API calls into after it
// publishes a new booking to the store. It owns nothing the scheduler
// doesn't already read back through Store.FindDueBookings — Schedule's
// entire job is to stamp the booking with the mode-appropriate decision
// window so it becomes due at the right time, or immediately for urgent
// bookings.
type Manager struct {
	store  store.Store
	clock  clock.Clock
	config *clock.Config
	idem   *idempotency.Store // may be nil; Schedule is then not deduped
}

func NewManager(s store.Store, c clock.Clock, cfg *clock.Config, idem *idempotency.Store) *Manager {
	return &Manager{store: s, clock: c, config: cfg, idem: idem}
}

// Schedule computes the booking's decisionWindowTime from the current
// pool mode and transitions it created -> waiting, idempotently: a
// retried call for the same bookingId after the first succeeded is a
// no-op.
func (m *Manager) Schedule(ctx context.Context, bookingID int64) error {
	if m.idem != nil && !m.idem.TryMarkScheduled(ctx, bookingID) {
		log.Printf("[pool] Schedule(%d) already scheduled, skipping duplicate enqueue", bookingID)
		return nil
	}

	b, err := m.store.GetBooking(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("pool: schedule booking %d: %w", bookingID, err)
	}
	if b.Kind != store.KindInterpreter {
		// Room bookings never enter the interpreter pool.
		return nil
	}
	if b.PoolStatus != store.PoolNone {
		// Already enqueued by an earlier Schedule call the idempotency
		// cache didn't catch (e.g. cold-started after a restart).
		return nil
	}

	policy := m.config.LoadPolicy()
	thresholds := policy.ThresholdsFor(b.MeetingType)
	now := m.clock.Now()
	window := Readiness(now, policy.Mode, b.MeetingType, b.TimeStart, thresholds)

	b.Mode = policy.Mode
	b.PoolStatus = store.PoolWaiting
	b.PoolEntryTime = now
	b.DecisionWindowTime = window
	b.AutoAssignAt = window
	b.AutoAssignStatus = store.AutoAssignPending

	if err := m.store.UpsertBooking(ctx, b); err != nil {
		return fmt.Errorf("pool: persist schedule for booking %d: %w", bookingID, err)
	}

	observability.PoolDepth.WithLabelValues(string(policy.Mode)).Inc()
	log.Printf("[pool] scheduled booking %d: mode=%s decisionWindowTime=%s", bookingID, policy.Mode, window.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}

// Reschedule recomputes decisionWindowTime for a still-waiting pool entry
// under the current policy. Entries computed under a stale mode are not
// invalidated eagerly on a mode switch — this is the lazy recompute
// invoked the next time the pool is inspected (e.g. by an admin endpoint
// or the next Schedule-adjacent call), not a background sweep of its own.
func (m *Manager) Reschedule(ctx context.Context, bookingID int64) error {
	b, err := m.store.GetBooking(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("pool: reschedule booking %d: %w", bookingID, err)
	}
	if b.PoolStatus != store.PoolWaiting {
		return nil
	}

	policy := m.config.LoadPolicy()
	thresholds := policy.ThresholdsFor(b.MeetingType)
	now := m.clock.Now()
	window := Readiness(now, policy.Mode, b.MeetingType, b.TimeStart, thresholds)

	b.Mode = policy.Mode
	b.DecisionWindowTime = window
	b.AutoAssignAt = window

	return m.store.UpsertBooking(ctx, b)
}
