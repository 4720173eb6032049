// Package pool implements the deferred-booking pool: readiness-window
// computation per mode and a ready-batch ordering (OrderReady/BatchQueue).
// The scheduler's pass does not use that ordering; it processes bookings
// in FindDueBookings order. The ordering queue is adapted from
// control_plane/scheduler/queue.go's container/heap-based
// ThreadSafeQueue, replacing its wait-time "aging" priority with a fixed
// urgency-tier-then-timeStart rule — this domain has no starvation
// problem to age away, since every entry's readiness is computed once at
// enqueue.
package pool

import (
	"container/heap"
	"sync"
	"time"

	"github.com/meetbridge/interpreter-scheduler/internal/clock"
	"github.com/meetbridge/interpreter-scheduler/internal/store"
)

// urgentWindow is the ceiling used to classify a booking as "urgent tier"
// for batch ordering purposes, independent of the per-meeting-type
// thresholds used for readiness computation.
const urgentWindow = 24 * time.Hour

// Readiness computes decisionWindowTime for a booking at enqueue time,
// following the mode/meeting-type readiness table.
func Readiness(now time.Time, mode store.Mode, meetingType store.MeetingType, timeStart time.Time, thresholds clock.ThresholdConfig) time.Time {
	daysUntil := timeStart.Sub(now)
	isUrgentByThreshold := daysUntil <= time.Duration(thresholds.UrgentDays)*24*time.Hour

	var readiness time.Duration
	switch mode {
	case store.ModeUrgent:
		if isUrgentByThreshold {
			// Assign immediately on enqueue.
			return now
		}
		general := time.Duration(thresholds.GeneralDays) * 24 * time.Hour
		urgentPlus1 := time.Duration(thresholds.UrgentDays+1) * 24 * time.Hour
		readiness = minDuration(general, urgentPlus1)
	case store.ModeBalance:
		if isUrgentByThreshold {
			readiness = time.Duration(thresholds.UrgentDays) * 24 * time.Hour
		} else {
			readiness = time.Duration(thresholds.GeneralDays) * 24 * time.Hour
		}
	case store.ModeCustom:
		if isUrgentByThreshold {
			readiness = time.Duration(thresholds.UrgentDays) * 24 * time.Hour
		} else {
			readiness = time.Duration(thresholds.GeneralDays) * 24 * time.Hour
		}
	default: // ModeNormal
		if isUrgentByThreshold {
			readiness = 24 * time.Hour
		} else {
			readiness = time.Duration(thresholds.GeneralDays) * 24 * time.Hour
		}
	}

	window := timeStart.Add(-readiness)
	if window.Before(now) {
		window = now
	}
	hardDeadline := timeStart.Add(-time.Hour)
	if window.After(hardDeadline) {
		window = hardDeadline
	}
	return window
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// Backoff computes the exponential retry delay for a pool entry that
// failed to assign, per §4.5: min(maxBackoff, base * 2^attempts).
func Backoff(attempts int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}

// Entry is one queued booking awaiting batch processing.
type Entry struct {
	BookingID int64
	TimeStart time.Time
	index     int // heap bookkeeping
}

func (e *Entry) urgencyTier(now time.Time) int {
	if e.TimeStart.Sub(now) <= urgentWindow {
		return 0 // higher priority tier
	}
	return 1
}

// readyQueue is the container/heap implementation: ascending urgency tier,
// then ascending TimeStart.
type readyQueue struct {
	entries []*Entry
	now     time.Time
}

func (q readyQueue) Len() int { return len(q.entries) }

func (q readyQueue) Less(i, j int) bool {
	a, b := q.entries[i], q.entries[j]
	ta, tb := a.urgencyTier(q.now), b.urgencyTier(q.now)
	if ta != tb {
		return ta < tb
	}
	return a.TimeStart.Before(b.TimeStart)
}

func (q readyQueue) Swap(i, j int) {
	q.entries[i], q.entries[j] = q.entries[j], q.entries[i]
	q.entries[i].index = i
	q.entries[j].index = j
}

func (q *readyQueue) Push(x any) {
	e := x.(*Entry)
	e.index = len(q.entries)
	q.entries = append(q.entries, e)
}

func (q *readyQueue) Pop() any {
	old := q.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	q.entries = old[:n-1]
	return e
}

// BatchQueue orders ready pool entries for one scheduler tick. It is
// rebuilt fresh per tick (Readiness already decided membership); the heap
// only orders the already-ready set, so `now` is fixed for the lifetime of
// one BatchQueue.
type BatchQueue struct {
	mu sync.Mutex
	q  readyQueue
}

func NewBatchQueue(now time.Time) *BatchQueue {
	return &BatchQueue{q: readyQueue{entries: make([]*Entry, 0), now: now}}
}

func (b *BatchQueue) Push(e *Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	heap.Push(&b.q, e)
}

func (b *BatchQueue) Pop() *Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.q.entries) == 0 {
		return nil
	}
	return heap.Pop(&b.q).(*Entry)
}

func (b *BatchQueue) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.q.entries)
}

// OrderReady drains FindDueBookings-style ids with known timeStarts into
// the batch order in one call, for callers that don't need incremental
// pushes.
func OrderReady(now time.Time, entries []Entry) []Entry {
	q := NewBatchQueue(now)
	for i := range entries {
		cp := entries[i]
		q.Push(&cp)
	}
	out := make([]Entry, 0, len(entries))
	for {
		e := q.Pop()
		if e == nil {
			break
		}
		out = append(out, *e)
	}
	return out
}
