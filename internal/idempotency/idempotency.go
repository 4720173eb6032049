// Package idempotency dedupes Schedule(bookingId) calls coming through
// the Bookings API so a retried webhook does not enqueue the same
// booking for auto-assignment twice. Grounded on
// control_plane/idempotency/store.go's Store: same Redis-backed-with-
// in-memory-fallback shape, retargeted from caching whole HTTP responses
// to a simple "have we already scheduled this booking id" marker, since
// Schedule has no response body worth replaying — only a duplicate
// side-effect worth suppressing.
package idempotency

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/meetbridge/interpreter-scheduler/internal/store"
)

const defaultTTL = 24 * time.Hour

// Store dedupes Schedule(bookingId) calls against a backend (normally
// RedisIdempotency), falling back to an in-memory map if no backend is
// configured or the backend errors.
type Store struct {
	backend store.IdempotencyBackend
	cache   sync.Map // key -> time.Time (when scheduled)
}

func NewStore(backend store.IdempotencyBackend) *Store {
	return &Store{backend: backend}
}

// TryMarkScheduled returns true if this is the first time bookingID has
// been marked scheduled within the dedupe window, false if it is a
// repeat. A repeat call means the caller should treat Schedule as already
// having happened and skip re-enqueuing.
func (s *Store) TryMarkScheduled(ctx context.Context, bookingID int64) bool {
	key := scheduleKey(bookingID)

	if s.backend != nil {
		ok, err := s.backend.SetNX(ctx, key, time.Now().Format(time.RFC3339), defaultTTL)
		if err != nil {
			log.Printf("[idempotency] backend error deduping booking %d, falling back to memory: %v", bookingID, err)
		} else {
			return ok
		}
	}

	actual, loaded := s.cache.LoadOrStore(key, time.Now())
	if !loaded {
		return true
	}
	if time.Since(actual.(time.Time)) > defaultTTL {
		s.cache.Store(key, time.Now())
		return true
	}
	return false
}

func scheduleKey(bookingID int64) string {
	return store.EnvKey("global", store.ResourceBooking, "schedule:dedupe:"+strconv.FormatInt(bookingID, 10))
}
