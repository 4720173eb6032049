package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the abstract store's error kinds. The engine
// and scheduler branch on these with errors.Is.
var (
	ErrNotFound         = errors.New("store: not found")
	ErrAlreadyCommitted = errors.New("store: booking already committed outside claim")
	ErrConflict         = errors.New("store: commit lost to another writer")
	ErrStoreUnavailable = errors.New("store: transient failure")
)

// ReleaseNext enumerates the terminal/retry statuses ReleaseBooking accepts.
type ReleaseNext string

const (
	ReleasePending ReleaseNext = "pending"
	ReleaseDone    ReleaseNext = "done"
	ReleaseSkipped ReleaseNext = "skipped"
)

// Store is the abstract persistence contract the assignment core depends
// on (§4.2). Concrete adapters (Postgres, in-memory) implement it;
// the core never branches on which backend is in play.
type Store interface {
	GetBooking(ctx context.Context, id int64) (*Booking, error)

	// FindDueBookings returns ids where autoAssignStatus=pending AND
	// autoAssignAt<=now AND status=waiting AND interpreterEmpCode is empty
	// AND kind=INTERPRETER, ordered by autoAssignAt ascending.
	FindDueBookings(ctx context.Context, now time.Time, limit int) ([]int64, error)

	// ClaimBooking atomically transitions (pending, unlocked) -> (processing,
	// lockedAt=now, lockedBy=claimerID). Returns true iff the row transitioned.
	ClaimBooking(ctx context.Context, id int64, claimerID string, now time.Time) (bool, error)

	// ResetStaleLocks transitions (processing AND lockedAt<cutoff) -> pending,
	// returning the number of rows reset.
	ResetStaleLocks(ctx context.Context, cutoff time.Time) (int, error)

	// ReleaseBooking moves a claimed booking to a terminal/retry status,
	// optionally incrementing the attempt counter. When next is
	// ReleasePending and nextAutoAssignAt is non-zero, autoAssignAt is
	// pushed forward to it (the caller's computed backoff delay) instead
	// of leaving the booking immediately due again.
	ReleaseBooking(ctx context.Context, id int64, next ReleaseNext, incrementAttempts bool, nextAutoAssignAt time.Time) error

	// FailBooking transitions a booking that exhausted its pool retry
	// budget to poolStatus=failed: autoAssignStatus moves to skipped so
	// it stops being claimed, surfacing it for manual assignment instead
	// of retrying forever.
	FailBooking(ctx context.Context, id int64) error

	// CommitAssignment performs a conflict-safe write of the chosen
	// interpreter. On optimistic-lock mismatch it returns ErrConflict.
	CommitAssignment(ctx context.Context, id int64, interpreterEmpCode string, expectedVersion int) error

	// ListCandidateInterpreters applies the environment/language scoping
	// configured for the booking's owner.
	ListCandidateInterpreters(ctx context.Context, bookingID int64) ([]*Interpreter, error)

	FairnessCounters(ctx context.Context, empCodes []string, windowStart, windowEnd time.Time) (map[string]FairnessCounter, error)

	// RecentAssignmentHistory returns an interpreter's committed assignments
	// within the window, newest first, of ANY meeting type. Callers computing
	// a consecutive-DR run need the non-DR entries too, to see where the run
	// was interrupted: do not filter this to DR types in the implementation.
	RecentAssignmentHistory(ctx context.Context, empCode string, windowStart time.Time) ([]DRAssignment, error)

	// LastGlobalDRBefore returns the most recent DR assignment across all
	// interpreters strictly before `instant`, or ok=false if none.
	LastGlobalDRBefore(ctx context.Context, instant time.Time, windowStart time.Time) (empCode string, at time.Time, ok bool, err error)

	// OverlappingBookings returns bookings for empCode intersecting
	// [start,end), considering statuses {approve, waiting-with-committed-interpreter}.
	OverlappingBookings(ctx context.Context, empCode string, start, end time.Time) ([]*Booking, error)

	AppendDecisionLog(ctx context.Context, record AssignmentDecisionLog) error
	AppendErrorLog(ctx context.Context, record ErrorLogRecord) error

	// GetEnvironmentForOwner resolves the environment scope for the given
	// owner emp-code/group, used to build the candidate list.
	GetEnvironmentForOwner(ctx context.Context, ownerEmpCode, ownerGroup string) (*Environment, error)

	// UpsertBooking creates or replaces a booking record (used by Schedule
	// and by tests seeding fixtures).
	UpsertBooking(ctx context.Context, b *Booking) error

	// ListInterpreters returns the full roster for an environment, used by
	// the liveness monitor rather than per-booking candidate building.
	ListInterpreters(ctx context.Context, environmentName string) ([]*Interpreter, error)

	// UpsertInterpreter persists a roster member's state, including
	// liveness-driven IsActive flips.
	UpsertInterpreter(ctx context.Context, i *Interpreter) error
}

// Coordinator is the distributed-coordination surface used for the
// daily-tick leader election lease. It is
// independent of Store so a Store implementation (e.g. Postgres-only) can
// run without it in single-instance mode.
type Coordinator interface {
	AcquireLease(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key string, value string) error
	IsLeaseOwner(ctx context.Context, key string, value string) (bool, error)
	IncrementEpoch(ctx context.Context, key string) (int64, error)
}

// IdempotencyBackend is the generic key/value surface used by the
// idempotency cache to dedupe Schedule(bookingId) calls.
type IdempotencyBackend interface {
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
}
