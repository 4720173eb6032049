package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/meetbridge/interpreter-scheduler/internal/clock"
	"github.com/meetbridge/interpreter-scheduler/internal/engine"
	"github.com/meetbridge/interpreter-scheduler/internal/store"
)

func seedEnv(s *store.MemoryStore) {
	s.SeedEnvironment(&store.Environment{
		Name:                "env-a",
		AdminEmpCodes:       []string{"ADMIN1"},
		InterpreterEmpCodes: []string{"E001"},
	})
	s.SeedInterpreter(&store.Interpreter{EmpCode: "E001", IsActive: true, EnvironmentName: "env-a"})
}

func TestPassCommitsDueBookings(t *testing.T) {
	s := store.NewMemoryStore()
	seedEnv(s)

	now := time.Now()
	b := &store.Booking{
		Kind: store.KindInterpreter, Status: store.StatusWaiting,
		TimeStart: now.Add(time.Hour), TimeEnd: now.Add(2 * time.Hour),
		OwnerEmpCode: "ADMIN1", MeetingType: store.MeetingGeneral,
		AutoAssignStatus: store.AutoAssignPending, AutoAssignAt: now.Add(-time.Minute),
	}
	if err := s.UpsertBooking(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	e := engine.New(s, clock.Real{}, nil)
	cfg := clock.NewConfig()
	sched := New(s, e, cfg, "instance-1")

	if err := sched.RunPassNow(context.Background(), ReasonManual); err != nil {
		t.Fatalf("pass failed: %v", err)
	}

	got, _ := s.GetBooking(context.Background(), b.BookingID)
	if got.Status != store.StatusApprove {
		t.Fatalf("expected booking committed, got status=%s autoAssign=%s", got.Status, got.AutoAssignStatus)
	}
	if got.AutoAssignStatus != store.AutoAssignDone {
		t.Fatalf("expected autoAssignStatus=done, got %s", got.AutoAssignStatus)
	}
}

func TestResetStaleLocksRecoversAbandonedClaim(t *testing.T) {
	s := store.NewMemoryStore()
	seedEnv(s)

	now := time.Now()
	b := &store.Booking{
		Kind: store.KindInterpreter, Status: store.StatusWaiting,
		TimeStart: now.Add(time.Hour), TimeEnd: now.Add(2 * time.Hour),
		OwnerEmpCode: "ADMIN1", MeetingType: store.MeetingGeneral,
		AutoAssignStatus: store.AutoAssignProcessing, AutoAssignAt: now.Add(-time.Minute),
		AutoAssignLockedAt: now.Add(-time.Hour), AutoAssignLockedBy: "dead-instance",
	}
	if err := s.UpsertBooking(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	e := engine.New(s, clock.Real{}, nil)
	cfg := clock.NewConfig()
	sched := New(s, e, cfg, "instance-2")

	if err := sched.RunPassNow(context.Background(), ReasonManual); err != nil {
		t.Fatalf("pass failed: %v", err)
	}

	got, _ := s.GetBooking(context.Background(), b.BookingID)
	if got.Status != store.StatusApprove {
		t.Fatalf("expected the stale claim to be recovered and the booking committed, got status=%s", got.Status)
	}
}

func TestPassBacksOffEscalatedBookingInsteadOfImmediateRetry(t *testing.T) {
	s := store.NewMemoryStore()
	s.SeedEnvironment(&store.Environment{Name: "env-empty", AdminEmpCodes: []string{"ADMIN2"}})

	now := time.Now()
	b := &store.Booking{
		Kind: store.KindInterpreter, Status: store.StatusWaiting,
		TimeStart: now.Add(time.Hour), TimeEnd: now.Add(2 * time.Hour),
		OwnerEmpCode: "ADMIN2", MeetingType: store.MeetingGeneral,
		AutoAssignStatus: store.AutoAssignPending, AutoAssignAt: now.Add(-time.Minute),
	}
	if err := s.UpsertBooking(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	e := engine.New(s, clock.Real{}, nil)
	cfg := clock.NewConfig()
	sched := New(s, e, cfg, "instance-1")

	if err := sched.RunPassNow(context.Background(), ReasonManual); err != nil {
		t.Fatalf("pass failed: %v", err)
	}

	got, _ := s.GetBooking(context.Background(), b.BookingID)
	if got.AutoAssignStatus != store.AutoAssignPending {
		t.Fatalf("expected escalated booking to return to pending for retry, got %s", got.AutoAssignStatus)
	}
	if got.AutoAssignAttempts != 1 {
		t.Fatalf("expected attempts incremented to 1, got %d", got.AutoAssignAttempts)
	}
	if !got.AutoAssignAt.After(now) {
		t.Fatalf("expected autoAssignAt pushed forward by backoff, got %s (now=%s)", got.AutoAssignAt, now)
	}
	if got.PoolStatus == store.PoolFailed {
		t.Fatal("one failed attempt should not exhaust the pool retry budget")
	}
}

func TestPassFailsBookingAfterMaxPoolAttempts(t *testing.T) {
	s := store.NewMemoryStore()
	s.SeedEnvironment(&store.Environment{Name: "env-empty", AdminEmpCodes: []string{"ADMIN2"}})

	now := time.Now()
	b := &store.Booking{
		Kind: store.KindInterpreter, Status: store.StatusWaiting,
		TimeStart: now.Add(time.Hour), TimeEnd: now.Add(2 * time.Hour),
		OwnerEmpCode: "ADMIN2", MeetingType: store.MeetingGeneral,
		AutoAssignStatus:   store.AutoAssignPending,
		AutoAssignAt:       now.Add(-time.Minute),
		AutoAssignAttempts: 4, // one below the default MaxPoolAttempts=5
	}
	if err := s.UpsertBooking(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	e := engine.New(s, clock.Real{}, nil)
	cfg := clock.NewConfig()
	sched := New(s, e, cfg, "instance-1")

	if err := sched.RunPassNow(context.Background(), ReasonManual); err != nil {
		t.Fatalf("pass failed: %v", err)
	}

	got, _ := s.GetBooking(context.Background(), b.BookingID)
	if got.PoolStatus != store.PoolFailed {
		t.Fatalf("expected poolStatus=failed after exhausting the retry budget, got %s", got.PoolStatus)
	}
	if got.AutoAssignStatus != store.AutoAssignSkipped {
		t.Fatalf("expected autoAssignStatus=skipped so FindDueBookings stops returning it, got %s", got.AutoAssignStatus)
	}
}

func TestClaimBookingIsExclusive(t *testing.T) {
	s := store.NewMemoryStore()
	now := time.Now()
	b := &store.Booking{
		Kind: store.KindInterpreter, Status: store.StatusWaiting,
		AutoAssignStatus: store.AutoAssignPending,
	}
	if err := s.UpsertBooking(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	ok1, err := s.ClaimBooking(context.Background(), b.BookingID, "instance-1", now)
	if err != nil || !ok1 {
		t.Fatalf("first claim should succeed: ok=%v err=%v", ok1, err)
	}
	ok2, err := s.ClaimBooking(context.Background(), b.BookingID, "instance-2", now)
	if err != nil {
		t.Fatal(err)
	}
	if ok2 {
		t.Fatal("second claim must lose the race")
	}
}
