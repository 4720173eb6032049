package store

import (
	"context"
	"testing"
	"time"
)

func TestClaimBookingIsSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	b := &Booking{
		Kind: KindInterpreter, Status: StatusWaiting,
		AutoAssignStatus: AutoAssignPending,
		AutoAssignAt:     now,
	}
	if err := s.UpsertBooking(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	ok1, err := s.ClaimBooking(context.Background(), b.BookingID, "worker-a", now)
	if err != nil || !ok1 {
		t.Fatalf("first claim should succeed: ok=%v err=%v", ok1, err)
	}
	ok2, err := s.ClaimBooking(context.Background(), b.BookingID, "worker-b", now)
	if err != nil || ok2 {
		t.Fatalf("second claim should be rejected: ok=%v err=%v", ok2, err)
	}
}

func TestResetStaleLocksOnlyAffectsProcessingPastCutoff(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()

	stale := &Booking{Kind: KindInterpreter, Status: StatusWaiting, AutoAssignStatus: AutoAssignProcessing, AutoAssignLockedAt: now.Add(-time.Hour)}
	fresh := &Booking{Kind: KindInterpreter, Status: StatusWaiting, AutoAssignStatus: AutoAssignProcessing, AutoAssignLockedAt: now}
	s.UpsertBooking(context.Background(), stale)
	s.UpsertBooking(context.Background(), fresh)

	n, err := s.ResetStaleLocks(context.Background(), now.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 stale lock reset, got %d", n)
	}

	got, _ := s.GetBooking(context.Background(), stale.BookingID)
	if got.AutoAssignStatus != AutoAssignPending {
		t.Fatalf("stale booking should be back to pending, got %s", got.AutoAssignStatus)
	}
	got, _ = s.GetBooking(context.Background(), fresh.BookingID)
	if got.AutoAssignStatus != AutoAssignProcessing {
		t.Fatalf("fresh lock should be untouched, got %s", got.AutoAssignStatus)
	}
}

func TestCommitAssignmentRejectsStaleVersion(t *testing.T) {
	s := NewMemoryStore()
	b := &Booking{Kind: KindInterpreter, Status: StatusWaiting}
	s.UpsertBooking(context.Background(), b)

	if err := s.CommitAssignment(context.Background(), b.BookingID, "E001", 1); err == nil {
		t.Fatal("expected version mismatch to be rejected")
	}
	if err := s.CommitAssignment(context.Background(), b.BookingID, "E001", 0); err != nil {
		t.Fatalf("commit with correct expected version should succeed: %v", err)
	}

	got, _ := s.GetBooking(context.Background(), b.BookingID)
	if got.InterpreterEmpCode != "E001" || got.Status != StatusApprove || got.Version != 1 {
		t.Fatalf("unexpected booking state after commit: %+v", got)
	}
}

func TestListCandidateInterpretersFiltersInactiveAndLanguage(t *testing.T) {
	s := NewMemoryStore()
	s.SeedEnvironment(&Environment{
		Name:                "env-a",
		AdminEmpCodes:       []string{"ADMIN1"},
		InterpreterEmpCodes: []string{"E001", "E002", "E003"},
	})
	s.SeedInterpreter(&Interpreter{EmpCode: "E001", IsActive: true, Languages: []string{"en"}, EnvironmentName: "env-a"})
	s.SeedInterpreter(&Interpreter{EmpCode: "E002", IsActive: false, Languages: []string{"en"}, EnvironmentName: "env-a"})
	s.SeedInterpreter(&Interpreter{EmpCode: "E003", IsActive: true, Languages: []string{"fr"}, EnvironmentName: "env-a"})

	b := &Booking{Kind: KindInterpreter, OwnerEmpCode: "ADMIN1", LanguageCode: "en"}
	s.UpsertBooking(context.Background(), b)

	got, err := s.ListCandidateInterpreters(context.Background(), b.BookingID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].EmpCode != "E001" {
		t.Fatalf("expected only E001 (active + matching language), got %+v", got)
	}
}

func TestOverlappingBookingsRespectsHalfOpenInterval(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	committed := &Booking{
		Kind: KindInterpreter, Status: StatusApprove, InterpreterEmpCode: "E001",
		TimeStart: base, TimeEnd: base.Add(time.Hour),
	}
	s.UpsertBooking(context.Background(), committed)

	// Adjacent booking starting exactly when the first ends must not overlap.
	adjacent, err := s.OverlappingBookings(context.Background(), "E001", base.Add(time.Hour), base.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(adjacent) != 0 {
		t.Fatalf("adjacent interval should not be reported as overlapping: %+v", adjacent)
	}

	overlapping, err := s.OverlappingBookings(context.Background(), "E001", base.Add(30*time.Minute), base.Add(90*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(overlapping) != 1 {
		t.Fatalf("expected one overlapping booking, got %d", len(overlapping))
	}
}

func TestFairnessCountersOnlyCountsWindowedCommittedBookings(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()

	inWindow := &Booking{
		Kind: KindInterpreter, Status: StatusApprove, InterpreterEmpCode: "E001",
		TimeStart: now.Add(-time.Hour), TimeEnd: now, MeetingType: MeetingGeneral,
	}
	outOfWindow := &Booking{
		Kind: KindInterpreter, Status: StatusApprove, InterpreterEmpCode: "E001",
		TimeStart: now.Add(-240 * time.Hour), TimeEnd: now.Add(-239 * time.Hour), MeetingType: MeetingGeneral,
	}
	uncommitted := &Booking{
		Kind: KindInterpreter, Status: StatusWaiting, InterpreterEmpCode: "",
		TimeStart: now.Add(-time.Minute), TimeEnd: now, MeetingType: MeetingGeneral,
	}
	s.UpsertBooking(context.Background(), inWindow)
	s.UpsertBooking(context.Background(), outOfWindow)
	s.UpsertBooking(context.Background(), uncommitted)

	counters, err := s.FairnessCounters(context.Background(), []string{"E001"}, now.Add(-48*time.Hour), now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if counters["E001"].AssignmentCount != 1 {
		t.Fatalf("expected exactly 1 windowed assignment, got %d", counters["E001"].AssignmentCount)
	}
}
