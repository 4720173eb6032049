package engine

import (
	"context"
	"testing"
	"time"

	"github.com/meetbridge/interpreter-scheduler/internal/clock"
	"github.com/meetbridge/interpreter-scheduler/internal/store"
)

func seedBasicEnv(s *store.MemoryStore) {
	s.SeedEnvironment(&store.Environment{
		Name:                "env-a",
		AdminEmpCodes:       []string{"ADMIN1"},
		InterpreterEmpCodes: []string{"E001", "E002"},
		DepartmentCenters:   []string{"DEPT-A"},
	})
	s.SeedInterpreter(&store.Interpreter{EmpCode: "E001", IsActive: true, Languages: []string{"EN"}, EnvironmentName: "env-a"})
	s.SeedInterpreter(&store.Interpreter{EmpCode: "E002", IsActive: true, Languages: []string{"EN"}, EnvironmentName: "env-a"})
}

func testPolicy() *clock.Policy {
	return &clock.Policy{
		Mode:                      store.ModeNormal,
		FairnessWindow:            30 * 24 * time.Hour,
		WAvailability:             1.0,
		WFairness:                 0.4,
		WDR:                       0.3,
		WRecency:                  0.2,
		WLanguage:                 0.5,
		DRConsecutiveMaxRun:       3,
		DRConsecutivePenaltyHours: 2.0,
		Hash:                      "test-policy",
	}
}

func TestAssignCommitsDeterministically(t *testing.T) {
	s := store.NewMemoryStore()
	seedBasicEnv(s)

	now := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	booking := &store.Booking{
		Kind: store.KindInterpreter, Status: store.StatusWaiting,
		TimeStart: now.Add(time.Hour), TimeEnd: now.Add(2 * time.Hour),
		OwnerEmpCode: "ADMIN1", LanguageCode: "EN", MeetingType: store.MeetingGeneral,
		AutoAssignStatus: store.AutoAssignProcessing,
	}
	if err := s.UpsertBooking(context.Background(), booking); err != nil {
		t.Fatal(err)
	}

	e := New(s, clock.NewFake(now), nil)
	outcome, err := e.Assign(context.Background(), booking.BookingID, testPolicy(), "batch-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeCommitted {
		t.Fatalf("expected committed, got %s", outcome)
	}

	got, _ := s.GetBooking(context.Background(), booking.BookingID)
	if got.InterpreterEmpCode == "" {
		t.Fatal("expected an interpreter to be committed")
	}
	if got.Status != store.StatusApprove {
		t.Fatalf("expected status approve, got %s", got.Status)
	}

	logs := s.DecisionLogs()
	if len(logs) != 1 {
		t.Fatalf("expected exactly one decision log entry, got %d", len(logs))
	}
	if logs[0].Chosen != got.InterpreterEmpCode {
		t.Fatalf("decision log chosen=%s does not match committed interpreter=%s", logs[0].Chosen, got.InterpreterEmpCode)
	}
}

func TestAssignAvoidsConflictingInterpreter(t *testing.T) {
	s := store.NewMemoryStore()
	seedBasicEnv(s)

	now := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	start, end := now.Add(time.Hour), now.Add(2*time.Hour)

	busy := &store.Booking{
		Kind: store.KindInterpreter, Status: store.StatusApprove,
		TimeStart: start, TimeEnd: end, InterpreterEmpCode: "E001",
		OwnerEmpCode: "ADMIN1", MeetingType: store.MeetingGeneral,
	}
	if err := s.UpsertBooking(context.Background(), busy); err != nil {
		t.Fatal(err)
	}

	booking := &store.Booking{
		Kind: store.KindInterpreter, Status: store.StatusWaiting,
		TimeStart: start, TimeEnd: end,
		OwnerEmpCode: "ADMIN1", LanguageCode: "EN", MeetingType: store.MeetingGeneral,
		AutoAssignStatus: store.AutoAssignProcessing,
	}
	if err := s.UpsertBooking(context.Background(), booking); err != nil {
		t.Fatal(err)
	}

	e := New(s, clock.NewFake(now), nil)
	outcome, err := e.Assign(context.Background(), booking.BookingID, testPolicy(), "batch-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeCommitted {
		t.Fatalf("expected committed, got %s", outcome)
	}

	got, _ := s.GetBooking(context.Background(), booking.BookingID)
	if got.InterpreterEmpCode != "E002" {
		t.Fatalf("expected E002 (E001 is busy), got %s", got.InterpreterEmpCode)
	}
}

func TestAssignEscalatesWhenNoCandidates(t *testing.T) {
	s := store.NewMemoryStore()
	s.SeedEnvironment(&store.Environment{
		Name:                "env-empty",
		AdminEmpCodes:       []string{"ADMIN2"},
		InterpreterEmpCodes: nil,
	})

	now := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	booking := &store.Booking{
		Kind: store.KindInterpreter, Status: store.StatusWaiting,
		TimeStart: now.Add(time.Hour), TimeEnd: now.Add(2 * time.Hour),
		OwnerEmpCode: "ADMIN2", MeetingType: store.MeetingGeneral,
		AutoAssignStatus: store.AutoAssignProcessing,
	}
	if err := s.UpsertBooking(context.Background(), booking); err != nil {
		t.Fatal(err)
	}

	e := New(s, clock.NewFake(now), nil)
	outcome, err := e.Assign(context.Background(), booking.BookingID, testPolicy(), "batch-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeEscalated {
		t.Fatalf("expected escalated, got %s", outcome)
	}

	logs := s.DecisionLogs()
	if len(logs) != 1 || !logs[0].Escalated {
		t.Fatalf("expected one escalated decision log, got %+v", logs)
	}
}

func TestAssignFallsBackToDRBlockedCandidateWhenNoAlternative(t *testing.T) {
	s := store.NewMemoryStore()
	s.SeedEnvironment(&store.Environment{
		Name:                "env-a",
		AdminEmpCodes:       []string{"ADMIN1"},
		InterpreterEmpCodes: []string{"E001"},
	})
	s.SeedInterpreter(&store.Interpreter{EmpCode: "E001", IsActive: true, Languages: []string{"EN"}, EnvironmentName: "env-a"})

	now := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)

	// Three consecutive, uninterrupted DR assignments for E001 reach the
	// policy's max run, which would normally hard-block E001 from another
	// DR meeting. E001 is also the only candidate in the environment.
	for i, mt := range []store.MeetingType{store.MeetingDR_I, store.MeetingDR_II, store.MeetingDR_I} {
		past := &store.Booking{
			Kind: store.KindInterpreter, Status: store.StatusApprove,
			InterpreterEmpCode: "E001", MeetingType: mt,
			TimeStart: now.Add(-time.Duration(3-i) * time.Hour),
			TimeEnd:   now.Add(-time.Duration(3-i)*time.Hour + 30*time.Minute),
			OwnerEmpCode: "ADMIN1",
		}
		if err := s.UpsertBooking(context.Background(), past); err != nil {
			t.Fatal(err)
		}
	}

	booking := &store.Booking{
		Kind: store.KindInterpreter, Status: store.StatusWaiting,
		TimeStart: now.Add(time.Hour), TimeEnd: now.Add(2 * time.Hour),
		OwnerEmpCode: "ADMIN1", LanguageCode: "EN", MeetingType: store.MeetingDR_I,
		AutoAssignStatus: store.AutoAssignProcessing,
	}
	if err := s.UpsertBooking(context.Background(), booking); err != nil {
		t.Fatal(err)
	}

	e := New(s, clock.NewFake(now), nil)
	outcome, err := e.Assign(context.Background(), booking.BookingID, testPolicy(), "batch-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeCommitted {
		t.Fatalf("expected the DR-blocked candidate to be used as a fallback, got %s", outcome)
	}

	got, _ := s.GetBooking(context.Background(), booking.BookingID)
	if got.InterpreterEmpCode != "E001" {
		t.Fatalf("expected E001 to still be assignable as the only candidate, got %q", got.InterpreterEmpCode)
	}

	logs := s.DecisionLogs()
	if len(logs) != 1 {
		t.Fatalf("expected exactly one decision log entry, got %d", len(logs))
	}
	if logs[0].Chosen != "E001" {
		t.Fatalf("expected chosen=E001, got %s", logs[0].Chosen)
	}
	var found bool
	for _, c := range logs[0].Candidates {
		if c.EmpCode == "E001" {
			found = true
			if !c.Blocked {
				t.Fatal("expected E001's candidate entry to still be annotated as DR-blocked")
			}
		}
	}
	if !found {
		t.Fatal("expected a candidate decision entry for E001")
	}
}

func TestAssignAlreadyDoneShortCircuits(t *testing.T) {
	s := store.NewMemoryStore()
	seedBasicEnv(s)

	now := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	booking := &store.Booking{
		Kind: store.KindInterpreter, Status: store.StatusApprove,
		TimeStart: now.Add(time.Hour), TimeEnd: now.Add(2 * time.Hour),
		OwnerEmpCode: "ADMIN1", InterpreterEmpCode: "E001", MeetingType: store.MeetingGeneral,
	}
	if err := s.UpsertBooking(context.Background(), booking); err != nil {
		t.Fatal(err)
	}

	e := New(s, clock.NewFake(now), nil)
	outcome, err := e.Assign(context.Background(), booking.BookingID, testPolicy(), "batch-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeAlreadyDone {
		t.Fatalf("expected already_done, got %s", outcome)
	}
}
