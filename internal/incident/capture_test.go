package incident

import (
	"context"
	"testing"
	"time"

	"github.com/meetbridge/interpreter-scheduler/internal/store"
)

func TestCaptureBundlesBookingAndEnvironment(t *testing.T) {
	s := store.NewMemoryStore()
	s.SeedEnvironment(&store.Environment{Name: "env-a", AdminEmpCodes: []string{"ADMIN1"}})
	b := &store.Booking{OwnerEmpCode: "ADMIN1", Status: store.StatusWaiting}
	if err := s.UpsertBooking(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	decision := store.AssignmentDecisionLog{BookingID: b.BookingID, Escalated: true, Timestamp: time.Now()}
	report, err := Capture(context.Background(), s, decision)
	if err != nil {
		t.Fatal(err)
	}
	if report.Booking == nil || report.Booking.BookingID != b.BookingID {
		t.Fatal("expected report to carry the booking")
	}
	if report.Environment == nil || report.Environment.Name != "env-a" {
		t.Fatal("expected report to carry the resolved environment")
	}
}

func TestRecentBoundsCapacity(t *testing.T) {
	r := NewRecent()
	r.capacity = 2
	r.Add(&Report{BookingID: 1})
	r.Add(&Report{BookingID: 2})
	r.Add(&Report{BookingID: 3})

	got := r.Snapshot()
	if len(got) != 2 {
		t.Fatalf("expected bounded retention of 2, got %d", len(got))
	}
	if got[0].BookingID != 2 || got[1].BookingID != 3 {
		t.Fatalf("expected oldest report dropped, got %+v", got)
	}
}
