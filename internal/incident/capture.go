// Package incident captures a debugging snapshot whenever a booking is
// escalated (no eligible interpreter found), so an operator inspecting
// the debug endpoint can see exactly what the engine saw without having
// to reproduce the pass. Grounded on control_plane/incident/capture.go's
// CaptureIncident: same "fetch the related entities, bundle them with the
// event that triggered capture" shape, retargeted from a reconcile-state
// failure (DesiredState/Agent/Job/timeline events) to an assignment
// escalation (Booking/Environment/the decision log record itself).
package incident

import (
	"context"
	"time"

	"github.com/meetbridge/interpreter-scheduler/internal/store"
)

// Report bundles everything relevant to one escalated booking.
type Report struct {
	BookingID   int64                       `json:"bookingId"`
	Booking     *store.Booking              `json:"booking"`
	Environment *store.Environment          `json:"environment,omitempty"`
	Decision    store.AssignmentDecisionLog `json:"decision"`
	CapturedAt  time.Time                   `json:"capturedAt"`
}

// StoreInterface defines the narrow read surface capture needs.
type StoreInterface interface {
	GetBooking(ctx context.Context, id int64) (*store.Booking, error)
	GetEnvironmentForOwner(ctx context.Context, ownerEmpCode, ownerGroup string) (*store.Environment, error)
}

// Capture gathers the booking and environment context around an
// escalation decision.
func Capture(ctx context.Context, s StoreInterface, decision store.AssignmentDecisionLog) (*Report, error) {
	booking, err := s.GetBooking(ctx, decision.BookingID)
	if err != nil {
		return nil, err
	}

	var env *store.Environment
	if booking != nil {
		env, _ = s.GetEnvironmentForOwner(ctx, booking.OwnerEmpCode, booking.OwnerGroup)
	}

	return &Report{
		BookingID:   decision.BookingID,
		Booking:     booking,
		Environment: env,
		Decision:    decision,
		CapturedAt:  time.Now(),
	}, nil
}
