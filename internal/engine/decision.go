package engine

import (
	"time"

	"github.com/meetbridge/interpreter-scheduler/internal/store"
)

// AssignmentDecisionBuilder accumulates the candidate trail for one Assign
// invocation so it can be appended as a single AssignmentDecisionLog
// regardless of how many commit-retry rounds it took (§4.9: one decision
// log per assignment attempt).
type AssignmentDecisionBuilder struct {
	BookingID  int64
	BatchID    string
	Mode       store.Mode
	PolicyHash string
	Timestamp  time.Time
	Candidates []store.CandidateDecision
}

func (b AssignmentDecisionBuilder) Build(chosenPtr *string, chosen string, escalated bool, now time.Time) store.AssignmentDecisionLog {
	durationMs := now.Sub(b.Timestamp).Milliseconds()
	choice := ""
	if chosenPtr != nil {
		choice = chosen
	}
	return store.AssignmentDecisionLog{
		BookingID:  b.BookingID,
		BatchID:    b.BatchID,
		Mode:       b.Mode,
		PolicyHash: b.PolicyHash,
		Candidates: b.Candidates,
		Chosen:     choice,
		Escalated:  escalated,
		DurationMs: durationMs,
		Timestamp:  now,
	}
}
