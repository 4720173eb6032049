package fairness

import (
	"testing"
	"time"

	"github.com/meetbridge/interpreter-scheduler/internal/store"
)

func TestSnapshotScoreFavorsUnderloaded(t *testing.T) {
	counters := map[string]store.FairnessCounter{
		"E001": {AssignmentCount: 10},
		"E002": {AssignmentCount: 0},
	}
	snap := BuildSnapshot(counters, []string{"E001", "E002"})

	under := snap.Score("E002")
	over := snap.Score("E001")
	if under <= over {
		t.Fatalf("expected under-loaded candidate to score higher: under=%v over=%v", under, over)
	}
}

func TestSnapshotScoreClampedToUnitRange(t *testing.T) {
	counters := map[string]store.FairnessCounter{
		"E001": {AssignmentCount: 100},
	}
	snap := BuildSnapshot(counters, []string{"E001"})
	got := snap.Score("E001")
	if got < -1 || got > 1 {
		t.Fatalf("score %v out of [-1,1]", got)
	}
}

func TestConsecutiveDRRunStopsAtNonDR(t *testing.T) {
	now := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	history := []store.DRAssignment{
		{Time: now, DRType: store.MeetingDR_I},
		{Time: now.Add(-time.Hour), DRType: store.MeetingDR_II},
		{Time: now.Add(-2 * time.Hour), DRType: store.MeetingGeneral},
		{Time: now.Add(-3 * time.Hour), DRType: store.MeetingDR_I},
	}
	run := ConsecutiveDRRun(history)
	if run != 2 {
		t.Fatalf("expected run=2, got %d", run)
	}
}

func TestEvaluateDRBlocksAtMaxRun(t *testing.T) {
	p := EvaluateDR("E001", "E001", 3, 3, 2.0)
	if !p.Blocked {
		t.Fatal("expected candidate at max consecutive run to be blocked")
	}
}

func TestEvaluateDRPenalizesBelowMaxRun(t *testing.T) {
	p := EvaluateDR("E001", "E001", 1, 3, 2.0)
	if p.Blocked {
		t.Fatal("candidate below max run should not be blocked")
	}
	if p.Penalty != 2.0 {
		t.Fatalf("expected penalty 2.0, got %v", p.Penalty)
	}
}

func TestEvaluateDRNoPenaltyWithoutHistory(t *testing.T) {
	p := EvaluateDR("E001", "E002", 0, 3, 2.0)
	if p.Blocked || p.Penalty != 0 {
		t.Fatalf("expected no block/penalty, got %+v", p)
	}
}
