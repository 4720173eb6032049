// Package fairness computes rolling-window load balance and consecutive-DR
// history for candidate interpreters. control_plane has no fairness
// concept of its own, so this package is built fresh, following its
// style of small, pure functions operating on store-supplied snapshots
// rather than holding state of its own.
package fairness

import (
	"sort"

	"github.com/meetbridge/interpreter-scheduler/internal/store"
)

// Snapshot is the per-interpreter fairness picture computed once per
// scoring pass and reused across candidates (never cached across passes,
// per §5's shared-resource policy).
type Snapshot struct {
	Counters map[string]store.FairnessCounter
	Mean     float64

	// NewInterpreters/ExistingInterpreters drive the dynamic-pool
	// adjustment factor.
	NewInterpreters      int
	ExistingInterpreters int
}

// BuildSnapshot computes the mean assignment count across the candidate
// set and classifies which candidates are "new" (zero prior record).
func BuildSnapshot(counters map[string]store.FairnessCounter, empCodes []string) Snapshot {
	var total int
	newCount, existingCount := 0, 0
	for _, code := range empCodes {
		c := counters[code]
		total += c.AssignmentCount
		if c.AssignmentCount == 0 {
			newCount++
		} else {
			existingCount++
		}
	}
	mean := 0.0
	if len(empCodes) > 0 {
		mean = float64(total) / float64(len(empCodes))
	}
	return Snapshot{
		Counters:             counters,
		Mean:                 mean,
		NewInterpreters:      newCount,
		ExistingInterpreters: existingCount,
	}
}

// Score returns candidate empCode's fairness contribution in [-1, 1],
// favoring under-loaded interpreters, with the dynamic-pool adjustment
// applied to first-window newcomers.
func (s Snapshot) Score(empCode string) float64 {
	c := s.Counters[empCode]
	contribution := (s.Mean - float64(c.AssignmentCount)) / max1(s.Mean)
	if contribution > 1 {
		contribution = 1
	}
	if contribution < -1 {
		contribution = -1
	}

	if c.AssignmentCount == 0 {
		adjustment := 1 + float64(s.NewInterpreters)/max1(float64(s.ExistingInterpreters))
		contribution *= adjustment
		if contribution > 1 {
			contribution = 1
		}
		if contribution < -1 {
			contribution = -1
		}
	}
	return contribution
}

func max1(v float64) float64 {
	if v < 1 {
		return 1
	}
	return v
}

// ConsecutiveDRRun returns the length of the longest suffix of consecutive
// DR-type assignments for empCode, most recent first, within the supplied
// history (already scoped to the fairness window by the store).
func ConsecutiveDRRun(history []store.DRAssignment) int {
	sorted := make([]store.DRAssignment, len(history))
	copy(sorted, history)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.After(sorted[j].Time) })

	run := 0
	for _, a := range sorted {
		if !a.DRType.IsDR() {
			break
		}
		run++
	}
	return run
}

// DRPolicy evaluates the DR hard-block and penalty rule for one candidate.
// blocked=true means the candidate must be excluded from DR meetings unless
// no alternative exists (the fallback tier is the caller's responsibility:
// DRPolicy only reports the block, the engine decides whether to honor it).
type DRPolicy struct {
	Blocked bool
	Penalty float64 // subtracted from the DR score subcomponent
}

// EvaluateDR implements the consecutive-DR block/penalty rule. lastGlobalDR
// is the empCode most recently assigned any DR meeting before `now`
// (store.LastGlobalDRBefore); consecutiveRun is this candidate's own
// suffix length (ConsecutiveDRRun).
func EvaluateDR(empCode, lastGlobalDREmpCode string, consecutiveRun int, maxRun int, penaltyHoursPerSuffix float64) DRPolicy {
	if empCode == lastGlobalDREmpCode && consecutiveRun >= maxRun {
		return DRPolicy{Blocked: true}
	}
	if consecutiveRun >= 1 {
		return DRPolicy{Penalty: float64(consecutiveRun) * penaltyHoursPerSuffix}
	}
	return DRPolicy{}
}
