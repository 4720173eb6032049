// Package scoring implements the weighted multi-factor candidate score and
// selection rule used to rank interpreter candidates for a booking.
package scoring

import (
	"sort"
)

// Input is one candidate's precomputed subcomponents, each already
// normalized to [-1, 1] by the caller (conflict/fairness packages).
type Input struct {
	EmpCode       string
	Available     bool // false => disqualified, excluded before scoring
	Fairness      float64
	DRScore       float64 // 0 for non-DR meetings
	DRBlocked     bool
	Recency       float64 // higher = more recently assigned, penalized
	LanguageMatch float64 // 1 exact, 0.5 unknown, 0 mismatch (mismatch should already be filtered)

	AssignmentCount int
	AssignedMinutes int
}

// Weights holds the five score weights from Policy.
type Weights struct {
	Availability float64
	Fairness     float64
	DR           float64
	Recency      float64
	Language     float64
}

// Result is one scored, ranked candidate.
type Result struct {
	EmpCode string
	Score   float64
	Input   Input
}

func score(in Input, w Weights) float64 {
	available := 0.0
	if in.Available {
		available = 1.0
	}
	return w.Availability*available +
		w.Fairness*in.Fairness +
		w.DR*in.DRScore +
		w.Recency*(-in.Recency) +
		w.Language*in.LanguageMatch
}

// Rank scores every non-disqualified, non-blocked candidate and returns
// them sorted best-first, applying the tie-break rule: lowest
// assignmentCount, then lowest assignedMinutes, then lexicographic empCode.
func Rank(candidates []Input, w Weights) []Result {
	return rank(candidates, w, false)
}

// RankWithBlocked is Rank but keeps DR-blocked candidates in the pool. Used
// by TopWithFallback's second tier; callers ranking for display should use
// Rank so a blocked candidate never outranks an eligible one by accident.
func RankWithBlocked(candidates []Input, w Weights) []Result {
	return rank(candidates, w, true)
}

func rank(candidates []Input, w Weights, includeBlocked bool) []Result {
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		if !c.Available {
			continue
		}
		if c.DRBlocked && !includeBlocked {
			continue
		}
		results = append(results, Result{EmpCode: c.EmpCode, Score: score(c, w), Input: c})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Input.AssignmentCount != b.Input.AssignmentCount {
			return a.Input.AssignmentCount < b.Input.AssignmentCount
		}
		if a.Input.AssignedMinutes != b.Input.AssignedMinutes {
			return a.Input.AssignedMinutes < b.Input.AssignedMinutes
		}
		return a.EmpCode < b.EmpCode
	})
	return results
}

// Top returns the best non-blocked candidate, or ok=false if none remain.
func Top(candidates []Input, w Weights) (Result, bool) {
	ranked := Rank(candidates, w)
	if len(ranked) == 0 {
		return Result{}, false
	}
	return ranked[0], true
}

// TopWithFallback tries Top first. If every available candidate is
// DR-blocked, it falls back to the best blocked candidate instead of
// reporting no winner, since a block is a penalty of last resort, not a
// disqualification, when no alternative exists. fellBack reports which
// tier produced the result, so the caller can still annotate the decision
// log with the block that was overridden.
func TopWithFallback(candidates []Input, w Weights) (result Result, ok bool, fellBack bool) {
	if top, ok := Top(candidates, w); ok {
		return top, true, false
	}
	ranked := RankWithBlocked(candidates, w)
	if len(ranked) == 0 {
		return Result{}, false, false
	}
	return ranked[0], true, true
}

// WeightsFromPolicy is a small adapter so callers holding a *clock.Policy
// can build Weights from its five weight fields by value, without this
// package importing clock.
func WeightsFromPolicy(availability, fairness, dr, recency, language float64) Weights {
	return Weights{Availability: availability, Fairness: fairness, DR: dr, Recency: recency, Language: language}
}
