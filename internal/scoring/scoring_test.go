package scoring

import "testing"

func defaultWeights() Weights {
	return Weights{Availability: 1.0, Fairness: 0.4, DR: 0.3, Recency: 0.2, Language: 0.5}
}

func TestTopPicksHighestScore(t *testing.T) {
	candidates := []Input{
		{EmpCode: "E001", Available: true, Fairness: -0.5, LanguageMatch: 1},
		{EmpCode: "E002", Available: true, Fairness: 0.8, LanguageMatch: 1},
	}
	top, ok := Top(candidates, defaultWeights())
	if !ok {
		t.Fatal("expected a winner")
	}
	if top.EmpCode != "E002" {
		t.Fatalf("expected E002 to win on fairness, got %s", top.EmpCode)
	}
}

func TestRankExcludesUnavailableAndBlocked(t *testing.T) {
	candidates := []Input{
		{EmpCode: "E001", Available: false},
		{EmpCode: "E002", Available: true, DRBlocked: true},
		{EmpCode: "E003", Available: true},
	}
	ranked := Rank(candidates, defaultWeights())
	if len(ranked) != 1 || ranked[0].EmpCode != "E003" {
		t.Fatalf("expected only E003 to remain, got %+v", ranked)
	}
}

func TestTieBreakByAssignmentCountThenMinutesThenEmpCode(t *testing.T) {
	candidates := []Input{
		{EmpCode: "E003", Available: true, AssignmentCount: 2, AssignedMinutes: 100},
		{EmpCode: "E001", Available: true, AssignmentCount: 1, AssignedMinutes: 200},
		{EmpCode: "E002", Available: true, AssignmentCount: 1, AssignedMinutes: 100},
	}
	ranked := Rank(candidates, defaultWeights())
	if ranked[0].EmpCode != "E002" {
		t.Fatalf("expected E002 first by tie-break, got order: %v, %v, %v", ranked[0].EmpCode, ranked[1].EmpCode, ranked[2].EmpCode)
	}
	if ranked[1].EmpCode != "E001" {
		t.Fatalf("expected E001 second, got %s", ranked[1].EmpCode)
	}
}

func TestTopReturnsFalseWhenNoCandidates(t *testing.T) {
	_, ok := Top(nil, defaultWeights())
	if ok {
		t.Fatal("expected no winner for empty candidate set")
	}
}
