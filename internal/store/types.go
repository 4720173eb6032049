package store

import "time"

// BookingKind distinguishes interpreter bookings from room bookings.
// Only KindInterpreter is in scope for the assignment core.
type BookingKind string

const (
	KindInterpreter BookingKind = "INTERPRETER"
	KindRoom        BookingKind = "ROOM"
)

// BookingStatus tracks the external lifecycle of a booking.
type BookingStatus string

const (
	StatusWaiting BookingStatus = "waiting"
	StatusApprove BookingStatus = "approve"
	StatusCancel  BookingStatus = "cancel"
)

// AutoAssignStatus tracks the scheduler-owned claim lifecycle.
type AutoAssignStatus string

const (
	AutoAssignPending    AutoAssignStatus = "pending"
	AutoAssignProcessing AutoAssignStatus = "processing"
	AutoAssignDone       AutoAssignStatus = "done"
	AutoAssignSkipped    AutoAssignStatus = "skipped"
)

// PoolStatus tracks the deferred-pool state machine.
type PoolStatus string

const (
	PoolNone       PoolStatus = "none"
	PoolWaiting    PoolStatus = "waiting"
	PoolProcessing PoolStatus = "processing"
	PoolFailed     PoolStatus = "failed"
)

// MeetingType enumerates the meeting classes the scoring and fairness
// policies reason about. DR variants carry extra fairness weight.
type MeetingType string

const (
	MeetingDR_I    MeetingType = "DR_I"
	MeetingDR_II   MeetingType = "DR_II"
	MeetingDR_k    MeetingType = "DR_k"
	MeetingDR_PR   MeetingType = "DR_PR"
	MeetingPR_PR   MeetingType = "PR_PR" // legacy DR label, kept distinct per policy
	MeetingVIP     MeetingType = "VIP"
	MeetingWeekly  MeetingType = "Weekly"
	MeetingGeneral MeetingType = "General"
	MeetingUrgent  MeetingType = "Urgent"
	MeetingPresident MeetingType = "President"
	MeetingOther   MeetingType = "Other"
)

// IsDR reports whether a meeting type participates in DR fairness tracking.
func (m MeetingType) IsDR() bool {
	switch m {
	case MeetingDR_I, MeetingDR_II, MeetingDR_k, MeetingDR_PR, MeetingPR_PR:
		return true
	default:
		return false
	}
}

// Booking is the central scheduling entity: a request for an interpreter
// at a fixed half-open time window [TimeStart, TimeEnd).
type Booking struct {
	BookingID int64
	Kind      BookingKind
	Status    BookingStatus

	TimeStart time.Time
	TimeEnd   time.Time

	MeetingType MeetingType
	DRType      string
	OtherType   string
	OwnerGroup  string
	OwnerEmpCode string
	MeetingRoom string
	LanguageCode string

	InterpreterEmpCode  string // empty until committed
	SelectedInterpreter string // preselected suggestion, may be empty

	AutoAssignAt       time.Time
	AutoAssignStatus   AutoAssignStatus
	AutoAssignLockedAt time.Time
	AutoAssignLockedBy string
	AutoAssignAttempts int

	PoolStatus         PoolStatus
	PoolEntryTime      time.Time
	DecisionWindowTime time.Time
	Mode               Mode

	Version int // optimistic-lock counter, bumped on every committed write
}

// IsDueAt reports whether this booking is eligible for claiming at `now`,
// per the FindDueBookings predicate in the store contract.
func (b *Booking) IsDueAt(now time.Time) bool {
	return b.Kind == KindInterpreter &&
		b.Status == StatusWaiting &&
		b.AutoAssignStatus == AutoAssignPending &&
		b.InterpreterEmpCode == "" &&
		!b.AutoAssignAt.After(now)
}

// Interpreter is a roster member identified by EmpCode.
type Interpreter struct {
	EmpCode         string
	IsActive        bool
	Languages       []string
	EnvironmentName string

	// LastHeartbeat is updated by whatever reports interpreter liveness
	// (desk check-in, companion app, admin console). The roster monitor
	// flips IsActive off once it goes stale past its threshold.
	LastHeartbeat time.Time
}

func (i *Interpreter) HasLanguage(code string) bool {
	if code == "" {
		return true
	}
	for _, l := range i.Languages {
		if l == code {
			return true
		}
	}
	return false
}

// Environment scopes a roster of interpreters, their admins, and the
// department centers they cover.
type Environment struct {
	Name                string
	AdminEmpCodes       []string
	InterpreterEmpCodes []string
	DepartmentCenters   []string
}

// AssignmentDecisionLog is an append-only record of one assignment attempt.
type AssignmentDecisionLog struct {
	BookingID   int64               `json:"bookingId"`
	BatchID     string              `json:"batchId"`
	Mode        Mode                `json:"mode"`
	PolicyHash  string              `json:"policyHash"`
	Candidates  []CandidateDecision `json:"candidates"`
	Chosen      string              `json:"chosen"`
	Escalated   bool                `json:"escalated"`
	DurationMs  int64               `json:"durationMs"`
	Timestamp   time.Time           `json:"timestamp"`
}

// CandidateDecision is one scored candidate within a decision log entry.
type CandidateDecision struct {
	EmpCode       string  `json:"empCode"`
	Score         float64 `json:"score"`
	Fairness      float64 `json:"fairness"`
	ConsecutiveDR int     `json:"consecutiveDR"`
	Blocked       bool    `json:"blocked"`
	Reason        string  `json:"reason,omitempty"`
}

// ErrorLogRecord captures a pass-level or engine-level failure for the
// resilient error stream, independent from per-decision logs.
type ErrorLogRecord struct {
	CorrelationID string            `json:"correlationId"`
	BookingID     int64             `json:"bookingId,omitempty"`
	Kind          string            `json:"kind"`
	Message       string            `json:"message"`
	StateSnapshot map[string]string `json:"stateSnapshot,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// Mode is the operating profile for readiness thresholds and score weights.
type Mode string

const (
	ModeNormal  Mode = "NORMAL"
	ModeUrgent  Mode = "URGENT"
	ModeBalance Mode = "BALANCE"
	ModeCustom  Mode = "CUSTOM"
)

// FairnessCounter summarizes one interpreter's load within a rolling window.
type FairnessCounter struct {
	AssignmentCount int
	AssignedMinutes int
	ByType          map[MeetingType]int
}

// DRAssignment is one historical committed assignment of any meeting type
// (DRType holds its MeetingType), used to compute the consecutive-DR
// suffix for a candidate.
type DRAssignment struct {
	BookingID int64
	Time      time.Time
	DRType    MeetingType
}
