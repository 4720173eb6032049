package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation used by unit and
// integration tests. It implements the full Store interface with the same
// map-of-structs-plus-mutex shape as a durable adapter, but with no
// persistence and no cross-process coordination.
type MemoryStore struct {
	mu sync.RWMutex

	bookings     map[int64]*Booking
	environments map[string]*Environment
	interpreters map[string]*Interpreter

	decisionLogs []AssignmentDecisionLog
	errorLogs    []ErrorLogRecord

	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings:     make(map[int64]*Booking),
		environments: make(map[string]*Environment),
		interpreters: make(map[string]*Interpreter),
	}
}

// SeedInterpreter registers an interpreter fixture (test helper).
func (s *MemoryStore) SeedInterpreter(i *Interpreter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interpreters[i.EmpCode] = i
}

func (s *MemoryStore) ListInterpreters(ctx context.Context, environmentName string) ([]*Interpreter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Interpreter
	for _, i := range s.interpreters {
		if environmentName != "" && i.EnvironmentName != environmentName {
			continue
		}
		cp := *i
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) UpsertInterpreter(ctx context.Context, i *Interpreter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *i
	s.interpreters[i.EmpCode] = &cp
	return nil
}

// SeedEnvironment registers an environment fixture (test helper).
func (s *MemoryStore) SeedEnvironment(e *Environment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.environments[e.Name] = e
}

func (s *MemoryStore) UpsertBooking(ctx context.Context, b *Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.BookingID == 0 {
		s.nextID++
		b.BookingID = s.nextID
	} else if s.nextID < b.BookingID {
		s.nextID = b.BookingID
	}
	cp := *b
	s.bookings[b.BookingID] = &cp
	return nil
}

func (s *MemoryStore) GetBooking(ctx context.Context, id int64) (*Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) FindDueBookings(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due := make([]*Booking, 0)
	for _, b := range s.bookings {
		if b.IsDueAt(now) {
			due = append(due, b)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].AutoAssignAt.Before(due[j].AutoAssignAt) })

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]int64, len(due))
	for i, b := range due {
		ids[i] = b.BookingID
	}
	return ids, nil
}

func (s *MemoryStore) ClaimBooking(ctx context.Context, id int64, claimerID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.AutoAssignStatus != AutoAssignPending || b.AutoAssignLockedBy != "" {
		return false, nil
	}
	b.AutoAssignStatus = AutoAssignProcessing
	b.AutoAssignLockedAt = now
	b.AutoAssignLockedBy = claimerID
	return true, nil
}

func (s *MemoryStore) ResetStaleLocks(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, b := range s.bookings {
		if b.AutoAssignStatus == AutoAssignProcessing && b.AutoAssignLockedAt.Before(cutoff) {
			b.AutoAssignStatus = AutoAssignPending
			b.AutoAssignLockedAt = time.Time{}
			b.AutoAssignLockedBy = ""
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ReleaseBooking(ctx context.Context, id int64, next ReleaseNext, incrementAttempts bool, nextAutoAssignAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return ErrNotFound
	}
	switch next {
	case ReleasePending:
		b.AutoAssignStatus = AutoAssignPending
		if !nextAutoAssignAt.IsZero() {
			b.AutoAssignAt = nextAutoAssignAt
		}
	case ReleaseDone:
		b.AutoAssignStatus = AutoAssignDone
	case ReleaseSkipped:
		b.AutoAssignStatus = AutoAssignSkipped
	default:
		return fmt.Errorf("unknown release target %q", next)
	}
	b.AutoAssignLockedAt = time.Time{}
	b.AutoAssignLockedBy = ""
	if incrementAttempts {
		b.AutoAssignAttempts++
	}
	return nil
}

// FailBooking moves a booking to poolStatus=failed and autoAssignStatus=
// skipped, taking it out of FindDueBookings contention for manual pickup.
func (s *MemoryStore) FailBooking(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return ErrNotFound
	}
	b.PoolStatus = PoolFailed
	b.AutoAssignStatus = AutoAssignSkipped
	b.AutoAssignLockedAt = time.Time{}
	b.AutoAssignLockedBy = ""
	return nil
}

func (s *MemoryStore) CommitAssignment(ctx context.Context, id int64, interpreterEmpCode string, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return ErrNotFound
	}
	if b.Version != expectedVersion {
		return ErrConflict
	}
	b.InterpreterEmpCode = interpreterEmpCode
	b.Status = StatusApprove
	b.Version++
	return nil
}

func (s *MemoryStore) ListCandidateInterpreters(ctx context.Context, bookingID int64) ([]*Interpreter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	env, err := s.getEnvironmentForOwnerLocked(b.OwnerEmpCode, b.OwnerGroup)
	if err != nil {
		return nil, err
	}

	var result []*Interpreter
	for _, code := range env.InterpreterEmpCodes {
		i, ok := s.interpreters[code]
		if !ok || !i.IsActive {
			continue
		}
		if b.LanguageCode != "" && !i.HasLanguage(b.LanguageCode) {
			continue
		}
		cp := *i
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EmpCode < result[j].EmpCode })
	return result, nil
}

func (s *MemoryStore) GetEnvironmentForOwner(ctx context.Context, ownerEmpCode, ownerGroup string) (*Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getEnvironmentForOwnerLocked(ownerEmpCode, ownerGroup)
}

func (s *MemoryStore) getEnvironmentForOwnerLocked(ownerEmpCode, ownerGroup string) (*Environment, error) {
	for _, e := range s.environments {
		for _, a := range e.AdminEmpCodes {
			if a == ownerEmpCode {
				cp := *e
				return &cp, nil
			}
		}
		for _, c := range e.DepartmentCenters {
			if c == ownerGroup {
				cp := *e
				return &cp, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no environment scoped to owner %s/%s", ErrNotFound, ownerEmpCode, ownerGroup)
}

func (s *MemoryStore) FairnessCounters(ctx context.Context, empCodes []string, windowStart, windowEnd time.Time) (map[string]FairnessCounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counters := make(map[string]FairnessCounter, len(empCodes))
	for _, code := range empCodes {
		counters[code] = FairnessCounter{ByType: make(map[MeetingType]int)}
	}

	for _, b := range s.bookings {
		if b.Status != StatusApprove || b.InterpreterEmpCode == "" {
			continue
		}
		if b.TimeStart.Before(windowStart) || !b.TimeStart.Before(windowEnd) {
			continue
		}
		c, tracked := counters[b.InterpreterEmpCode]
		if !tracked {
			continue
		}
		c.AssignmentCount++
		c.AssignedMinutes += int(b.TimeEnd.Sub(b.TimeStart).Minutes())
		c.ByType[b.MeetingType]++
		counters[b.InterpreterEmpCode] = c
	}
	return counters, nil
}

func (s *MemoryStore) RecentAssignmentHistory(ctx context.Context, empCode string, windowStart time.Time) ([]DRAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []DRAssignment
	for _, b := range s.bookings {
		if b.Status != StatusApprove || b.InterpreterEmpCode != empCode {
			continue
		}
		if b.TimeStart.Before(windowStart) {
			continue
		}
		out = append(out, DRAssignment{BookingID: b.BookingID, Time: b.TimeStart, DRType: b.MeetingType})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	return out, nil
}

func (s *MemoryStore) LastGlobalDRBefore(ctx context.Context, instant time.Time, windowStart time.Time) (string, time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bestCode string
	var bestTime time.Time
	found := false
	for _, b := range s.bookings {
		if b.Status != StatusApprove || b.InterpreterEmpCode == "" || !b.MeetingType.IsDR() {
			continue
		}
		if !b.TimeStart.Before(instant) {
			continue
		}
		if windowStart.After(b.TimeStart) {
			continue
		}
		if !found || b.TimeStart.After(bestTime) {
			bestCode = b.InterpreterEmpCode
			bestTime = b.TimeStart
			found = true
		}
	}
	return bestCode, bestTime, found, nil
}

func (s *MemoryStore) OverlappingBookings(ctx context.Context, empCode string, start, end time.Time) ([]*Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Booking
	for _, b := range s.bookings {
		if b.InterpreterEmpCode != empCode && b.SelectedInterpreter != empCode {
			continue
		}
		if b.Status == StatusCancel {
			continue
		}
		committed := b.Status == StatusApprove || (b.Status == StatusWaiting && b.InterpreterEmpCode == empCode)
		if !committed {
			continue
		}
		if b.TimeStart.Before(end) && start.Before(b.TimeEnd) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeStart.Before(out[j].TimeStart) })
	return out, nil
}

func (s *MemoryStore) AppendDecisionLog(ctx context.Context, record AssignmentDecisionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisionLogs = append(s.decisionLogs, record)
	return nil
}

func (s *MemoryStore) AppendErrorLog(ctx context.Context, record ErrorLogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorLogs = append(s.errorLogs, record)
	return nil
}

// DecisionLogs returns a copy of every appended decision log (test helper).
func (s *MemoryStore) DecisionLogs() []AssignmentDecisionLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AssignmentDecisionLog, len(s.decisionLogs))
	copy(out, s.decisionLogs)
	return out
}

// ErrorLogs returns a copy of every appended error log (test helper).
func (s *MemoryStore) ErrorLogs() []ErrorLogRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ErrorLogRecord, len(s.errorLogs))
	copy(out, s.errorLogs)
	return out
}
