package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store against a PostgreSQL schema. It is the
// durable system of record: CommitAssignment's optimistic lock and
// FindDueBookings' ordering guarantee rely on it rather than on the Redis
// fast-path cache.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 50
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) UpsertBooking(ctx context.Context, b *Booking) error {
	query := `
		INSERT INTO bookings (
			booking_id, kind, status, time_start, time_end, meeting_type, dr_type, other_type,
			owner_group, owner_emp_code, meeting_room, language_code,
			interpreter_emp_code, selected_interpreter,
			auto_assign_at, auto_assign_status, auto_assign_locked_at, auto_assign_locked_by, auto_assign_attempts,
			pool_status, pool_entry_time, decision_window_time, mode, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
		ON CONFLICT (booking_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			status = EXCLUDED.status,
			time_start = EXCLUDED.time_start,
			time_end = EXCLUDED.time_end,
			meeting_type = EXCLUDED.meeting_type,
			dr_type = EXCLUDED.dr_type,
			other_type = EXCLUDED.other_type,
			owner_group = EXCLUDED.owner_group,
			owner_emp_code = EXCLUDED.owner_emp_code,
			meeting_room = EXCLUDED.meeting_room,
			language_code = EXCLUDED.language_code,
			interpreter_emp_code = EXCLUDED.interpreter_emp_code,
			selected_interpreter = EXCLUDED.selected_interpreter,
			auto_assign_at = EXCLUDED.auto_assign_at,
			auto_assign_status = EXCLUDED.auto_assign_status,
			auto_assign_locked_at = EXCLUDED.auto_assign_locked_at,
			auto_assign_locked_by = EXCLUDED.auto_assign_locked_by,
			auto_assign_attempts = EXCLUDED.auto_assign_attempts,
			pool_status = EXCLUDED.pool_status,
			pool_entry_time = EXCLUDED.pool_entry_time,
			decision_window_time = EXCLUDED.decision_window_time,
			mode = EXCLUDED.mode,
			version = EXCLUDED.version
	`
	_, err := s.pool.Exec(ctx, query,
		b.BookingID, b.Kind, b.Status, b.TimeStart, b.TimeEnd, b.MeetingType, b.DRType, b.OtherType,
		b.OwnerGroup, b.OwnerEmpCode, b.MeetingRoom, b.LanguageCode,
		b.InterpreterEmpCode, b.SelectedInterpreter,
		b.AutoAssignAt, b.AutoAssignStatus, nullTime(b.AutoAssignLockedAt), b.AutoAssignLockedBy, b.AutoAssignAttempts,
		b.PoolStatus, nullTime(b.PoolEntryTime), b.DecisionWindowTime, b.Mode, b.Version,
	)
	return err
}

func (s *PostgresStore) GetBooking(ctx context.Context, id int64) (*Booking, error) {
	query := `
		SELECT booking_id, kind, status, time_start, time_end, meeting_type, dr_type, other_type,
			owner_group, owner_emp_code, meeting_room, language_code,
			interpreter_emp_code, selected_interpreter,
			auto_assign_at, auto_assign_status, auto_assign_locked_at, auto_assign_locked_by, auto_assign_attempts,
			pool_status, pool_entry_time, decision_window_time, mode, version
		FROM bookings WHERE booking_id = $1
	`
	var b Booking
	var lockedAt, entryTime *time.Time
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&b.BookingID, &b.Kind, &b.Status, &b.TimeStart, &b.TimeEnd, &b.MeetingType, &b.DRType, &b.OtherType,
		&b.OwnerGroup, &b.OwnerEmpCode, &b.MeetingRoom, &b.LanguageCode,
		&b.InterpreterEmpCode, &b.SelectedInterpreter,
		&b.AutoAssignAt, &b.AutoAssignStatus, &lockedAt, &b.AutoAssignLockedBy, &b.AutoAssignAttempts,
		&b.PoolStatus, &entryTime, &b.DecisionWindowTime, &b.Mode, &b.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if lockedAt != nil {
		b.AutoAssignLockedAt = *lockedAt
	}
	if entryTime != nil {
		b.PoolEntryTime = *entryTime
	}
	return &b, nil
}

func (s *PostgresStore) FindDueBookings(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	query := `
		SELECT booking_id FROM bookings
		WHERE kind = $1 AND status = $2 AND auto_assign_status = $3
			AND interpreter_emp_code = '' AND auto_assign_at <= $4
		ORDER BY auto_assign_at ASC
		LIMIT $5
	`
	rows, err := s.pool.Query(ctx, query, KindInterpreter, StatusWaiting, AutoAssignPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClaimBooking performs the atomic CAS: only a row still (pending, unlocked)
// transitions, and the affected-row count tells us whether we won the race.
func (s *PostgresStore) ClaimBooking(ctx context.Context, id int64, claimerID string, now time.Time) (bool, error) {
	query := `
		UPDATE bookings
		SET auto_assign_status = $1, auto_assign_locked_at = $2, auto_assign_locked_by = $3
		WHERE booking_id = $4 AND auto_assign_status = $5 AND auto_assign_locked_by = ''
	`
	tag, err := s.pool.Exec(ctx, query, AutoAssignProcessing, now, claimerID, id, AutoAssignPending)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ResetStaleLocks(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		UPDATE bookings
		SET auto_assign_status = $1, auto_assign_locked_at = NULL, auto_assign_locked_by = ''
		WHERE auto_assign_status = $2 AND auto_assign_locked_at < $3
	`
	tag, err := s.pool.Exec(ctx, query, AutoAssignPending, AutoAssignProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ReleaseBooking(ctx context.Context, id int64, next ReleaseNext, incrementAttempts bool, nextAutoAssignAt time.Time) error {
	inc := 0
	if incrementAttempts {
		inc = 1
	}
	var status AutoAssignStatus
	switch next {
	case ReleasePending:
		status = AutoAssignPending
	case ReleaseDone:
		status = AutoAssignDone
	case ReleaseSkipped:
		status = AutoAssignSkipped
	default:
		return fmt.Errorf("unknown release target %q", next)
	}

	var query string
	var args []any
	if next == ReleasePending && !nextAutoAssignAt.IsZero() {
		query = `
			UPDATE bookings
			SET auto_assign_status = $1, auto_assign_locked_at = NULL, auto_assign_locked_by = '',
				auto_assign_attempts = auto_assign_attempts + $2, auto_assign_at = $3
			WHERE booking_id = $4
		`
		args = []any{status, inc, nextAutoAssignAt, id}
	} else {
		query = `
			UPDATE bookings
			SET auto_assign_status = $1, auto_assign_locked_at = NULL, auto_assign_locked_by = '',
				auto_assign_attempts = auto_assign_attempts + $2
			WHERE booking_id = $3
		`
		args = []any{status, inc, id}
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FailBooking moves a booking to poolStatus=failed and autoAssignStatus=
// skipped, taking it out of FindDueBookings contention for manual pickup.
func (s *PostgresStore) FailBooking(ctx context.Context, id int64) error {
	query := `
		UPDATE bookings
		SET pool_status = $1, auto_assign_status = $2, auto_assign_locked_at = NULL, auto_assign_locked_by = ''
		WHERE booking_id = $3
	`
	tag, err := s.pool.Exec(ctx, query, PoolFailed, AutoAssignSkipped, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CommitAssignment uses the version column as an optimistic lock, mirroring
// control_plane's UpdateStateStatus WHERE-version pattern.
func (s *PostgresStore) CommitAssignment(ctx context.Context, id int64, interpreterEmpCode string, expectedVersion int) error {
	query := `
		UPDATE bookings
		SET interpreter_emp_code = $1, status = $2, version = version + 1
		WHERE booking_id = $3 AND version = $4
	`
	tag, err := s.pool.Exec(ctx, query, interpreterEmpCode, StatusApprove, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) ListCandidateInterpreters(ctx context.Context, bookingID int64) ([]*Interpreter, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	env, err := s.GetEnvironmentForOwner(ctx, b.OwnerEmpCode, b.OwnerGroup)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT emp_code, is_active, languages, environment_name
		FROM interpreters WHERE environment_name = $1 AND is_active = true
		ORDER BY emp_code ASC
	`
	rows, err := s.pool.Query(ctx, query, env.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []*Interpreter
	for rows.Next() {
		var i Interpreter
		if err := rows.Scan(&i.EmpCode, &i.IsActive, &i.Languages, &i.EnvironmentName); err != nil {
			return nil, err
		}
		if b.LanguageCode != "" && !i.HasLanguage(b.LanguageCode) {
			continue
		}
		out = append(out, &i)
	}
	return out, rows.Err()
}

// ListInterpreters returns the full roster for an environment (including
// inactive members), used by the liveness monitor rather than the
// per-booking candidate path above.
func (s *PostgresStore) ListInterpreters(ctx context.Context, environmentName string) ([]*Interpreter, error) {
	query := `
		SELECT emp_code, is_active, languages, environment_name, last_heartbeat
		FROM interpreters WHERE environment_name = $1 OR $1 = ''
		ORDER BY emp_code ASC
	`
	rows, err := s.pool.Query(ctx, query, environmentName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []*Interpreter
	for rows.Next() {
		var i Interpreter
		var lastHeartbeat sql.NullTime
		if err := rows.Scan(&i.EmpCode, &i.IsActive, &i.Languages, &i.EnvironmentName, &lastHeartbeat); err != nil {
			return nil, err
		}
		if lastHeartbeat.Valid {
			i.LastHeartbeat = lastHeartbeat.Time
		}
		out = append(out, &i)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertInterpreter(ctx context.Context, i *Interpreter) error {
	query := `
		INSERT INTO interpreters (emp_code, is_active, languages, environment_name, last_heartbeat)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (emp_code) DO UPDATE SET
			is_active = EXCLUDED.is_active,
			languages = EXCLUDED.languages,
			environment_name = EXCLUDED.environment_name,
			last_heartbeat = EXCLUDED.last_heartbeat
	`
	_, err := s.pool.Exec(ctx, query, i.EmpCode, i.IsActive, i.Languages, i.EnvironmentName, nullTime(i.LastHeartbeat))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) GetEnvironmentForOwner(ctx context.Context, ownerEmpCode, ownerGroup string) (*Environment, error) {
	query := `
		SELECT name, admin_emp_codes, interpreter_emp_codes, department_centers
		FROM environments
		WHERE $1 = ANY(admin_emp_codes) OR $2 = ANY(department_centers)
		LIMIT 1
	`
	var e Environment
	err := s.pool.QueryRow(ctx, query, ownerEmpCode, ownerGroup).Scan(
		&e.Name, &e.AdminEmpCodes, &e.InterpreterEmpCodes, &e.DepartmentCenters,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &e, nil
}

func (s *PostgresStore) FairnessCounters(ctx context.Context, empCodes []string, windowStart, windowEnd time.Time) (map[string]FairnessCounter, error) {
	query := `
		SELECT interpreter_emp_code, meeting_type, time_start, time_end
		FROM bookings
		WHERE interpreter_emp_code = ANY($1) AND status = $2
			AND time_start >= $3 AND time_start < $4
	`
	rows, err := s.pool.Query(ctx, query, empCodes, StatusApprove, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	counters := make(map[string]FairnessCounter, len(empCodes))
	for _, c := range empCodes {
		counters[c] = FairnessCounter{ByType: make(map[MeetingType]int)}
	}
	for rows.Next() {
		var emp string
		var mt MeetingType
		var start, end time.Time
		if err := rows.Scan(&emp, &mt, &start, &end); err != nil {
			return nil, err
		}
		c := counters[emp]
		c.AssignmentCount++
		c.AssignedMinutes += int(end.Sub(start).Minutes())
		c.ByType[mt]++
		counters[emp] = c
	}
	return counters, rows.Err()
}

func (s *PostgresStore) RecentAssignmentHistory(ctx context.Context, empCode string, windowStart time.Time) ([]DRAssignment, error) {
	query := `
		SELECT booking_id, time_start, meeting_type FROM bookings
		WHERE interpreter_emp_code = $1 AND status = $2 AND time_start >= $3
		ORDER BY time_start DESC
	`
	rows, err := s.pool.Query(ctx, query, empCode, StatusApprove, windowStart)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []DRAssignment
	for rows.Next() {
		var d DRAssignment
		if err := rows.Scan(&d.BookingID, &d.Time, &d.DRType); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LastGlobalDRBefore(ctx context.Context, instant time.Time, windowStart time.Time) (string, time.Time, bool, error) {
	query := `
		SELECT interpreter_emp_code, time_start FROM bookings
		WHERE status = $1 AND interpreter_emp_code != '' AND time_start < $2 AND time_start >= $3
			AND meeting_type = ANY($4)
		ORDER BY time_start DESC LIMIT 1
	`
	drTypes := []MeetingType{MeetingDR_I, MeetingDR_II, MeetingDR_k, MeetingDR_PR, MeetingPR_PR}
	var emp string
	var at time.Time
	err := s.pool.QueryRow(ctx, query, StatusApprove, instant, windowStart, drTypes).Scan(&emp, &at)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return emp, at, true, nil
}

func (s *PostgresStore) OverlappingBookings(ctx context.Context, empCode string, start, end time.Time) ([]*Booking, error) {
	query := `
		SELECT booking_id, time_start, time_end, status, interpreter_emp_code
		FROM bookings
		WHERE (interpreter_emp_code = $1 OR selected_interpreter = $1)
			AND status != $2
			AND (status = $5 OR interpreter_emp_code = $1)
			AND time_start < $3 AND $4 < time_end
	`
	rows, err := s.pool.Query(ctx, query, empCode, StatusCancel, end, start, StatusApprove)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []*Booking
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.BookingID, &b.TimeStart, &b.TimeEnd, &b.Status, &b.InterpreterEmpCode); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendDecisionLog(ctx context.Context, record AssignmentDecisionLog) error {
	candidates, err := json.Marshal(record.Candidates)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO decision_logs (booking_id, batch_id, mode, policy_hash, candidates, chosen, escalated, duration_ms, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`
	_, err = s.pool.Exec(ctx, query, record.BookingID, record.BatchID, record.Mode, record.PolicyHash,
		candidates, record.Chosen, record.Escalated, record.DurationMs, record.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) AppendErrorLog(ctx context.Context, record ErrorLogRecord) error {
	snapshot, err := json.Marshal(record.StateSnapshot)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO error_logs (correlation_id, booking_id, kind, message, state_snapshot, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`
	_, err = s.pool.Exec(ctx, query, record.CorrelationID, record.BookingID, record.Kind, record.Message, snapshot, record.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
