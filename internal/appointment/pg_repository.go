package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolation = "23505"

	activeSlotConstraint  = "appointments_active_slot_key"
	blockedSlotConstraint = "blocked_slots_slot_key"
)

// DBTX is the subset of *pgxpool.Pool used by PgRepository.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DBTX
}

func NewPgRepository(db DBTX) *PgRepository {
	if db == nil {
		panic("appointment: postgres connection required")
	}
	return &PgRepository{db: db}
}

const appointmentColumns = `id, patient_id, service_type, visit_type, appointment_date::text, appointment_time,
		shift, status, notes, created_by, created_at, updated_at`

const blockedSlotColumns = `id, slot_date::text, slot_time, reason, created_by, created_at`

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID,
		&p.FullName,
		&p.Phone,
		&p.Email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func appointmentFields(a *Appointment) []any {
	return []any{
		&a.ID,
		&a.PatientID,
		&a.ServiceType,
		&a.VisitType,
		&a.Date,
		&a.Time,
		&a.Shift,
		&a.Status,
		&a.Notes,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	if err := row.Scan(appointmentFields(&a)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanBlockedSlot(row pgx.Row) (*BlockedSlot, error) {
	var b BlockedSlot
	err := row.Scan(
		&b.ID,
		&b.Date,
		&b.Time,
		&b.Reason,
		&b.CreatedBy,
		&b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBlockedSlotNotFound
		}
		return nil, err
	}
	return &b, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return pgErr.ConstraintName == "" || pgErr.ConstraintName == constraint
}

func (r *PgRepository) queryStrings(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Slot state

func (r *PgRepository) BookedTimes(ctx context.Context, date string) ([]string, error) {
	times, err := r.queryStrings(ctx, `
		SELECT appointment_time
		FROM appointments
		WHERE appointment_date = $1::date
		  AND status <> 'CANCELLED'
		ORDER BY appointment_time
	`, date)
	if err != nil {
		return nil, fmt.Errorf("booked times for %s: %w", date, err)
	}
	return times, nil
}

func (r *PgRepository) BlockedTimes(ctx context.Context, date string) ([]string, error) {
	times, err := r.queryStrings(ctx, `
		SELECT slot_time
		FROM blocked_slots
		WHERE slot_date = $1::date
		ORDER BY slot_time
	`, date)
	if err != nil {
		return nil, fmt.Errorf("blocked times for %s: %w", date, err)
	}
	return times, nil
}

// Patients

func (r *PgRepository) UpsertPatient(ctx context.Context, details PatientDetails) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO patients (id, full_name, phone, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (phone) DO UPDATE
		SET full_name = EXCLUDED.full_name,
		    email = COALESCE(EXCLUDED.email, patients.email),
		    updated_at = now()
		RETURNING id, full_name, phone, email, created_at, updated_at
	`, uuid.New(), details.Name, details.Phone, optional(details.Email))

	p, err := scanPatient(row)
	if err != nil {
		return nil, fmt.Errorf("upsert patient: %w", err)
	}
	return p, nil
}

func (r *PgRepository) ListPatients(ctx context.Context, search string, limit int) ([]PatientSummary, error) {
	rows, err := r.db.Query(ctx, `
		SELECT p.id, p.full_name, p.phone, p.email, p.created_at, p.updated_at,
		       last.appointment_date::text, last.service_type
		FROM patients p
		LEFT JOIN LATERAL (
			SELECT a.appointment_date, a.service_type
			FROM appointments a
			WHERE a.patient_id = p.id
			ORDER BY a.appointment_date DESC, a.appointment_time DESC
			LIMIT 1
		) last ON true
		WHERE $1 = '' OR p.full_name ILIKE '%' || $1 || '%' OR p.phone ILIKE '%' || $1 || '%'
		ORDER BY p.created_at DESC
		LIMIT $2
	`, search, limit)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	result := []PatientSummary{}
	for rows.Next() {
		var s PatientSummary
		if err := rows.Scan(
			&s.ID,
			&s.FullName,
			&s.Phone,
			&s.Email,
			&s.CreatedAt,
			&s.UpdatedAt,
			&s.LastVisit,
			&s.TreatmentCategory,
		); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Appointments

func (r *PgRepository) InsertAppointment(ctx context.Context, a NewAppointment) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, service_type, visit_type, appointment_date, appointment_time,
		                          shift, status, notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::date, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+appointmentColumns,
		uuid.New(), a.PatientID, a.ServiceType, a.VisitType, a.Date, a.Time,
		a.Shift, a.Status, a.Notes, a.CreatedBy)

	created, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err, activeSlotConstraint) {
			return nil, ErrSlotConflict
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

// UpdateAppointmentStatus moves an appointment to `to` only if its current
// status is one of `from`. ErrAppointmentNotFound covers both a missing id
// and a status outside `from`; the caller tells them apart.
func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus) (*Appointment, error) {
	fromText := make([]string, len(from))
	for i, s := range from {
		fromText[i] = string(s)
	}

	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+appointmentColumns,
		id, to, fromText)

	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsForDate(ctx context.Context, date string) ([]AppointmentDetail, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.id, a.patient_id, a.service_type, a.visit_type, a.appointment_date::text, a.appointment_time,
		       a.shift, a.status, a.notes, a.created_by, a.created_at, a.updated_at,
		       p.full_name, p.phone
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		WHERE a.appointment_date = $1::date
		  AND a.status <> 'CANCELLED'
		ORDER BY a.appointment_time
	`, date)
	if err != nil {
		return nil, fmt.Errorf("list appointments for %s: %w", date, err)
	}
	defer rows.Close()

	result := []AppointmentDetail{}
	for rows.Next() {
		var d AppointmentDetail
		fields := append(appointmentFields(&d.Appointment), &d.PatientName, &d.PatientPhone)
		if err := rows.Scan(fields...); err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) CountByStatusForDate(ctx context.Context, date string) (map[AppointmentStatus]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, count(*)
		FROM appointments
		WHERE appointment_date = $1::date
		GROUP BY status
	`, date)
	if err != nil {
		return nil, fmt.Errorf("count appointments for %s: %w", date, err)
	}
	defer rows.Close()

	counts := map[AppointmentStatus]int{}
	for rows.Next() {
		var status AppointmentStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *PgRepository) CountHomeVisits(ctx context.Context, fromDate, toDate string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE visit_type = 'HOME'
		  AND appointment_date BETWEEN $1::date AND $2::date
		  AND status <> 'CANCELLED'
	`, fromDate, toDate).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count home visits: %w", err)
	}
	return n, nil
}

func (r *PgRepository) ListElapsed(ctx context.Context, date, t string) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('CONFIRMED', 'WALK_IN')
		  AND (appointment_date < $1::date
		       OR (appointment_date = $1::date AND appointment_time <= $2))
		ORDER BY appointment_date, appointment_time
	`, date, t)
	if err != nil {
		return nil, fmt.Errorf("list elapsed appointments: %w", err)
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Blocked slots

func (r *PgRepository) InsertBlockedSlot(ctx context.Context, date, t string, reason, createdBy *string) (*BlockedSlot, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO blocked_slots (id, slot_date, slot_time, reason, created_by, created_at)
		VALUES ($1, $2::date, $3, $4, $5, now())
		RETURNING `+blockedSlotColumns,
		uuid.New(), date, t, reason, createdBy)

	b, err := scanBlockedSlot(row)
	if err != nil {
		if isUniqueViolation(err, blockedSlotConstraint) {
			return nil, ErrAlreadyBlocked
		}
		return nil, fmt.Errorf("insert blocked slot: %w", err)
	}
	return b, nil
}

func (r *PgRepository) ListBlockedSlots(ctx context.Context, date string) ([]BlockedSlot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+blockedSlotColumns+`
		FROM blocked_slots
		WHERE slot_date = $1::date
		ORDER BY slot_time
	`, date)
	if err != nil {
		return nil, fmt.Errorf("list blocked slots for %s: %w", date, err)
	}
	defer rows.Close()

	result := []BlockedSlot{}
	for rows.Next() {
		b, err := scanBlockedSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) DeleteBlockedSlot(ctx context.Context, id uuid.UUID) (*BlockedSlot, error) {
	row := r.db.QueryRow(ctx, `
		DELETE FROM blocked_slots
		WHERE id = $1
		RETURNING `+blockedSlotColumns,
		id)
	return scanBlockedSlot(row)
}

// Events

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
