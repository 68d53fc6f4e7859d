package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrBlockedSlotNotFound = errors.New("blocked slot not found")

	// ErrSlotConflict is returned by InsertAppointment when the store's
	// one-live-appointment-per-slot constraint rejects the row.
	ErrSlotConflict = errors.New("slot uniqueness violated")

	// ErrAlreadyBlocked is returned by InsertBlockedSlot for a duplicate
	// (date, time).
	ErrAlreadyBlocked = errors.New("slot already blocked")

	ErrInvalidRequest = errors.New("invalid request")
)

func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// SlotRepository reads the occupancy of one date from the store of record.
type SlotRepository interface {
	// BookedTimes returns HH:MM of every non-cancelled appointment on date.
	BookedTimes(ctx context.Context, date string) ([]string, error)
	// BlockedTimes returns HH:MM of every blocked slot on date.
	BlockedTimes(ctx context.Context, date string) ([]string, error)
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	SlotRepository

	// Patients, deduplicated by phone.
	UpsertPatient(ctx context.Context, details PatientDetails) (*Patient, error)
	ListPatients(ctx context.Context, search string, limit int) ([]PatientSummary, error)

	// Appointments
	InsertAppointment(ctx context.Context, a NewAppointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus) (*Appointment, error)
	ListAppointmentsForDate(ctx context.Context, date string) ([]AppointmentDetail, error)
	CountByStatusForDate(ctx context.Context, date string) (map[AppointmentStatus]int, error)
	CountHomeVisits(ctx context.Context, fromDate, toDate string) (int, error)
	// ListElapsed returns active appointments that started at or before
	// (date, time).
	ListElapsed(ctx context.Context, date, time string) ([]Appointment, error)

	// Blocked slots
	InsertBlockedSlot(ctx context.Context, date, time string, reason, createdBy *string) (*BlockedSlot, error)
	ListBlockedSlots(ctx context.Context, date string) ([]BlockedSlot, error)
	DeleteBlockedSlot(ctx context.Context, id uuid.UUID) (*BlockedSlot, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
