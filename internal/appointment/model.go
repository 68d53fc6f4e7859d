package appointment

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
)

type AppointmentStatus string

const (
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusWalkIn    AppointmentStatus = "WALK_IN"
	StatusCancelled AppointmentStatus = "CANCELLED"
	StatusCompleted AppointmentStatus = "COMPLETED"
)

// Active reports whether the appointment still occupies its slot.
func (s AppointmentStatus) Active() bool {
	return s == StatusConfirmed || s == StatusWalkIn
}

type ServiceType string

const (
	ServicePhysiotherapy ServiceType = "PHYSIOTHERAPY"
	ServiceCancerRehab   ServiceType = "CANCER_REHAB"
	ServiceHomeVisit     ServiceType = "HOME_VISIT"
)

func (s ServiceType) Valid() bool {
	switch s {
	case ServicePhysiotherapy, ServiceCancerRehab, ServiceHomeVisit:
		return true
	}
	return false
}

type VisitType string

const (
	VisitClinic VisitType = "CLINIC"
	VisitHome   VisitType = "HOME"
)

func (v VisitType) Valid() bool {
	return v == VisitClinic || v == VisitHome
}

// CreatedBy identifies which kind of caller wrote an appointment. It also
// selects the booking rule set.
type CreatedBy string

const (
	CreatedByPatient CreatedBy = "PATIENT"
	CreatedByAdmin   CreatedBy = "ADMIN"
	CreatedByAgent   CreatedBy = "AI_AGENT"
)

type Patient struct {
	ID        uuid.UUID
	FullName  string
	Phone     string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	ServiceType ServiceType
	VisitType   VisitType
	Date        string // YYYY-MM-DD
	Time        string // HH:MM, clinic time
	Shift       schedule.Shift
	Status      AppointmentStatus
	Notes       *string
	CreatedBy   CreatedBy
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AppointmentDetail is an appointment joined with its patient's contact
// fields, as shown on the admin timeline.
type AppointmentDetail struct {
	Appointment
	PatientName  string
	PatientPhone string
}

type BlockedSlot struct {
	ID        uuid.UUID
	Date      string
	Time      string
	Reason    *string
	CreatedBy *string
	CreatedAt time.Time
}

// PatientSummary is a patient plus their most recent appointment.
type PatientSummary struct {
	Patient
	LastVisit         *string
	TreatmentCategory *ServiceType
}

type DashboardStats struct {
	TodayTotal          int `json:"todayTotal"`
	TodayConfirmed      int `json:"todayConfirmed"`
	TodayWalkIns        int `json:"todayWalkIns"`
	UpcomingHomeVisits  int `json:"upcomingHomeVisits"`
	AvailableSlotsToday int `json:"availableSlotsToday"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type PatientDetails struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// BookingRequest is the appointment creation request shared by the booking
// UI, staff walk-in entry and the agent webhook.
type BookingRequest struct {
	Date           string         `json:"dateStr"`
	Time           string         `json:"timeStr"`
	ServiceType    ServiceType    `json:"serviceType"`
	VisitType      VisitType      `json:"visitType"`
	PatientDetails PatientDetails `json:"patientDetails"`
}

func (r *BookingRequest) normalize() {
	r.Date = strings.TrimSpace(r.Date)
	r.Time = strings.TrimSpace(r.Time)
	r.PatientDetails.Name = strings.TrimSpace(r.PatientDetails.Name)
	r.PatientDetails.Phone = strings.TrimSpace(r.PatientDetails.Phone)
	r.PatientDetails.Email = strings.TrimSpace(r.PatientDetails.Email)
	r.PatientDetails.Notes = strings.TrimSpace(r.PatientDetails.Notes)
}

// Validate checks the request shape. Slot legality is the gate's job, not
// this method's.
func (r BookingRequest) Validate() error {
	switch {
	case r.PatientDetails.Name == "":
		return invalidRequest("patient name is required")
	case r.PatientDetails.Phone == "":
		return invalidRequest("patient phone is required")
	case !r.ServiceType.Valid():
		return invalidRequest("unknown service type %q", r.ServiceType)
	case !r.VisitType.Valid():
		return invalidRequest("unknown visit type %q", r.VisitType)
	}
	return nil
}

// WalkInRequest is the staff walk-in form. Missing fields fall back to the
// clinic defaults in toBooking.
type WalkInRequest struct {
	Date         string      `json:"dateStr"`
	Time         string      `json:"timeStr"`
	PatientName  string      `json:"patientName"`
	PatientPhone string      `json:"patientPhone"`
	ServiceType  ServiceType `json:"serviceType,omitempty"`
	Notes        string      `json:"notes,omitempty"`
}

const walkInNote = "Walk-in patient"

func (w WalkInRequest) toBooking() BookingRequest {
	service := w.ServiceType
	if service == "" {
		service = ServicePhysiotherapy
	}
	notes := strings.TrimSpace(w.Notes)
	if notes == "" {
		notes = walkInNote
	}
	return BookingRequest{
		Date:        w.Date,
		Time:        w.Time,
		ServiceType: service,
		VisitType:   VisitClinic,
		PatientDetails: PatientDetails{
			Name:  w.PatientName,
			Phone: w.PatientPhone,
			Notes: notes,
		},
	}
}

// NewAppointment is the row the writer inserts.
type NewAppointment struct {
	PatientID   uuid.UUID
	ServiceType ServiceType
	VisitType   VisitType
	Date        string
	Time        string
	Shift       schedule.Shift
	Status      AppointmentStatus
	Notes       *string
	CreatedBy   CreatedBy
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
