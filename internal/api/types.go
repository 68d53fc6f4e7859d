package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// BookingResponse is the creation result shared by every booking channel.
type BookingResponse struct {
	Success       bool       `json:"success"`
	AppointmentID *uuid.UUID `json:"appointmentId,omitempty"`
	Error         string     `json:"error,omitempty"`
	Details       string     `json:"details,omitempty"`
}

type AppointmentResponse struct {
	ID           uuid.UUID `json:"id"`
	PatientID    uuid.UUID `json:"patientId"`
	PatientName  string    `json:"patientName,omitempty"`
	PatientPhone string    `json:"patientPhone,omitempty"`
	ServiceType  string    `json:"serviceType"`
	VisitType    string    `json:"visitType"`
	Date         string    `json:"date"`
	Time         string    `json:"time"`
	Shift        string    `json:"shift"`
	Status       string    `json:"status"`
	Notes        *string   `json:"notes,omitempty"`
	CreatedBy    string    `json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		PatientID:   a.PatientID,
		ServiceType: string(a.ServiceType),
		VisitType:   string(a.VisitType),
		Date:        a.Date,
		Time:        a.Time,
		Shift:       string(a.Shift),
		Status:      string(a.Status),
		Notes:       a.Notes,
		CreatedBy:   string(a.CreatedBy),
		CreatedAt:   a.CreatedAt,
	}
}

func toDetailResponse(d appointment.AppointmentDetail) AppointmentResponse {
	resp := toAppointmentResponse(d.Appointment)
	resp.PatientName = d.PatientName
	resp.PatientPhone = d.PatientPhone
	return resp
}

type BlockSlotRequest struct {
	Date   string `json:"date"`
	Time   string `json:"time"`
	Reason string `json:"reason,omitempty"`
}

type BlockedSlotResponse struct {
	ID        uuid.UUID `json:"id"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	Reason    *string   `json:"reason,omitempty"`
	CreatedBy *string   `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func toBlockedSlotResponse(b appointment.BlockedSlot) BlockedSlotResponse {
	return BlockedSlotResponse{
		ID:        b.ID,
		Date:      b.Date,
		Time:      b.Time,
		Reason:    b.Reason,
		CreatedBy: b.CreatedBy,
		CreatedAt: b.CreatedAt,
	}
}

type PatientResponse struct {
	ID                uuid.UUID `json:"id"`
	FullName          string    `json:"fullName"`
	Phone             string    `json:"phone"`
	Email             *string   `json:"email,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	LastVisit         *string   `json:"lastVisit"`
	TreatmentCategory *string   `json:"treatmentCategory"`
}

func toPatientResponse(p appointment.PatientSummary) PatientResponse {
	resp := PatientResponse{
		ID:        p.ID,
		FullName:  p.FullName,
		Phone:     p.Phone,
		Email:     p.Email,
		CreatedAt: p.CreatedAt,
		LastVisit: p.LastVisit,
	}
	if p.TreatmentCategory != nil {
		category := string(*p.TreatmentCategory)
		resp.TreatmentCategory = &category
	}
	return resp
}

// AgentRequest is the flat payload the external agent posts.
type AgentRequest struct {
	Intent       string `json:"intent"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	ServiceType  string `json:"service_type,omitempty"`
	PatientName  string `json:"patient_name,omitempty"`
	PatientPhone string `json:"patient_phone,omitempty"`
}

type AgentAvailabilityResponse struct {
	Available        []string `json:"available"`
	AvailableDisplay []string `json:"available_display"`
	Morning          []string `json:"morning"`
	Evening          []string `json:"evening"`
}
