package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/observability/metrics"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
	"github.com/hackgods/clinic-slot-scheduling/pkg/logging"
)

const (
	channelWeb   = "web"
	channelAdmin = "admin"
	channelAgent = "agent"
)

// availabilityHandler serves GET ?date=. Staff may omit the date to get today.
func availabilityHandler(svc AppointmentService, defaultToday bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		if date == "" && defaultToday {
			date = svc.Today()
		}

		av, err := svc.Availability(r.Context(), date)
		if err != nil {
			if errors.Is(err, appointment.ErrInvalidRequest) {
				writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, string(schedule.ReasonServerError), "")
			return
		}
		writeJSON(w, http.StatusOK, av)
	}
}

func createAppointmentHandler(svc AppointmentService, m *metrics.BookingMetrics, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req appointment.BookingRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, BookingResponse{Error: "INVALID_REQUEST", Details: "could not parse JSON"})
			return
		}

		start := time.Now()
		appt, err := svc.CreateAppointment(r.Context(), req, appointment.CreatedByPatient)
		m.ObserveBooking(channelWeb, string(appointment.Outcome(err)), time.Since(start))

		status, resp := bookingResult(appt, err)
		if status == http.StatusInternalServerError {
			logger.Error("create appointment failed", "request_id", GetRequestID(r.Context()), "error", err)
		}
		writeJSON(w, status, resp)
	}
}

func addWalkInHandler(svc AppointmentService, m *metrics.BookingMetrics, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req appointment.WalkInRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, BookingResponse{Error: "INVALID_REQUEST", Details: "could not parse JSON"})
			return
		}

		start := time.Now()
		appt, err := svc.AddWalkIn(r.Context(), req)
		m.ObserveBooking(channelAdmin, string(appointment.Outcome(err)), time.Since(start))

		status, resp := bookingResult(appt, err)
		if status == http.StatusInternalServerError {
			logger.Error("add walk-in failed", "request_id", GetRequestID(r.Context()), "error", err)
		}
		writeJSON(w, status, resp)
	}
}

// bookingResult maps a creation outcome to its HTTP status and body. Internal
// error text never reaches the caller.
func bookingResult(appt *appointment.Appointment, err error) (int, BookingResponse) {
	if err == nil {
		id := appt.ID
		return http.StatusCreated, BookingResponse{Success: true, AppointmentID: &id}
	}
	if errors.Is(err, appointment.ErrInvalidRequest) {
		return http.StatusBadRequest, BookingResponse{Error: "INVALID_REQUEST", Details: err.Error()}
	}

	reason := appointment.Outcome(err)
	resp := BookingResponse{Error: string(reason)}
	switch reason {
	case schedule.ReasonInvalidSlot, schedule.ReasonPastSlot, schedule.ReasonBufferViolation:
		return http.StatusUnprocessableEntity, resp
	case schedule.ReasonSlotTaken, schedule.ReasonSlotJustTaken:
		return http.StatusConflict, resp
	default:
		return http.StatusInternalServerError, BookingResponse{Error: string(schedule.ReasonServerError)}
	}
}
