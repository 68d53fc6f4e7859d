package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
	"github.com/hackgods/clinic-slot-scheduling/pkg/logging"
)

func dateParam(svc AppointmentService, r *http.Request) string {
	if date := r.URL.Query().Get("date"); date != "" {
		return date
	}
	return svc.Today()
}

func parseID(w http.ResponseWriter, r *http.Request, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func listAppointmentsHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.AppointmentsForDate(r.Context(), dateParam(svc, r))
		if err != nil {
			handleAdminError(w, r, logger, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(list))
		for _, d := range list {
			resp = append(resp, toDetailResponse(d))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func cancelAppointmentHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "invalid_appointment_id")
		if !ok {
			return
		}
		appt, err := svc.CancelAppointment(r.Context(), id)
		if err != nil {
			handleAdminError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func completeAppointmentHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "invalid_appointment_id")
		if !ok {
			return
		}
		appt, err := svc.CompleteAppointment(r.Context(), id)
		if err != nil {
			handleAdminError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func blockSlotHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BlockSlotRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "could not parse JSON")
			return
		}

		b, err := svc.BlockSlot(r.Context(), req.Date, req.Time, req.Reason, AdminSubject(r.Context()))
		if err != nil {
			handleAdminError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, toBlockedSlotResponse(*b))
	}
}

func unblockSlotHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "invalid_blocked_slot_id")
		if !ok {
			return
		}
		b, err := svc.UnblockSlot(r.Context(), id)
		if err != nil {
			handleAdminError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toBlockedSlotResponse(*b))
	}
}

func listBlockedSlotsHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.BlockedSlots(r.Context(), dateParam(svc, r))
		if err != nil {
			handleAdminError(w, r, logger, err)
			return
		}

		resp := make([]BlockedSlotResponse, 0, len(list))
		for _, b := range list {
			resp = append(resp, toBlockedSlotResponse(b))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func dashboardHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.DashboardStats(r.Context())
		if err != nil {
			handleAdminError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func listPatientsHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patients, err := svc.ListPatients(r.Context(), r.URL.Query().Get("search"))
		if err != nil {
			handleAdminError(w, r, logger, err)
			return
		}

		resp := make([]PatientResponse, 0, len(patients))
		for _, p := range patients {
			resp = append(resp, toPatientResponse(p))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleAdminError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	switch {
	case errors.Is(err, appointment.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, schedule.ErrInvalidSlot):
		writeError(w, http.StatusUnprocessableEntity, string(schedule.ReasonInvalidSlot), err.Error())
	case errors.Is(err, appointment.ErrAlreadyBlocked):
		writeError(w, http.StatusConflict, "ALREADY_BLOCKED", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrBlockedSlotNotFound):
		writeError(w, http.StatusNotFound, "blocked_slot_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		logger.Error("admin request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, string(schedule.ReasonServerError), "")
	}
}
