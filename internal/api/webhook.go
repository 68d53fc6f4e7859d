package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-slot-scheduling/internal/redis"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
	"github.com/hackgods/clinic-slot-scheduling/pkg/logging"
)

const (
	signatureHeader = "X-Webhook-Signature"
	deliveryHeader  = "X-Webhook-Delivery"

	intentCheckAvailability = "CHECK_AVAILABILITY"
	intentBookAppointment   = "BOOK_APPOINTMENT"
)

type webhookConfig struct {
	svc           AppointmentService
	deliveries    DeliveryStore
	metrics       *metrics.BookingMetrics
	logger        *logging.Logger
	secret        string
	allowUnsigned bool
}

// agentWebhookHandler is the entry point for the external booking agent. It
// goes through the same service calls as the web UI, so the agent is bound by
// the public rules.
func agentWebhookHandler(cfg webhookConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			cfg.metrics.ObserveWebhook("", "400")
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "could not read body")
			return
		}

		if !cfg.authorized(body, r.Header.Get(signatureHeader)) {
			cfg.logger.Warn("agent webhook rejected", "reason", "bad signature", "request_id", GetRequestID(r.Context()))
			cfg.metrics.ObserveWebhook("", "401")
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "")
			return
		}

		var req AgentRequest
		if err := json.Unmarshal(body, &req); err != nil {
			cfg.metrics.ObserveWebhook("", "400")
			writeError(w, http.StatusBadRequest, "INVALID_JSON", "could not parse JSON")
			return
		}

		deliveryID := strings.TrimSpace(r.Header.Get(deliveryHeader))
		var token string
		if deliveryID != "" && cfg.deliveries != nil {
			replay, claim, err := cfg.deliveries.Begin(r.Context(), deliveryID)
			switch {
			case errors.Is(err, redisclient.ErrDeliveryInProgress):
				cfg.metrics.ObserveWebhook(req.Intent, "409")
				writeError(w, http.StatusConflict, "DELIVERY_IN_PROGRESS", "")
				return
			case err != nil:
				// Dedupe is best effort; the booking path has its own guarantees.
				cfg.logger.Warn("webhook delivery guard unavailable", "delivery_id", deliveryID, "error", err)
			case replay != nil:
				cfg.metrics.ObserveWebhook(req.Intent, strconv.Itoa(replay.Status))
				writeRaw(w, replay.Status, replay.Body)
				return
			default:
				token = claim
			}
		}

		status, payload := cfg.dispatch(r, req)
		raw, err := json.Marshal(payload)
		if err != nil {
			status = http.StatusInternalServerError
			raw = []byte(`{"error":"SERVER_ERROR"}`)
		}

		if token != "" {
			if status >= http.StatusInternalServerError {
				err = cfg.deliveries.Abort(r.Context(), deliveryID, token)
			} else {
				err = cfg.deliveries.Finish(r.Context(), deliveryID, token, redisclient.Delivery{Status: status, Body: raw})
			}
			if err != nil {
				cfg.logger.Warn("webhook delivery bookkeeping failed", "delivery_id", deliveryID, "error", err)
			}
		}

		cfg.metrics.ObserveWebhook(req.Intent, strconv.Itoa(status))
		writeRaw(w, status, raw)
	}
}

func (cfg webhookConfig) authorized(body []byte, header string) bool {
	if cfg.secret == "" {
		if cfg.allowUnsigned {
			cfg.logger.Warn("WEBHOOK_SECRET is not set; accepting unsigned agent request")
			return true
		}
		return false
	}
	return verifySignature(cfg.secret, body, header)
}

// verifySignature checks header == "sha256=" + hex(HMAC-SHA256(secret, body))
// in constant time.
func verifySignature(secret string, payload []byte, header string) bool {
	if strings.TrimSpace(secret) == "" || strings.TrimSpace(header) == "" {
		return false
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), provided)
}

// SignPayload returns the signature header value for body.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (cfg webhookConfig) dispatch(r *http.Request, req AgentRequest) (int, any) {
	switch req.Intent {
	case intentCheckAvailability:
		av, err := cfg.svc.Availability(r.Context(), req.Date)
		if err != nil {
			if errors.Is(err, appointment.ErrInvalidRequest) {
				return http.StatusBadRequest, ErrorResponse{Error: "INVALID_REQUEST", Details: err.Error()}
			}
			cfg.logger.Error("agent availability failed", "date", req.Date, "error", err)
			return http.StatusInternalServerError, ErrorResponse{Error: string(schedule.ReasonServerError)}
		}
		morning, evening := schedule.SplitByShift(av.Available)
		return http.StatusOK, AgentAvailabilityResponse{
			Available:        av.Available,
			AvailableDisplay: displayAll(av.Available),
			Morning:          displayAll(morning),
			Evening:          displayAll(evening),
		}

	case intentBookAppointment:
		service := appointment.ServiceType(req.ServiceType)
		if service == "" {
			service = appointment.ServicePhysiotherapy
		}

		start := time.Now()
		appt, err := cfg.svc.CreateAppointment(r.Context(), appointment.BookingRequest{
			Date:        req.Date,
			Time:        req.Time,
			ServiceType: service,
			VisitType:   appointment.VisitClinic,
			PatientDetails: appointment.PatientDetails{
				Name:  req.PatientName,
				Phone: req.PatientPhone,
			},
		}, appointment.CreatedByAgent)
		cfg.metrics.ObserveBooking(channelAgent, string(appointment.Outcome(err)), time.Since(start))

		status, resp := bookingResult(appt, err)
		switch status {
		case http.StatusInternalServerError:
			cfg.logger.Error("agent booking failed", "request", req, "error", err)
		case http.StatusCreated, http.StatusConflict, http.StatusUnprocessableEntity:
			// Agents branch on the body's success and error fields.
			status = http.StatusOK
		}
		return status, resp
	}

	return http.StatusBadRequest, ErrorResponse{Error: "UNKNOWN_INTENT"}
}

func displayAll(slots []string) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, schedule.FormatDisplay(s))
	}
	return out
}

func writeRaw(w http.ResponseWriter, status int, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}
