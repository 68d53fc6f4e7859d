package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-slot-scheduling/internal/redis"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
	"github.com/hackgods/clinic-slot-scheduling/pkg/logging"
)

// AppointmentService is the subset of *appointment.Service the handlers use.
type AppointmentService interface {
	Today() string
	Availability(ctx context.Context, date string) (schedule.Availability, error)
	CreateAppointment(ctx context.Context, req appointment.BookingRequest, by appointment.CreatedBy) (*appointment.Appointment, error)
	AddWalkIn(ctx context.Context, req appointment.WalkInRequest) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	CompleteAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	AppointmentsForDate(ctx context.Context, date string) ([]appointment.AppointmentDetail, error)
	BlockSlot(ctx context.Context, date, t, reason, createdBy string) (*appointment.BlockedSlot, error)
	UnblockSlot(ctx context.Context, id uuid.UUID) (*appointment.BlockedSlot, error)
	BlockedSlots(ctx context.Context, date string) ([]appointment.BlockedSlot, error)
	DashboardStats(ctx context.Context) (appointment.DashboardStats, error)
	ListPatients(ctx context.Context, search string) ([]appointment.PatientSummary, error)
}

// DeliveryStore deduplicates webhook deliveries.
type DeliveryStore interface {
	Begin(ctx context.Context, id string) (*redisclient.Delivery, string, error)
	Finish(ctx context.Context, id, token string, d redisclient.Delivery) error
	Abort(ctx context.Context, id, token string) error
}

type RouterConfig struct {
	Service        AppointmentService
	Deliveries     DeliveryStore
	Metrics        *metrics.BookingMetrics
	MetricsHandler http.Handler
	Health         *HealthHandler
	Logger         *logging.Logger

	AdminJWTSecret string
	WebhookSecret  string
	// AllowUnsignedWebhooks accepts agent calls when WebhookSecret is empty.
	// Only set outside production.
	AllowUnsignedWebhooks bool
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/slots", availabilityHandler(cfg.Service, false))
		r.Post("/appointments", createAppointmentHandler(cfg.Service, cfg.Metrics, cfg.Logger))

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminJWT(cfg.AdminJWTSecret))

			r.Get("/slots", availabilityHandler(cfg.Service, true))
			r.Get("/dashboard", dashboardHandler(cfg.Service, cfg.Logger))
			r.Get("/patients", listPatientsHandler(cfg.Service, cfg.Logger))

			r.Post("/walk-ins", addWalkInHandler(cfg.Service, cfg.Metrics, cfg.Logger))
			r.Get("/appointments", listAppointmentsHandler(cfg.Service, cfg.Logger))
			r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service, cfg.Logger))
			r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Service, cfg.Logger))

			r.Get("/blocked-slots", listBlockedSlotsHandler(cfg.Service, cfg.Logger))
			r.Post("/blocked-slots", blockSlotHandler(cfg.Service, cfg.Logger))
			r.Delete("/blocked-slots/{id}", unblockSlotHandler(cfg.Service, cfg.Logger))
		})
	})

	r.Post("/webhooks/ai-agent", agentWebhookHandler(webhookConfig{
		svc:           cfg.Service,
		deliveries:    cfg.Deliveries,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		secret:        cfg.WebhookSecret,
		allowUnsigned: cfg.AllowUnsignedWebhooks,
	}))

	return r
}
