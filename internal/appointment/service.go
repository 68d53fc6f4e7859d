package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
	"github.com/hackgods/clinic-slot-scheduling/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.appointment")

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventBookingConflict      = "BOOKING_CONFLICT"
	EventSlotBlocked          = "SLOT_BLOCKED"
	EventSlotUnblocked        = "SLOT_UNBLOCKED"
)

const (
	patientListLimit = 100
	homeVisitWindow  = 7
)

var ErrInvalidStatusTransition = errors.New("invalid status transition")

// ViewCache stores display-only views. The writer never reads from it.
//
// Views are versioned by a per-date generation. Store must write only while
// genKey still holds gen, and Invalidate must bump every genKey it is given.
type ViewCache interface {
	Load(ctx context.Context, key string, dst any) (bool, error)
	Generation(ctx context.Context, genKey string) (int64, error)
	Store(ctx context.Context, genKey string, gen int64, key string, v any) (bool, error)
	Invalidate(ctx context.Context, genKeys []string, keys ...string) error
}

func SlotStateKey(date string) string    { return "views:slots:" + date }
func AppointmentsKey(date string) string { return "views:appointments:" + date }
func DashboardKey(date string) string    { return "views:dashboard:" + date }
func GenerationKey(date string) string   { return "views:gen:" + date }

type Service struct {
	repo   Repository
	rules  schedule.Rules
	cache  ViewCache
	logger *logging.Logger
}

// NewService wires the writer. cache may be nil, in which case every view is
// read straight from the repository.
func NewService(repo Repository, rules schedule.Rules, cache ViewCache, logger *logging.Logger) *Service {
	if repo == nil {
		panic("appointment: repository required")
	}
	if rules.Clock == nil {
		rules = schedule.NewRules(nil, rules.LeadTime)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:   repo,
		rules:  rules,
		cache:  cache,
		logger: logger,
	}
}

// Today is the clinic's current date per the service clock.
func (s *Service) Today() string {
	return schedule.Today(s.rules.Clock)
}

// Outcome collapses err into the reason code reported to booking callers.
// Anything that is not a gate or conflict failure is a SERVER_ERROR.
func Outcome(err error) schedule.Reason {
	if err == nil {
		return ""
	}
	if reason, ok := schedule.ReasonOf(err); ok {
		return reason
	}
	return schedule.ReasonServerError
}

func validateDate(date string) error {
	if _, err := schedule.ParseDate(date); err != nil {
		return invalidRequest("date must be YYYY-MM-DD, got %q", date)
	}
	return nil
}

// fetchSlotState reads booked and blocked times for date concurrently.
func (s *Service) fetchSlotState(ctx context.Context, date string) (schedule.SlotState, error) {
	var state schedule.SlotState

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		booked, err := s.repo.BookedTimes(gctx, date)
		state.Booked = booked
		return err
	})
	g.Go(func() error {
		blocked, err := s.repo.BlockedTimes(gctx, date)
		state.Blocked = blocked
		return err
	})
	if err := g.Wait(); err != nil {
		return schedule.SlotState{}, err
	}
	return state, nil
}

// CreateAppointment is the only path that persists a new appointment. The
// gate runs against state read by this call, and the store's uniqueness
// constraint settles races the gate cannot see.
func (s *Service) CreateAppointment(ctx context.Context, req BookingRequest, by CreatedBy) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.create")
	defer span.End()

	req.normalize()
	span.SetAttributes(
		attribute.String("clinic.date", req.Date),
		attribute.String("clinic.time", req.Time),
		attribute.String("clinic.created_by", string(by)),
	)

	if err := req.Validate(); err != nil {
		return nil, err
	}

	status := StatusConfirmed
	opts := schedule.ValidateOptions{}
	if by == CreatedByAdmin {
		status = StatusWalkIn
		opts.SkipBufferCheck = true
	}

	// A malformed date never reaches the store.
	if _, err := schedule.ParseDate(req.Date); err != nil {
		return nil, s.rules.Validate(req.Date, req.Time, nil, nil, opts)
	}

	state, err := s.fetchSlotState(ctx, req.Date)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("read slot state failed", "request", req, "error", err)
		return nil, fmt.Errorf("read slot state: %w", err)
	}

	if err := s.rules.Validate(req.Date, req.Time, state.Booked, state.Blocked, opts); err != nil {
		s.logger.Info("booking rejected", "date", req.Date, "time", req.Time, "created_by", by, "reason", Outcome(err))
		return nil, err
	}

	shift, _ := schedule.ShiftFor(req.Time)

	patient, err := s.repo.UpsertPatient(ctx, req.PatientDetails)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("upsert patient failed", "request", req, "error", err)
		return nil, err
	}

	appt, err := s.repo.InsertAppointment(ctx, NewAppointment{
		PatientID:   patient.ID,
		ServiceType: req.ServiceType,
		VisitType:   req.VisitType,
		Date:        req.Date,
		Time:        req.Time,
		Shift:       shift,
		Status:      status,
		Notes:       optional(req.PatientDetails.Notes),
		CreatedBy:   by,
	})
	if err != nil {
		if errors.Is(err, ErrSlotConflict) {
			s.logger.Warn("slot taken between check and insert", "date", req.Date, "time", req.Time, "created_by", by)
			s.logEvent(ctx, nil, EventBookingConflict, map[string]any{
				"date":       req.Date,
				"time":       req.Time,
				"created_by": by,
			})
			return nil, &schedule.SlotError{
				Reason: schedule.ReasonSlotJustTaken,
				Date:   req.Date,
				Time:   req.Time,
				Detail: "was booked by another request",
			}
		}
		span.RecordError(err)
		s.logger.Error("insert appointment failed", "request", req, "error", err)
		return nil, err
	}

	s.logEvent(ctx, &appt.ID, EventAppointmentCreated, map[string]any{
		"date":       appt.Date,
		"time":       appt.Time,
		"status":     appt.Status,
		"created_by": by,
		"patient_id": patient.ID.String(),
	})
	s.invalidate(ctx, appt.Date)

	s.logger.Info("appointment created",
		"appointment_id", appt.ID,
		"date", appt.Date,
		"time", appt.Time,
		"status", appt.Status,
		"created_by", by,
	)
	return appt, nil
}

// AddWalkIn registers a patient who is physically at the clinic. The time
// checks are skipped; catalog and occupancy checks are not.
func (s *Service) AddWalkIn(ctx context.Context, req WalkInRequest) (*Appointment, error) {
	return s.CreateAppointment(ctx, req.toBooking(), CreatedByAdmin)
}

// Availability returns the availability view for date. Occupancy may come
// from the view cache; the time filter always runs against the current clock.
func (s *Service) Availability(ctx context.Context, date string) (schedule.Availability, error) {
	date = strings.TrimSpace(date)
	if err := validateDate(date); err != nil {
		return schedule.Availability{}, err
	}

	state, err := s.cachedSlotState(ctx, date)
	if err != nil {
		return schedule.Availability{}, fmt.Errorf("availability for %s: %w", date, err)
	}
	return s.rules.Availability(date, state), nil
}

func (s *Service) cachedSlotState(ctx context.Context, date string) (schedule.SlotState, error) {
	key := SlotStateKey(date)

	var state schedule.SlotState
	if s.loadView(ctx, key, &state) {
		return state, nil
	}

	gen, cacheable := s.viewGeneration(ctx, date)
	state, err := s.fetchSlotState(ctx, date)
	if err != nil {
		return schedule.SlotState{}, err
	}
	if cacheable {
		s.storeView(ctx, date, gen, key, state)
	}
	return state, nil
}

func (s *Service) BlockSlot(ctx context.Context, date, t, reason, createdBy string) (*BlockedSlot, error) {
	date, t = strings.TrimSpace(date), strings.TrimSpace(t)
	if err := validateDate(date); err != nil {
		return nil, err
	}
	if !schedule.IsValidSlot(t) {
		return nil, &schedule.SlotError{Reason: schedule.ReasonInvalidSlot, Date: date, Time: t, Detail: "is not a valid clinic slot"}
	}

	b, err := s.repo.InsertBlockedSlot(ctx, date, t, optional(strings.TrimSpace(reason)), optional(createdBy))
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, nil, EventSlotBlocked, map[string]any{
		"blocked_slot_id": b.ID.String(),
		"date":            date,
		"time":            t,
		"reason":          reason,
	})
	s.invalidate(ctx, date)
	return b, nil
}

func (s *Service) UnblockSlot(ctx context.Context, id uuid.UUID) (*BlockedSlot, error) {
	b, err := s.repo.DeleteBlockedSlot(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, nil, EventSlotUnblocked, map[string]any{
		"blocked_slot_id": b.ID.String(),
		"date":            b.Date,
		"time":            b.Time,
	})
	s.invalidate(ctx, b.Date)
	return b, nil
}

func (s *Service) BlockedSlots(ctx context.Context, date string) ([]BlockedSlot, error) {
	date = strings.TrimSpace(date)
	if err := validateDate(date); err != nil {
		return nil, err
	}
	return s.repo.ListBlockedSlots(ctx, date)
}

// CancelAppointment soft-cancels an active appointment, freeing its slot.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCancelled, EventAppointmentCancelled)
}

func (s *Service) CompleteAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted, EventAppointmentCompleted)
}

var activeStatuses = []AppointmentStatus{StatusConfirmed, StatusWalkIn}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to AppointmentStatus, event string) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.transition", trace.WithAttributes(
		attribute.String("clinic.appointment_id", id.String()),
		attribute.String("clinic.status", string(to)),
	))
	defer span.End()

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, activeStatuses, to)
	if err != nil {
		if !errors.Is(err, ErrAppointmentNotFound) {
			span.RecordError(err)
			return nil, fmt.Errorf("update appointment status: %w", err)
		}
		current, getErr := s.repo.GetAppointmentByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, current.Status, to)
	}

	s.logEvent(ctx, &updated.ID, event, map[string]any{
		"date": updated.Date,
		"time": updated.Time,
	})
	s.invalidate(ctx, updated.Date)
	return updated, nil
}

// AppointmentsForDate returns the day timeline: non-cancelled appointments
// ordered by time.
func (s *Service) AppointmentsForDate(ctx context.Context, date string) ([]AppointmentDetail, error) {
	date = strings.TrimSpace(date)
	if err := validateDate(date); err != nil {
		return nil, err
	}

	key := AppointmentsKey(date)
	var list []AppointmentDetail
	if s.loadView(ctx, key, &list) {
		return list, nil
	}

	gen, cacheable := s.viewGeneration(ctx, date)
	list, err := s.repo.ListAppointmentsForDate(ctx, date)
	if err != nil {
		return nil, err
	}
	if cacheable {
		s.storeView(ctx, date, gen, key, list)
	}
	return list, nil
}

// DashboardStats returns today's counters. The counts may come from the view
// cache, but AvailableSlotsToday is recomputed on every call because the lead
// time cutoff moves with the clock.
func (s *Service) DashboardStats(ctx context.Context) (DashboardStats, error) {
	today := schedule.Today(s.rules.Clock)

	var (
		stats DashboardStats
		state schedule.SlotState
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = s.dashboardCounts(gctx, today)
		return err
	})
	g.Go(func() error {
		var err error
		state, err = s.cachedSlotState(gctx, today)
		return err
	})
	if err := g.Wait(); err != nil {
		return DashboardStats{}, fmt.Errorf("dashboard stats: %w", err)
	}

	stats.AvailableSlotsToday = len(s.rules.AvailableSlots(today, state.Booked, state.Blocked))
	return stats, nil
}

func (s *Service) dashboardCounts(ctx context.Context, today string) (DashboardStats, error) {
	key := DashboardKey(today)

	var stats DashboardStats
	if s.loadView(ctx, key, &stats) {
		return stats, nil
	}

	until, err := schedule.AddDays(today, homeVisitWindow)
	if err != nil {
		return DashboardStats{}, err
	}

	gen, cacheable := s.viewGeneration(ctx, today)

	var (
		counts     map[AppointmentStatus]int
		homeVisits int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		counts, err = s.repo.CountByStatusForDate(gctx, today)
		return err
	})
	g.Go(func() error {
		var err error
		homeVisits, err = s.repo.CountHomeVisits(gctx, today, until)
		return err
	})
	if err := g.Wait(); err != nil {
		return DashboardStats{}, err
	}

	for status, n := range counts {
		if status != StatusCancelled {
			stats.TodayTotal += n
		}
	}
	stats.TodayConfirmed = counts[StatusConfirmed]
	stats.TodayWalkIns = counts[StatusWalkIn]
	stats.UpcomingHomeVisits = homeVisits

	if cacheable {
		s.storeView(ctx, today, gen, key, stats)
	}
	return stats, nil
}

func (s *Service) ListPatients(ctx context.Context, search string) ([]PatientSummary, error) {
	return s.repo.ListPatients(ctx, strings.TrimSpace(search), patientListLimit)
}

// CompleteElapsed marks every active appointment whose slot has ended as
// COMPLETED and returns how many were moved.
func (s *Service) CompleteElapsed(ctx context.Context) (int, error) {
	cutoff := schedule.Now(s.rules.Clock).Add(-schedule.SlotLength)
	date := cutoff.Format(schedule.DateLayout)

	elapsed, err := s.repo.ListElapsed(ctx, date, cutoff.Format(schedule.TimeLayout))
	if err != nil {
		return 0, fmt.Errorf("list elapsed appointments: %w", err)
	}

	completed := 0
	touched := map[string]struct{}{}
	for _, a := range elapsed {
		updated, err := s.repo.UpdateAppointmentStatus(ctx, a.ID, activeStatuses, StatusCompleted)
		if err != nil {
			if !errors.Is(err, ErrAppointmentNotFound) {
				s.logger.Error("complete appointment failed", "appointment_id", a.ID, "error", err)
			}
			continue
		}
		completed++
		touched[updated.Date] = struct{}{}
		s.logEvent(ctx, &updated.ID, EventAppointmentCompleted, map[string]any{
			"reason": "worker",
		})
	}

	for d := range touched {
		s.invalidate(ctx, d)
	}
	return completed, nil
}

func (s *Service) loadView(ctx context.Context, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	ok, err := s.cache.Load(ctx, key, dst)
	if err != nil {
		s.logger.Warn("view cache read failed", "key", key, "error", err)
		return false
	}
	return ok
}

// viewGeneration samples date's view generation. It must run before the
// repository fetch whose result is later handed to storeView.
func (s *Service) viewGeneration(ctx context.Context, date string) (int64, bool) {
	if s.cache == nil {
		return 0, false
	}
	gen, err := s.cache.Generation(ctx, GenerationKey(date))
	if err != nil {
		s.logger.Warn("view cache generation read failed", "date", date, "error", err)
		return 0, false
	}
	return gen, true
}

func (s *Service) storeView(ctx context.Context, date string, gen int64, key string, v any) {
	stored, err := s.cache.Store(ctx, GenerationKey(date), gen, key, v)
	if err != nil {
		s.logger.Warn("view cache write failed", "key", key, "error", err)
		return
	}
	if !stored {
		s.logger.Debug("view superseded by a newer write", "key", key)
	}
}

// invalidate drops every cached view that shows slot state for date and
// bumps the generations so in-flight reads cannot store what they fetched.
// Today's dashboard counts home visits across the coming week, so today's
// generation moves too.
func (s *Service) invalidate(ctx context.Context, date string) {
	if s.cache == nil {
		return
	}
	genKeys := []string{GenerationKey(date)}
	keys := []string{SlotStateKey(date), AppointmentsKey(date), DashboardKey(date)}
	if today := schedule.Today(s.rules.Clock); today != date {
		genKeys = append(genKeys, GenerationKey(today))
		keys = append(keys, DashboardKey(today))
	}
	if err := s.cache.Invalidate(ctx, genKeys, keys...); err != nil {
		s.logger.Warn("view cache invalidation failed", "date", date, "error", err)
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshal event payload failed", "event", eventType, "error", err)
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     schedule.Now(s.rules.Clock),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error("insert event log failed", "event", eventType, "appointment_id", appointmentID, "error", err)
	}
}
