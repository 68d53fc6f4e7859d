package appointment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/appointment/apptest"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
	"github.com/hackgods/clinic-slot-scheduling/pkg/logging"
)

const (
	today    = "2025-12-04"
	tomorrow = "2025-12-05"
)

// 14:50 clinic time, so the public cutoff today is 16:50.
func clockAt(hour, minute int) schedule.FixedClock {
	return schedule.FixedClock{At: time.Date(2025, 12, 4, hour, minute, 0, 0, schedule.ClinicLocation)}
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	gens    map[string]int64
	deleted []string
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string][]byte{}, gens: map[string]int64{}}
}

func (c *mapCache) Load(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (c *mapCache) Generation(_ context.Context, genKey string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[genKey], nil
}

func (c *mapCache) Store(_ context.Context, genKey string, gen int64, key string, v any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[genKey] != gen {
		return false, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	c.entries[key] = raw
	return true, nil
}

func (c *mapCache) Invalidate(_ context.Context, genKeys []string, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, gk := range genKeys {
		c.gens[gk]++
	}
	for _, k := range keys {
		delete(c.entries, k)
	}
	c.deleted = append(c.deleted, keys...)
	return nil
}

// put plants a view directly, as if an earlier reader had stored it.
func (c *mapCache) put(t *testing.T, key string, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
}

func (c *mapCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

func newService(t *testing.T, repo appointment.Repository, clock schedule.Clock, cache appointment.ViewCache) *appointment.Service {
	t.Helper()
	logger := logging.NewWithWriter("error", &bytes.Buffer{})
	return appointment.NewService(repo, schedule.NewRules(clock, schedule.DefaultLeadTime), cache, logger)
}

func booking(date, t, phone string) appointment.BookingRequest {
	return appointment.BookingRequest{
		Date:        date,
		Time:        t,
		ServiceType: appointment.ServicePhysiotherapy,
		VisitType:   appointment.VisitClinic,
		PatientDetails: appointment.PatientDetails{
			Name:  "Meera Iyer",
			Phone: phone,
		},
	}
}

func TestCreateAppointmentPublic(t *testing.T) {
	repo := apptest.New()
	svc := newService(t, repo, clockAt(14, 50), nil)

	appt, err := svc.CreateAppointment(context.Background(), booking(tomorrow, "09:00", "9000000001"), appointment.CreatedByPatient)
	require.NoError(t, err)

	assert.Equal(t, appointment.StatusConfirmed, appt.Status)
	assert.Equal(t, schedule.ShiftMorning, appt.Shift)
	assert.Equal(t, appointment.CreatedByPatient, appt.CreatedBy)
	assert.Equal(t, []string{appointment.EventAppointmentCreated}, repo.EventTypes())
}

func TestCreateAppointmentGateFailures(t *testing.T) {
	tests := []struct {
		name   string
		date   string
		time   string
		reason schedule.Reason
	}{
		{"dead zone", today, "13:00", schedule.ReasonInvalidSlot},
		{"not a slot", tomorrow, "09:15", schedule.ReasonInvalidSlot},
		{"malformed date", "04-12-2025", "09:00", schedule.ReasonInvalidSlot},
		{"already passed", today, "11:00", schedule.ReasonPastSlot},
		{"past date", "2025-12-03", "17:00", schedule.ReasonPastSlot},
		{"inside lead time", today, "16:30", schedule.ReasonBufferViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := apptest.New()
			svc := newService(t, repo, clockAt(14, 50), nil)

			_, err := svc.CreateAppointment(context.Background(), booking(tt.date, tt.time, "9000000001"), appointment.CreatedByPatient)
			require.Error(t, err)
			assert.Equal(t, tt.reason, appointment.Outcome(err))
			assert.Empty(t, repo.Appointments())
			assert.Zero(t, repo.PatientCount())
		})
	}
}

func TestCreateAppointmentAgentHonoursLeadTime(t *testing.T) {
	svc := newService(t, apptest.New(), clockAt(14, 50), nil)

	_, err := svc.CreateAppointment(context.Background(), booking(today, "16:30", "9000000001"), appointment.CreatedByAgent)
	assert.ErrorIs(t, err, schedule.ErrBufferViolation)

	appt, err := svc.CreateAppointment(context.Background(), booking(today, "17:00", "9000000001"), appointment.CreatedByAgent)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, appt.Status)
	assert.Equal(t, appointment.CreatedByAgent, appt.CreatedBy)
}

func TestCreateAppointmentSlotTaken(t *testing.T) {
	repo := apptest.New()
	svc := newService(t, repo, clockAt(14, 50), nil)
	ctx := context.Background()

	_, err := svc.CreateAppointment(ctx, booking(tomorrow, "10:00", "9000000001"), appointment.CreatedByPatient)
	require.NoError(t, err)

	_, err = svc.CreateAppointment(ctx, booking(tomorrow, "10:00", "9000000002"), appointment.CreatedByPatient)
	assert.ErrorIs(t, err, schedule.ErrSlotTaken)

	_, err = svc.BlockSlot(ctx, tomorrow, "11:00", "staff meeting", "admin")
	require.NoError(t, err)
	_, err = svc.CreateAppointment(ctx, booking(tomorrow, "11:00", "9000000002"), appointment.CreatedByPatient)
	assert.ErrorIs(t, err, schedule.ErrSlotTaken)

	assert.Len(t, repo.Appointments(), 1)
}

// barrierRepo holds every BookedTimes caller until `parties` callers have
// read, so concurrent writers all see the slot as free.
type barrierRepo struct {
	*apptest.Repository
	wg *sync.WaitGroup
}

func (b barrierRepo) BookedTimes(ctx context.Context, date string) ([]string, error) {
	times, err := b.Repository.BookedTimes(ctx, date)
	b.wg.Done()
	b.wg.Wait()
	return times, err
}

func TestCreateAppointmentConcurrentSameSlot(t *testing.T) {
	inner := apptest.New()
	wg := &sync.WaitGroup{}
	wg.Add(2)
	svc := newService(t, barrierRepo{Repository: inner, wg: wg}, clockAt(14, 50), nil)

	results := make([]error, 2)
	var done sync.WaitGroup
	for i := range results {
		done.Add(1)
		go func(i int) {
			defer done.Done()
			phone := []string{"9000000001", "9000000002"}[i]
			_, results[i] = svc.CreateAppointment(context.Background(), booking(tomorrow, "16:30", phone), appointment.CreatedByPatient)
		}(i)
	}
	done.Wait()

	var ok, justTaken int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, schedule.ErrSlotJustTaken):
			justTaken++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, justTaken)
	assert.Len(t, inner.Appointments(), 1)
	assert.Contains(t, inner.EventTypes(), appointment.EventBookingConflict)
}

func TestAddWalkInAtCurrentMinute(t *testing.T) {
	repo := apptest.New()
	svc := newService(t, repo, clockAt(16, 0), nil)
	ctx := context.Background()

	appt, err := svc.AddWalkIn(ctx, appointment.WalkInRequest{
		Date:         today,
		Time:         "16:00",
		PatientName:  "Kiran",
		PatientPhone: "9000000003",
	})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusWalkIn, appt.Status)
	assert.Equal(t, appointment.CreatedByAdmin, appt.CreatedBy)
	assert.Equal(t, appointment.ServicePhysiotherapy, appt.ServiceType)
	assert.Equal(t, appointment.VisitClinic, appt.VisitType)
	require.NotNil(t, appt.Notes)
	assert.Equal(t, "Walk-in patient", *appt.Notes)

	_, err = svc.AddWalkIn(ctx, appointment.WalkInRequest{
		Date:         today,
		Time:         "16:00",
		PatientName:  "Someone Else",
		PatientPhone: "9000000004",
	})
	assert.Equal(t, schedule.ReasonSlotTaken, appointment.Outcome(err))

	_, err = svc.AddWalkIn(ctx, appointment.WalkInRequest{
		Date:         today,
		Time:         "14:00",
		PatientName:  "Someone Else",
		PatientPhone: "9000000004",
	})
	assert.Equal(t, schedule.ReasonInvalidSlot, appointment.Outcome(err))
}

func TestCreateAppointmentRepositoryFailure(t *testing.T) {
	repo := apptest.New()
	repo.Err = errors.New("connection refused")
	svc := newService(t, repo, clockAt(14, 50), nil)

	_, err := svc.CreateAppointment(context.Background(), booking(tomorrow, "09:00", "9000000001"), appointment.CreatedByPatient)
	require.Error(t, err)
	assert.Equal(t, schedule.ReasonServerError, appointment.Outcome(err))
}

func TestCreateAppointmentInvalidRequest(t *testing.T) {
	svc := newService(t, apptest.New(), clockAt(14, 50), nil)

	req := booking(tomorrow, "09:00", "  ")
	_, err := svc.CreateAppointment(context.Background(), req, appointment.CreatedByPatient)
	assert.ErrorIs(t, err, appointment.ErrInvalidRequest)

	req = booking(tomorrow, "09:00", "9000000001")
	req.ServiceType = "MASSAGE"
	_, err = svc.CreateAppointment(context.Background(), req, appointment.CreatedByPatient)
	assert.ErrorIs(t, err, appointment.ErrInvalidRequest)
}

func TestCreateAppointmentReusesPatientByPhone(t *testing.T) {
	repo := apptest.New()
	svc := newService(t, repo, clockAt(14, 50), nil)
	ctx := context.Background()

	a1, err := svc.CreateAppointment(ctx, booking(tomorrow, "09:00", "9000000001"), appointment.CreatedByPatient)
	require.NoError(t, err)
	a2, err := svc.CreateAppointment(ctx, booking(tomorrow, "09:30", "9000000001"), appointment.CreatedByPatient)
	require.NoError(t, err)

	assert.Equal(t, a1.PatientID, a2.PatientID)
	assert.Equal(t, 1, repo.PatientCount())
}

func TestAvailabilityCachedAndInvalidated(t *testing.T) {
	repo := apptest.New()
	cache := newMapCache()
	svc := newService(t, repo, clockAt(14, 50), cache)
	ctx := context.Background()

	av, err := svc.Availability(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, []string{"17:00", "17:30", "18:00", "18:30"}, av.Available)
	assert.Len(t, av.All, 14)
	assert.True(t, cache.has(appointment.SlotStateKey(today)))

	_, err = svc.CreateAppointment(ctx, booking(today, "17:30", "9000000001"), appointment.CreatedByPatient)
	require.NoError(t, err)
	assert.False(t, cache.has(appointment.SlotStateKey(today)))
	assert.Contains(t, cache.deleted, appointment.AppointmentsKey(today))
	assert.Contains(t, cache.deleted, appointment.DashboardKey(today))

	av, err = svc.Availability(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, []string{"17:00", "18:00", "18:30"}, av.Available)
	assert.Equal(t, []string{"17:30"}, av.Booked)
}

func TestAvailabilityCacheNeverFeedsTheWriter(t *testing.T) {
	repo := apptest.New()
	cache := newMapCache()
	svc := newService(t, repo, clockAt(14, 50), cache)
	ctx := context.Background()

	// A stale view that claims 17:00 is free while the store says otherwise.
	cache.put(t, appointment.SlotStateKey(today), schedule.SlotState{})
	repo.Seed(appointment.Appointment{Date: today, Time: "17:00", Status: appointment.StatusConfirmed})

	_, err := svc.CreateAppointment(ctx, booking(today, "17:00", "9000000001"), appointment.CreatedByPatient)
	assert.ErrorIs(t, err, schedule.ErrSlotTaken)
}

// pauseRepo parks the first BookedTimes caller after its read until release
// is closed, so a write can land between a reader's fetch and its store.
type pauseRepo struct {
	*apptest.Repository
	armed   atomic.Bool
	reached chan struct{}
	release chan struct{}
}

func (p *pauseRepo) BookedTimes(ctx context.Context, date string) ([]string, error) {
	times, err := p.Repository.BookedTimes(ctx, date)
	if p.armed.CompareAndSwap(true, false) {
		close(p.reached)
		<-p.release
	}
	return times, err
}

func TestAvailabilityReadRacingWriteIsNotCached(t *testing.T) {
	repo := &pauseRepo{
		Repository: apptest.New(),
		reached:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	repo.armed.Store(true)
	cache := newMapCache()
	svc := newService(t, repo, clockAt(14, 50), cache)
	ctx := context.Background()

	readDone := make(chan error, 1)
	go func() {
		_, err := svc.Availability(ctx, tomorrow)
		readDone <- err
	}()

	<-repo.reached
	_, err := svc.CreateAppointment(ctx, booking(tomorrow, "17:00", "9000000001"), appointment.CreatedByPatient)
	require.NoError(t, err)

	close(repo.release)
	require.NoError(t, <-readDone)
	assert.False(t, cache.has(appointment.SlotStateKey(tomorrow)))

	av, err := svc.Availability(ctx, tomorrow)
	require.NoError(t, err)
	assert.Equal(t, []string{"17:00"}, av.Booked)
	assert.NotContains(t, av.Available, "17:00")
	assert.True(t, cache.has(appointment.SlotStateKey(tomorrow)))
}

func TestAvailabilityRejectsMalformedDate(t *testing.T) {
	svc := newService(t, apptest.New(), clockAt(14, 50), nil)

	_, err := svc.Availability(context.Background(), "tomorrow")
	assert.ErrorIs(t, err, appointment.ErrInvalidRequest)
}

func TestCancelAppointmentFreesSlot(t *testing.T) {
	repo := apptest.New()
	svc := newService(t, repo, clockAt(14, 50), nil)
	ctx := context.Background()

	appt, err := svc.CreateAppointment(ctx, booking(tomorrow, "12:00", "9000000001"), appointment.CreatedByPatient)
	require.NoError(t, err)

	cancelled, err := svc.CancelAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, cancelled.Status)

	_, err = svc.CancelAppointment(ctx, appt.ID)
	assert.ErrorIs(t, err, appointment.ErrInvalidStatusTransition)

	_, err = svc.CreateAppointment(ctx, booking(tomorrow, "12:00", "9000000002"), appointment.CreatedByPatient)
	assert.NoError(t, err)

	_, err = svc.CancelAppointment(ctx, uuid.New())
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)

	assert.Contains(t, repo.EventTypes(), appointment.EventAppointmentCancelled)
}

func TestCompleteAppointment(t *testing.T) {
	repo := apptest.New()
	svc := newService(t, repo, clockAt(14, 50), nil)
	seeded := repo.Seed(appointment.Appointment{Date: today, Time: "09:00", Status: appointment.StatusWalkIn})

	done, err := svc.CompleteAppointment(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCompleted, done.Status)

	_, err = svc.CancelAppointment(context.Background(), seeded.ID)
	assert.ErrorIs(t, err, appointment.ErrInvalidStatusTransition)
}

func TestBlockAndUnblockSlot(t *testing.T) {
	repo := apptest.New()
	svc := newService(t, repo, clockAt(14, 50), nil)
	ctx := context.Background()

	_, err := svc.BlockSlot(ctx, tomorrow, "14:00", "", "admin")
	assert.ErrorIs(t, err, schedule.ErrInvalidSlot)

	b, err := svc.BlockSlot(ctx, tomorrow, "11:30", "equipment service", "admin")
	require.NoError(t, err)
	require.NotNil(t, b.Reason)
	assert.Equal(t, "equipment service", *b.Reason)

	_, err = svc.BlockSlot(ctx, tomorrow, "11:30", "", "admin")
	assert.ErrorIs(t, err, appointment.ErrAlreadyBlocked)

	list, err := svc.BlockedSlots(ctx, tomorrow)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = svc.UnblockSlot(ctx, b.ID)
	require.NoError(t, err)
	_, err = svc.UnblockSlot(ctx, b.ID)
	assert.ErrorIs(t, err, appointment.ErrBlockedSlotNotFound)

	assert.Equal(t, []string{appointment.EventSlotBlocked, appointment.EventSlotUnblocked}, repo.EventTypes())
}

func TestDashboardStats(t *testing.T) {
	repo := apptest.New()
	svc := newService(t, repo, clockAt(14, 50), newMapCache())

	repo.Seed(appointment.Appointment{Date: today, Time: "17:00", Status: appointment.StatusConfirmed, VisitType: appointment.VisitClinic})
	repo.Seed(appointment.Appointment{Date: today, Time: "09:00", Status: appointment.StatusWalkIn, VisitType: appointment.VisitClinic})
	repo.Seed(appointment.Appointment{Date: today, Time: "10:00", Status: appointment.StatusCancelled, VisitType: appointment.VisitHome})
	repo.Seed(appointment.Appointment{Date: "2025-12-06", Time: "10:00", Status: appointment.StatusConfirmed, VisitType: appointment.VisitHome})
	repo.Seed(appointment.Appointment{Date: "2025-12-20", Time: "10:00", Status: appointment.StatusConfirmed, VisitType: appointment.VisitHome})

	stats, err := svc.DashboardStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, appointment.DashboardStats{
		TodayTotal:          2,
		TodayConfirmed:      1,
		TodayWalkIns:        1,
		UpcomingHomeVisits:  1,
		AvailableSlotsToday: 3,
	}, stats)
}

func TestDashboardStatsRecomputesAvailabilityAgainstClock(t *testing.T) {
	repo := apptest.New()
	cache := newMapCache()
	ctx := context.Background()

	repo.Seed(appointment.Appointment{Date: today, Time: "17:00", Status: appointment.StatusConfirmed, VisitType: appointment.VisitClinic})
	repo.Seed(appointment.Appointment{Date: "2025-12-06", Time: "10:00", Status: appointment.StatusConfirmed, VisitType: appointment.VisitHome})

	early, err := newService(t, repo, clockAt(14, 50), cache).DashboardStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, early.AvailableSlotsToday)
	assert.True(t, cache.has(appointment.DashboardKey(today)))

	// Written behind the service's back, so only a cache miss would see it.
	repo.Seed(appointment.Appointment{Date: "2025-12-07", Time: "10:00", Status: appointment.StatusConfirmed, VisitType: appointment.VisitHome})

	// At 16:20 the public cutoff is 18:20; only 18:30 is left.
	late, err := newService(t, repo, clockAt(16, 20), cache).DashboardStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, late.UpcomingHomeVisits)
	assert.Equal(t, 1, late.AvailableSlotsToday)
}

func TestAppointmentsForDate(t *testing.T) {
	repo := apptest.New()
	svc := newService(t, repo, clockAt(14, 50), newMapCache())
	ctx := context.Background()

	_, err := svc.CreateAppointment(ctx, booking(tomorrow, "17:00", "9000000001"), appointment.CreatedByPatient)
	require.NoError(t, err)
	_, err = svc.CreateAppointment(ctx, booking(tomorrow, "09:30", "9000000002"), appointment.CreatedByPatient)
	require.NoError(t, err)

	list, err := svc.AppointmentsForDate(ctx, tomorrow)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "09:30", list[0].Time)
	assert.Equal(t, "9000000002", list[0].PatientPhone)

	// served from the view cache
	cached, err := svc.AppointmentsForDate(ctx, tomorrow)
	require.NoError(t, err)
	assert.Equal(t, list[1].ID, cached[1].ID)
}

func TestCompleteElapsed(t *testing.T) {
	repo := apptest.New()
	svc := newService(t, repo, clockAt(14, 50), nil)

	repo.Seed(appointment.Appointment{Date: "2025-12-03", Time: "17:00", Status: appointment.StatusConfirmed})
	repo.Seed(appointment.Appointment{Date: today, Time: "09:00", Status: appointment.StatusWalkIn})
	repo.Seed(appointment.Appointment{Date: today, Time: "11:00", Status: appointment.StatusCancelled})
	upcoming := repo.Seed(appointment.Appointment{Date: today, Time: "17:00", Status: appointment.StatusConfirmed})

	n, err := svc.CompleteElapsed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, a := range repo.Appointments() {
		if a.ID == upcoming.ID {
			assert.Equal(t, appointment.StatusConfirmed, a.Status)
		}
	}
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, schedule.Reason(""), appointment.Outcome(nil))
	assert.Equal(t, schedule.ReasonSlotJustTaken, appointment.Outcome(schedule.ErrSlotJustTaken))
	assert.Equal(t, schedule.ReasonServerError, appointment.Outcome(errors.New("boom")))
}
