package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/appointment/apptest"
	"github.com/hackgods/clinic-slot-scheduling/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-slot-scheduling/internal/redis"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
	"github.com/hackgods/clinic-slot-scheduling/pkg/logging"
)

const (
	testAdminSecret   = "admin-secret"
	testWebhookSecret = "agent-secret"

	today    = "2025-12-04"
	tomorrow = "2025-12-05"
)

type testEnv struct {
	handler http.Handler
	repo    *apptest.Repository
}

func newTestEnv(t *testing.T, mutate func(*RouterConfig)) *testEnv {
	t.Helper()

	repo := apptest.New()
	logger := logging.NewWithWriter("error", &bytes.Buffer{})
	clock := schedule.FixedClock{At: time.Date(2025, 12, 4, 14, 50, 0, 0, schedule.ClinicLocation)}
	svc := appointment.NewService(repo, schedule.NewRules(clock, schedule.DefaultLeadTime), nil, logger)

	mr := miniredis.RunT(t)
	rdb, err := redisclient.NewRedisClient(context.Background(), redisclient.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := RouterConfig{
		Service:        svc,
		Deliveries:     redisclient.NewDeliveryGuard(rdb, time.Hour),
		Metrics:        metrics.NewBookingMetrics(prometheus.NewRegistry()),
		Logger:         logger,
		AdminJWTSecret: testAdminSecret,
		WebhookSecret:  testWebhookSecret,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &testEnv{handler: NewRouter(cfg), repo: repo}
}

func adminToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "reception@clinic",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) admin(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{"Authorization": "Bearer " + adminToken(t, testAdminSecret)})
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func bookingBody(date, t, phone string) map[string]any {
	return map[string]any{
		"dateStr":     date,
		"timeStr":     t,
		"serviceType": "PHYSIOTHERAPY",
		"visitType":   "CLINIC",
		"patientDetails": map[string]string{
			"name":  "Anil Kumar",
			"phone": phone,
		},
	}
}

func TestHealthEndpoints(t *testing.T) {
	down := func(context.Context) error { return errors.New("down") }
	up := func(context.Context) error { return nil }

	tests := []struct {
		name     string
		postgres PingFunc
		redis    PingFunc
		code     int
		status   string
	}{
		{"all up", up, up, http.StatusOK, "ok"},
		{"redis down", up, down, http.StatusOK, "degraded"},
		{"postgres down", down, up, http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(c *RouterConfig) {
				c.Health = NewHealthHandler(tt.postgres, tt.redis, "test", "v1")
			})

			rec := env.do(t, http.MethodGet, "/health/ready", nil, nil)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.status, decode[ReadinessResponse](t, rec).Status)

			rec = env.do(t, http.MethodGet, "/health/live", nil, nil)
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestRequestIDEchoed(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/slots?date="+tomorrow, nil, map[string]string{"X-Request-ID": "req-42"})
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodGet, "/api/slots?date="+tomorrow, nil, nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestPublicAvailability(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/slots?date="+today, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	av := decode[schedule.Availability](t, rec)
	assert.Equal(t, []string{"17:00", "17:30", "18:00", "18:30"}, av.Available)
	assert.Len(t, av.All, 14)
	assert.Empty(t, av.Booked)

	rec = env.do(t, http.MethodGet, "/api/slots", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAppointmentEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/appointments", bookingBody(tomorrow, "09:00", "9000000001"), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[BookingResponse](t, rec)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.AppointmentID)

	tests := []struct {
		name string
		body any
		code int
		err  string
	}{
		{"taken", bookingBody(tomorrow, "09:00", "9000000002"), http.StatusConflict, "SLOT_TAKEN"},
		{"dead zone", bookingBody(tomorrow, "14:00", "9000000002"), http.StatusUnprocessableEntity, "INVALID_SLOT"},
		{"past", bookingBody(today, "10:00", "9000000002"), http.StatusUnprocessableEntity, "PAST_SLOT"},
		{"lead time", bookingBody(today, "16:30", "9000000002"), http.StatusUnprocessableEntity, "BUFFER_VIOLATION"},
		{"missing phone", bookingBody(tomorrow, "10:00", ""), http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad json", "{", http.StatusBadRequest, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/appointments", tt.body, nil)
			assert.Equal(t, tt.code, rec.Code)
			resp := decode[BookingResponse](t, rec)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.err, resp.Error)
		})
	}
}

func TestCreateAppointmentHidesInfrastructureErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	env.repo.Err = errors.New("pq: password authentication failed for user clinic")

	rec := env.do(t, http.MethodPost, "/api/appointments", bookingBody(tomorrow, "09:00", "9000000001"), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"SERVER_ERROR"}`, rec.Body.String())
}

func TestAdminRequiresValidToken(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/admin/dashboard", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/dashboard", nil, map[string]string{
		"Authorization": "Bearer " + adminToken(t, "someone-elses-secret"),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	disabled := newTestEnv(t, func(c *RouterConfig) { c.AdminJWTSecret = "" })
	rec = disabled.do(t, http.MethodGet, "/api/admin/dashboard", nil, map[string]string{
		"Authorization": "Bearer " + adminToken(t, testAdminSecret),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminWalkIn(t *testing.T) {
	env := newTestEnv(t, nil)

	// 12:30 has passed, but the patient is at the desk.
	walkIn := map[string]string{
		"dateStr":      today,
		"timeStr":      "12:30",
		"patientName":  "Lakshmi",
		"patientPhone": "9000000005",
	}
	rec := env.admin(t, http.MethodPost, "/api/admin/walk-ins", walkIn)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.admin(t, http.MethodPost, "/api/admin/walk-ins", walkIn)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "SLOT_TAKEN", decode[BookingResponse](t, rec).Error)

	walkIn["timeStr"] = "13:30"
	rec = env.admin(t, http.MethodPost, "/api/admin/walk-ins", walkIn)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.admin(t, http.MethodGet, "/api/admin/appointments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]AppointmentResponse](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "WALK_IN", list[0].Status)
	assert.Equal(t, "ADMIN", list[0].CreatedBy)
	assert.Equal(t, "Lakshmi", list[0].PatientName)
}

func TestAdminBlockedSlots(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.admin(t, http.MethodPost, "/api/admin/blocked-slots", BlockSlotRequest{Date: tomorrow, Time: "11:00", Reason: "staff training"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	blocked := decode[BlockedSlotResponse](t, rec)
	require.NotNil(t, blocked.CreatedBy)
	assert.Equal(t, "reception@clinic", *blocked.CreatedBy)

	rec = env.admin(t, http.MethodPost, "/api/admin/blocked-slots", BlockSlotRequest{Date: tomorrow, Time: "11:00"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_BLOCKED", decode[ErrorResponse](t, rec).Error)

	rec = env.admin(t, http.MethodPost, "/api/admin/blocked-slots", BlockSlotRequest{Date: tomorrow, Time: "14:00"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INVALID_SLOT", decode[ErrorResponse](t, rec).Error)

	rec = env.do(t, http.MethodGet, "/api/slots?date="+tomorrow, nil, nil)
	av := decode[schedule.Availability](t, rec)
	assert.Equal(t, []string{"11:00"}, av.Blocked)
	assert.NotContains(t, av.Available, "11:00")

	rec = env.admin(t, http.MethodGet, "/api/admin/blocked-slots?date="+tomorrow, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]BlockedSlotResponse](t, rec), 1)

	rec = env.admin(t, http.MethodDelete, "/api/admin/blocked-slots/"+blocked.ID.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.admin(t, http.MethodDelete, "/api/admin/blocked-slots/"+blocked.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.admin(t, http.MethodDelete, "/api/admin/blocked-slots/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminCancelAndComplete(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/appointments", bookingBody(tomorrow, "17:00", "9000000001"), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[BookingResponse](t, rec).AppointmentID.String()

	rec = env.admin(t, http.MethodPost, "/api/admin/appointments/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CANCELLED", decode[AppointmentResponse](t, rec).Status)

	rec = env.admin(t, http.MethodPost, "/api/admin/appointments/"+id+"/complete", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decode[ErrorResponse](t, rec).Error)

	rec = env.admin(t, http.MethodPost, "/api/admin/appointments/00000000-0000-0000-0000-000000000001/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// the cancelled slot is bookable again
	rec = env.do(t, http.MethodPost, "/api/appointments", bookingBody(tomorrow, "17:00", "9000000002"), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	id = decode[BookingResponse](t, rec).AppointmentID.String()

	rec = env.admin(t, http.MethodPost, "/api/admin/appointments/"+id+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "COMPLETED", decode[AppointmentResponse](t, rec).Status)
}

func TestAdminDashboardAndPatients(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/appointments", bookingBody(today, "17:00", "9000000001"), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.admin(t, http.MethodGet, "/api/admin/dashboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"todayTotal":1,"todayConfirmed":1,"todayWalkIns":0,"upcomingHomeVisits":0,"availableSlotsToday":3}`, rec.Body.String())

	rec = env.admin(t, http.MethodGet, "/api/admin/patients?search=anil", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	patients := decode[[]PatientResponse](t, rec)
	require.Len(t, patients, 1)
	require.NotNil(t, patients[0].LastVisit)
	assert.Equal(t, today, *patients[0].LastVisit)
	require.NotNil(t, patients[0].TreatmentCategory)
	assert.Equal(t, "PHYSIOTHERAPY", *patients[0].TreatmentCategory)

	rec = env.admin(t, http.MethodGet, "/api/admin/slots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	av := decode[schedule.Availability](t, rec)
	assert.Equal(t, today, av.Date)
	assert.Equal(t, []string{"17:00"}, av.Booked)
}
