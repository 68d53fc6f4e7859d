// Package apptest provides an in-memory appointment.Repository that enforces
// the same uniqueness rules as the Postgres schema.
package apptest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
)

type Repository struct {
	mu           sync.Mutex
	patients     map[string]*appointment.Patient // by phone
	appointments map[uuid.UUID]*appointment.Appointment
	blocked      map[uuid.UUID]*appointment.BlockedSlot
	events       []appointment.EventLog

	// Err, when set, is returned by every read and write.
	Err error
}

var _ appointment.Repository = (*Repository)(nil)

func New() *Repository {
	return &Repository{
		patients:     map[string]*appointment.Patient{},
		appointments: map[uuid.UUID]*appointment.Appointment{},
		blocked:      map[uuid.UUID]*appointment.BlockedSlot{},
	}
}

// Seed stores a copy of a directly, bypassing every check.
func (r *Repository) Seed(a appointment.Appointment) appointment.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	r.appointments[a.ID] = &a
	return a
}

func (r *Repository) Events() []appointment.EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]appointment.EventLog, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Repository) EventTypes() []string {
	var types []string
	for _, ev := range r.Events() {
		types = append(types, ev.EventType)
	}
	return types
}

func (r *Repository) Appointments() []appointment.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]appointment.Appointment, 0, len(r.appointments))
	for _, a := range r.appointments {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Time < out[j].Time
	})
	return out
}

func (r *Repository) PatientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.patients)
}

func (r *Repository) BookedTimes(_ context.Context, date string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	out := []string{}
	for _, a := range r.appointments {
		if a.Date == date && a.Status != appointment.StatusCancelled {
			out = append(out, a.Time)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *Repository) BlockedTimes(_ context.Context, date string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	out := []string{}
	for _, b := range r.blocked {
		if b.Date == date {
			out = append(out, b.Time)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *Repository) UpsertPatient(_ context.Context, d appointment.PatientDetails) (*appointment.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	now := time.Now()
	p, ok := r.patients[d.Phone]
	if !ok {
		p = &appointment.Patient{ID: uuid.New(), Phone: d.Phone, CreatedAt: now}
		r.patients[d.Phone] = p
	}
	p.FullName = d.Name
	if d.Email != "" {
		email := d.Email
		p.Email = &email
	}
	p.UpdatedAt = now
	cp := *p
	return &cp, nil
}

func (r *Repository) ListPatients(_ context.Context, search string, limit int) ([]appointment.PatientSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	needle := strings.ToLower(search)
	out := []appointment.PatientSummary{}
	for _, p := range r.patients {
		if needle != "" && !strings.Contains(strings.ToLower(p.FullName), needle) && !strings.Contains(p.Phone, needle) {
			continue
		}
		s := appointment.PatientSummary{Patient: *p}
		var last *appointment.Appointment
		for _, a := range r.appointments {
			if a.PatientID != p.ID {
				continue
			}
			if last == nil || a.Date+a.Time > last.Date+last.Time {
				last = a
			}
		}
		if last != nil {
			date, service := last.Date, last.ServiceType
			s.LastVisit = &date
			s.TreatmentCategory = &service
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repository) InsertAppointment(_ context.Context, na appointment.NewAppointment) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	for _, a := range r.appointments {
		if a.Date == na.Date && a.Time == na.Time && a.Status != appointment.StatusCancelled {
			return nil, appointment.ErrSlotConflict
		}
	}
	now := time.Now()
	a := &appointment.Appointment{
		ID:          uuid.New(),
		PatientID:   na.PatientID,
		ServiceType: na.ServiceType,
		VisitType:   na.VisitType,
		Date:        na.Date,
		Time:        na.Time,
		Shift:       na.Shift,
		Status:      na.Status,
		Notes:       na.Notes,
		CreatedBy:   na.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.appointments[a.ID] = a
	cp := *a
	return &cp, nil
}

func (r *Repository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	a, ok := r.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *Repository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from []appointment.AppointmentStatus, to appointment.AppointmentStatus) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	a, ok := r.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	allowed := false
	for _, s := range from {
		if a.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, appointment.ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (r *Repository) ListAppointmentsForDate(_ context.Context, date string) ([]appointment.AppointmentDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	out := []appointment.AppointmentDetail{}
	for _, a := range r.appointments {
		if a.Date != date || a.Status == appointment.StatusCancelled {
			continue
		}
		d := appointment.AppointmentDetail{Appointment: *a}
		for _, p := range r.patients {
			if p.ID == a.PatientID {
				d.PatientName = p.FullName
				d.PatientPhone = p.Phone
			}
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func (r *Repository) CountByStatusForDate(_ context.Context, date string) (map[appointment.AppointmentStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	counts := map[appointment.AppointmentStatus]int{}
	for _, a := range r.appointments {
		if a.Date == date {
			counts[a.Status]++
		}
	}
	return counts, nil
}

func (r *Repository) CountHomeVisits(_ context.Context, fromDate, toDate string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	n := 0
	for _, a := range r.appointments {
		if a.VisitType == appointment.VisitHome && a.Status != appointment.StatusCancelled &&
			a.Date >= fromDate && a.Date <= toDate {
			n++
		}
	}
	return n, nil
}

func (r *Repository) ListElapsed(_ context.Context, date, t string) ([]appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	var out []appointment.Appointment
	for _, a := range r.appointments {
		if !a.Status.Active() {
			continue
		}
		if a.Date < date || (a.Date == date && a.Time <= t) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date+out[i].Time < out[j].Date+out[j].Time })
	return out, nil
}

func (r *Repository) InsertBlockedSlot(_ context.Context, date, t string, reason, createdBy *string) (*appointment.BlockedSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	for _, b := range r.blocked {
		if b.Date == date && b.Time == t {
			return nil, appointment.ErrAlreadyBlocked
		}
	}
	b := &appointment.BlockedSlot{
		ID:        uuid.New(),
		Date:      date,
		Time:      t,
		Reason:    reason,
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
	}
	r.blocked[b.ID] = b
	cp := *b
	return &cp, nil
}

func (r *Repository) ListBlockedSlots(_ context.Context, date string) ([]appointment.BlockedSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	out := []appointment.BlockedSlot{}
	for _, b := range r.blocked {
		if b.Date == date {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func (r *Repository) DeleteBlockedSlot(_ context.Context, id uuid.UUID) (*appointment.BlockedSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	b, ok := r.blocked[id]
	if !ok {
		return nil, appointment.ErrBlockedSlotNotFound
	}
	delete(r.blocked, id)
	return b, nil
}

func (r *Repository) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}
