package schedule

import "time"

// DefaultLeadTime is the minimum gap between "now" and the start of a slot
// for public and agent bookings. Change it here; nothing else hardcodes it.
const DefaultLeadTime = 120 * time.Minute

// Rules binds the slot rules to a clock and a lead time. The zero value is
// not usable; use NewRules.
type Rules struct {
	Clock    Clock
	LeadTime time.Duration
}

func NewRules(clock Clock, leadTime time.Duration) Rules {
	if clock == nil {
		clock = SystemClock{}
	}
	return Rules{Clock: clock, LeadTime: leadTime}
}

// SlotState is the booked and blocked slot times for one date, as read from
// the store.
type SlotState struct {
	Booked  []string `json:"booked"`
	Blocked []string `json:"blocked"`
}

// Availability is the availability query payload.
type Availability struct {
	Date      string   `json:"date"`
	Available []string `json:"available"`
	Booked    []string `json:"booked"`
	Blocked   []string `json:"blocked"`
	All       []string `json:"all"`
}

// FilterPastSlots drops slots that do not start strictly after now+buffer.
// Only today's slots are filtered; future dates come back unchanged and past
// or malformed dates come back empty.
func (r Rules) FilterPastSlots(slots []string, date string, buffer time.Duration) []string {
	now := Now(r.Clock)
	today := now.Format(DateLayout)

	if _, err := ParseDate(date); err != nil {
		return []string{}
	}

	switch {
	case date > today:
		out := make([]string, len(slots))
		copy(out, slots)
		return out
	case date < today:
		return []string{}
	}

	cutoff := now.Add(buffer)
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		start, err := SlotInstant(date, s)
		if err != nil {
			continue
		}
		if start.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// AvailableSlots returns the catalog slots bookable right now by a public
// caller: beyond the lead time and neither booked nor blocked.
func (r Rules) AvailableSlots(date string, booked, blocked []string) []string {
	taken := toSet(booked, blocked)
	future := r.FilterPastSlots(AllSlots(), date, r.LeadTime)

	out := make([]string, 0, len(future))
	for _, s := range future {
		if _, ok := taken[s]; ok {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Availability builds the full availability payload for a date.
func (r Rules) Availability(date string, state SlotState) Availability {
	return Availability{
		Date:      date,
		Available: r.AvailableSlots(date, state.Booked, state.Blocked),
		Booked:    nonNil(state.Booked),
		Blocked:   nonNil(state.Blocked),
		All:       AllSlots(),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
