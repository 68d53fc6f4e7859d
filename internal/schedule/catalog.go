package schedule

import (
	"fmt"
	"time"
)

// SlotLength is the granularity of the catalog.
const SlotLength = 30 * time.Minute

type Shift string

const (
	ShiftMorning Shift = "MORNING"
	ShiftEvening Shift = "EVENING"
)

// Shift hours. Anything not listed here (the 13:00-15:59 dead zone included)
// can never appear in the catalog because the catalog is built from these
// lists only.
var (
	morningHours = []int{9, 10, 11, 12}
	eveningHours = []int{16, 17, 18}
)

var (
	catalog    = buildCatalog()
	catalogSet = toSet(catalog)
)

func buildCatalog() []string {
	slots := make([]string, 0, (len(morningHours)+len(eveningHours))*2)
	for _, hours := range [][]int{morningHours, eveningHours} {
		for _, h := range hours {
			for m := 0; m < 60; m += int(SlotLength / time.Minute) {
				slots = append(slots, fmt.Sprintf("%02d:%02d", h, m))
			}
		}
	}
	return slots
}

// AllSlots returns the ordered slot catalog. The catalog is identical for
// every date. Callers get their own copy.
func AllSlots() []string {
	out := make([]string, len(catalog))
	copy(out, catalog)
	return out
}

// IsValidSlot reports whether t is an exact member of the catalog.
func IsValidSlot(t string) bool {
	_, ok := catalogSet[t]
	return ok
}

// ShiftFor classifies a catalog slot. It returns false for anything that is
// not a catalog slot.
func ShiftFor(t string) (Shift, bool) {
	if !IsValidSlot(t) {
		return "", false
	}
	hour := int(t[0]-'0')*10 + int(t[1]-'0')
	for _, h := range morningHours {
		if h == hour {
			return ShiftMorning, true
		}
	}
	return ShiftEvening, true
}

// SplitByShift partitions catalog slots into morning and evening, keeping
// order. Non-catalog values are dropped.
func SplitByShift(slots []string) (morning, evening []string) {
	morning, evening = []string{}, []string{}
	for _, s := range slots {
		shift, ok := ShiftFor(s)
		if !ok {
			continue
		}
		if shift == ShiftMorning {
			morning = append(morning, s)
		} else {
			evening = append(evening, s)
		}
	}
	return morning, evening
}

// FormatDisplay renders "16:30" as "4:30 PM". Unparseable input is returned
// unchanged.
func FormatDisplay(t string) string {
	parsed, err := time.Parse(TimeLayout, t)
	if err != nil {
		return t
	}
	return parsed.Format("3:04 PM")
}

func toSet(values ...[]string) map[string]struct{} {
	n := 0
	for _, v := range values {
		n += len(v)
	}
	set := make(map[string]struct{}, n)
	for _, v := range values {
		for _, s := range v {
			set[s] = struct{}{}
		}
	}
	return set
}
