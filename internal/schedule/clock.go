// Package schedule holds the clinic's slot rules: the fixed civil clock, the
// slot catalog, availability filtering and the validation gate that every
// write path passes through. Nothing here performs I/O.
package schedule

import (
	"fmt"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"

	clinicOffset = 5*time.Hour + 30*time.Minute
)

// ClinicLocation is the clinic's civil timezone (UTC+5:30). It is a fixed
// offset so results never depend on the host's tz database or TZ setting.
var ClinicLocation = time.FixedZone("IST", int(clinicOffset/time.Second))

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock and expresses it in ClinicLocation.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().In(ClinicLocation)
}

// FixedClock always reports the same instant.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time {
	return c.At.In(ClinicLocation)
}

// Now returns the clock's instant in ClinicLocation regardless of what
// location the clock itself used.
func Now(c Clock) time.Time {
	return c.Now().In(ClinicLocation)
}

// Today returns the clinic's calendar date as YYYY-MM-DD.
func Today(c Clock) string {
	return Now(c).Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD string as midnight in ClinicLocation.
func ParseDate(date string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, date, ClinicLocation)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	return d, nil
}

// SlotInstant returns the instant a slot starts.
func SlotInstant(date, slot string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+slot, ClinicLocation)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse slot %s %s: %w", date, slot, err)
	}
	return t, nil
}

// AddDays shifts a YYYY-MM-DD date by n calendar days.
func AddDays(date string, n int) (string, error) {
	d, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return d.AddDate(0, 0, n).Format(DateLayout), nil
}
