package schedule

import (
	"errors"
	"fmt"
)

// Reason is a caller-facing outcome code for a booking attempt.
type Reason string

const (
	ReasonInvalidSlot     Reason = "INVALID_SLOT"
	ReasonPastSlot        Reason = "PAST_SLOT"
	ReasonBufferViolation Reason = "BUFFER_VIOLATION"
	ReasonSlotTaken       Reason = "SLOT_TAKEN"
	ReasonSlotJustTaken   Reason = "SLOT_JUST_TAKEN"
	ReasonServerError     Reason = "SERVER_ERROR"
)

// SlotError is a rejected booking attempt. It compares equal under errors.Is
// to any SlotError with the same Reason, so the Err* values below work as
// sentinels.
type SlotError struct {
	Reason Reason
	Date   string
	Time   string
	Detail string
}

func (e *SlotError) Error() string {
	msg := string(e.Reason)
	if e.Time != "" || e.Date != "" {
		msg += fmt.Sprintf(": %q on %s", e.Time, e.Date)
	}
	if e.Detail != "" {
		msg += " " + e.Detail
	}
	return msg
}

func (e *SlotError) Is(target error) bool {
	t, ok := target.(*SlotError)
	return ok && t.Reason == e.Reason
}

var (
	ErrInvalidSlot     = &SlotError{Reason: ReasonInvalidSlot}
	ErrPastSlot        = &SlotError{Reason: ReasonPastSlot}
	ErrBufferViolation = &SlotError{Reason: ReasonBufferViolation}
	ErrSlotTaken       = &SlotError{Reason: ReasonSlotTaken}
	ErrSlotJustTaken   = &SlotError{Reason: ReasonSlotJustTaken}
)

// ReasonOf extracts the Reason carried by err, if any.
func ReasonOf(err error) (Reason, bool) {
	var se *SlotError
	if errors.As(err, &se) {
		return se.Reason, true
	}
	return "", false
}

// ValidateOptions selects the role-specific rule set. SkipBufferCheck is set
// for staff walk-ins only: the patient is at the desk, so the past and lead
// time checks do not apply.
type ValidateOptions struct {
	SkipBufferCheck bool
}

// Validate is the gate every write path passes before persisting an
// appointment. It returns nil or a *SlotError. Checks run in a fixed order
// and the first failure wins:
//
//  1. INVALID_SLOT     time (or date) is not a catalog slot
//  2. PAST_SLOT        slot does not start after now
//  3. BUFFER_VIOLATION slot does not start after now + lead time
//  4. SLOT_TAKEN       time is booked or blocked
//
// Checks 2 and 3 are skipped with SkipBufferCheck. 1 and 4 always apply.
func (r Rules) Validate(date, t string, booked, blocked []string, opts ValidateOptions) error {
	if !IsValidSlot(t) {
		return &SlotError{Reason: ReasonInvalidSlot, Date: date, Time: t, Detail: "is not a valid clinic slot"}
	}
	if _, err := ParseDate(date); err != nil {
		return &SlotError{Reason: ReasonInvalidSlot, Date: date, Time: t, Detail: "has a malformed date"}
	}

	if !opts.SkipBufferCheck {
		if len(r.FilterPastSlots([]string{t}, date, 0)) == 0 {
			return &SlotError{Reason: ReasonPastSlot, Date: date, Time: t, Detail: "has already passed"}
		}
		if len(r.FilterPastSlots([]string{t}, date, r.LeadTime)) == 0 {
			return &SlotError{
				Reason: ReasonBufferViolation,
				Date:   date,
				Time:   t,
				Detail: fmt.Sprintf("is within the %d-minute booking window", int(r.LeadTime.Minutes())),
			}
		}
	}

	if _, taken := toSet(booked, blocked)[t]; taken {
		return &SlotError{Reason: ReasonSlotTaken, Date: date, Time: t, Detail: "is not available"}
	}
	return nil
}
