package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrValidation is wrapped by all synchronous input-validation failures.
// Nothing is applied when a validation error is returned.
var ErrValidation = errors.New("validation")

// EventCategory classifies a calendar event.
type EventCategory string

const (
	CategoryBirthday    EventCategory = "birthday"
	CategoryAnniversary EventCategory = "anniversary"
	CategoryHoliday     EventCategory = "holiday"
	CategoryEventOther  EventCategory = "other"
)

// Recurs reports whether events of this category repeat every year.
// For recurring categories the stored date's year is informational only.
func (c EventCategory) Recurs() bool {
	return c == CategoryBirthday || c == CategoryAnniversary
}

// Event is a dated occasion (date-only, no time-of-day) tied to one or more
// contacts.
type Event struct {
	ID              string
	Title           string
	Date            time.Time // normalized to midnight via DateOnly
	Category        EventCategory
	ContactIDs      []string
	ReminderEnabled bool
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DateOnly truncates t to its calendar date (midnight, same location).
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// NextOccurrence computes the effective next occurrence of the event at or
// after `from`.
//
// Non-recurring categories occur exactly once, on the stored date; once that
// date has passed, ok is false and the event never reappears. Recurring
// categories (birthday, anniversary) are re-anchored: the stored month/day is
// projected onto from's year, and if that projection falls strictly before
// from's date, onto the following year. A literal comparison against the
// stored date would pin birthdays to their original year; the re-anchoring
// here is what keeps them perpetually upcoming.
func (e *Event) NextOccurrence(from time.Time) (occ time.Time, ok bool) {
	today := DateOnly(from)
	if !e.Category.Recurs() {
		d := DateOnly(e.Date)
		return d, !d.Before(today)
	}

	// Note: time.Date normalizes Feb 29 to Mar 1 in non-leap years, which is
	// the behavior we want for leapling birthdays.
	candidate := time.Date(today.Year(), e.Date.Month(), e.Date.Day(), 0, 0, 0, 0, from.Location())
	if candidate.Before(today) {
		candidate = time.Date(today.Year()+1, e.Date.Month(), e.Date.Day(), 0, 0, 0, 0, from.Location())
	}
	return candidate, true
}

// Validate checks creation-time invariants.
func (e *Event) Validate() error {
	if len(strings.TrimSpace(e.Title)) < 2 {
		return fmt.Errorf("%w: title must be at least 2 characters", ErrValidation)
	}
	if e.Date.IsZero() {
		return fmt.Errorf("%w: event date is required", ErrValidation)
	}
	switch e.Category {
	case CategoryBirthday, CategoryAnniversary, CategoryHoliday, CategoryEventOther:
	default:
		return fmt.Errorf("%w: unknown event category", ErrValidation)
	}
	if len(e.ContactIDs) == 0 {
		return fmt.Errorf("%w: event needs at least one contact", ErrValidation)
	}
	return nil
}
