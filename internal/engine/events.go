package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"occasio/internal/domain"
	"occasio/pkg/logx"
)

// EventPatch is a partial event update; nil fields are left untouched.
type EventPatch struct {
	Title           *string
	Date            *time.Time
	Category        *domain.EventCategory
	ContactIDs      *[]string
	ReminderEnabled *bool
	Notes           *string
}

// CreateEvent validates and stores a new event and adds it to the calendar
// index. The stored date is truncated to its calendar day.
func (e *Engine) CreateEvent(ctx context.Context, ev domain.Event) (domain.Event, error) {
	now := e.now()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.Date = domain.DateOnly(ev.Date)
	ev.CreatedAt = now
	ev.UpdatedAt = now
	if err := ev.Validate(); err != nil {
		return domain.Event{}, err
	}
	for _, cid := range ev.ContactIDs {
		if _, err := e.store.GetContact(ctx, cid); err != nil {
			return domain.Event{}, fmt.Errorf("%w: unknown contact %s", domain.ErrValidation, cid)
		}
	}
	if err := e.store.PutEvent(ctx, ev); err != nil {
		return domain.Event{}, err
	}
	e.index.Upsert(ev)
	e.log.Info("event.created",
		logx.String("event_id", ev.ID),
		logx.String("category", string(ev.Category)),
		logx.Time("date", ev.Date))
	return ev, nil
}

// UpdateEvent applies a patch to an existing event. Nothing is persisted when
// the patched event fails validation. Moving the date re-buckets the event in
// the index, so calendar queries see the change immediately.
func (e *Engine) UpdateEvent(ctx context.Context, id string, p EventPatch) (domain.Event, error) {
	ev, err := e.store.GetEvent(ctx, id)
	if err != nil {
		return domain.Event{}, err
	}

	dateChanged := false
	if p.Title != nil {
		ev.Title = *p.Title
	}
	if p.Date != nil {
		d := domain.DateOnly(*p.Date)
		dateChanged = !d.Equal(ev.Date)
		ev.Date = d
	}
	if p.Category != nil {
		ev.Category = *p.Category
	}
	if p.ContactIDs != nil {
		ev.ContactIDs = *p.ContactIDs
	}
	if p.ReminderEnabled != nil {
		ev.ReminderEnabled = *p.ReminderEnabled
	}
	if p.Notes != nil {
		ev.Notes = *p.Notes
	}
	ev.UpdatedAt = e.now()

	if err := ev.Validate(); err != nil {
		return domain.Event{}, err
	}
	if err := e.store.PutEvent(ctx, ev); err != nil {
		return domain.Event{}, err
	}
	e.index.Upsert(ev)
	if dateChanged {
		// The old occurrence's reminder memory no longer applies.
		if err := e.evaluator.Forget(ctx, ev.ID); err != nil {
			e.log.Warn("event.forget_mark", logx.String("event_id", ev.ID), logx.Err(err))
		}
	}
	e.log.Info("event.updated", logx.String("event_id", ev.ID), logx.Bool("date_changed", dateChanged))
	return ev, nil
}

// DeleteEvent removes the event from the store, the index, and the reminder
// memory. Already-scheduled delivery jobs are left alone: they reference the
// message, not the event.
func (e *Engine) DeleteEvent(ctx context.Context, id string) error {
	if err := e.store.DeleteEvent(ctx, id); err != nil {
		return err
	}
	e.index.Remove(id)
	if err := e.evaluator.Forget(ctx, id); err != nil {
		e.log.Warn("event.forget_mark", logx.String("event_id", id), logx.Err(err))
	}
	e.log.Info("event.deleted", logx.String("event_id", id))
	return nil
}

func (e *Engine) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	if ev, ok := e.index.Get(id); ok {
		return ev, nil
	}
	return e.store.GetEvent(ctx, id)
}

// ListUpcoming returns events ordered by their next occurrence from now.
// limit <= 0 means no limit.
func (e *Engine) ListUpcoming(limit int) []domain.Event {
	return e.index.Upcoming(e.now(), limit)
}

// EventsOnDate returns the events effective on the given calendar date,
// recurring ones included.
func (e *Engine) EventsOnDate(date time.Time) []domain.Event {
	return e.index.EventsOn(date)
}

// MonthView returns day-of-month buckets for a dashboard month grid.
func (e *Engine) MonthView(year int, month time.Month) map[int][]domain.Event {
	return e.index.Month(year, month)
}

// CalendarFeed renders the whole index as an iCalendar document for feed
// subscribers.
func (e *Engine) CalendarFeed(name string) ([]byte, error) {
	return e.index.Feed(name, e.now())
}
