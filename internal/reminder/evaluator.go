// Package reminder decides which events are due a reminder notice at a given
// check time, and guarantees each occurrence reminds at most once.
package reminder

import (
	"context"
	"sync"
	"time"

	"occasio/internal/calendar"
	"occasio/internal/domain"
	"occasio/internal/storage"
	logx "occasio/pkg/logx"
)

// Config controls the reminder lead window.
type Config struct {
	// LeadDays is how many days ahead of the occurrence a reminder fires.
	// 0 means same-day (midnight-anchored), which is the default.
	LeadDays int
}

// Notice is one reminder raised for one event occurrence.
type Notice struct {
	EventID        string
	Title          string
	Category       domain.EventCategory
	ContactIDs     []string
	Occurrence     time.Time
	OccurrenceYear int
	RaisedAt       time.Time
}

// Evaluator scans the calendar index for reminder-enabled events whose
// effective next occurrence falls inside the lead window.
//
// Dedup state is keyed (eventID, occurrenceYear) and written through to the
// store, so a restart never re-raises a reminder for an occurrence that was
// already seen.
type Evaluator struct {
	mu    sync.Mutex
	cfg   Config
	index *calendar.Index
	store storage.Store
	log   logx.Logger

	seen map[string]int // eventID -> last reminded occurrence year
}

func New(cfg Config, index *calendar.Index, store storage.Store, log logx.Logger) *Evaluator {
	if cfg.LeadDays < 0 {
		cfg.LeadDays = 0
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Evaluator{
		cfg:   cfg,
		index: index,
		store: store,
		log:   log,
		seen:  map[string]int{},
	}
}

// Apply updates the lead window at runtime.
func (e *Evaluator) Apply(cfg Config) {
	if cfg.LeadDays < 0 {
		cfg.LeadDays = 0
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

// Due returns the reminder notices due at `at`, marking each returned
// occurrence as reminded. Calling Due again for the same occurrence returns
// nothing until the next calendar year's occurrence enters the window.
func (e *Evaluator) Due(ctx context.Context, at time.Time) ([]Notice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	windowEnd := domain.DateOnly(at).AddDate(0, 0, e.cfg.LeadDays)

	var out []Notice
	for _, ev := range e.index.All() {
		if !ev.ReminderEnabled {
			continue
		}
		occ, ok := ev.NextOccurrence(at)
		if !ok {
			continue
		}
		if occ.After(windowEnd) {
			continue
		}

		year := occ.Year()
		reminded, known, err := e.lastRemindedLocked(ctx, ev.ID)
		if err != nil {
			return nil, err
		}
		if known && reminded >= year {
			continue
		}

		if err := e.markLocked(ctx, ev.ID, year); err != nil {
			return nil, err
		}
		e.log.Debug("reminder.raised",
			logx.String("event", ev.ID),
			logx.String("title", ev.Title),
			logx.Int("occurrence_year", year))

		out = append(out, Notice{
			EventID:        ev.ID,
			Title:          ev.Title,
			Category:       ev.Category,
			ContactIDs:     append([]string(nil), ev.ContactIDs...),
			Occurrence:     occ,
			OccurrenceYear: year,
			RaisedAt:       at,
		})
	}
	return out, nil
}

// Forget drops dedup state for an event, both the in-memory cache and the
// stored mark. Used when the event is deleted or its date is edited.
func (e *Evaluator) Forget(ctx context.Context, eventID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.seen, eventID)
	return e.store.DeleteReminderMark(ctx, eventID)
}

func (e *Evaluator) lastRemindedLocked(ctx context.Context, eventID string) (int, bool, error) {
	if y, ok := e.seen[eventID]; ok {
		return y, true, nil
	}
	y, ok, err := e.store.GetReminderMark(ctx, eventID)
	if err != nil {
		return 0, false, err
	}
	if ok {
		e.seen[eventID] = y
	}
	return y, ok, nil
}

func (e *Evaluator) markLocked(ctx context.Context, eventID string, year int) error {
	if err := e.store.PutReminderMark(ctx, eventID, year); err != nil {
		return err
	}
	e.seen[eventID] = year
	return nil
}
