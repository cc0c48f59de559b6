// Package calendar maintains the in-memory event index used for day lookup,
// month grids, and the "upcoming" view. It is a pure data structure: no I/O,
// one writer (the engine), many concurrent readers.
package calendar

import (
	"sort"
	"sync"
	"time"

	"occasio/internal/domain"
)

type dateKey struct {
	year  int
	month time.Month
	day   int
}

func keyOf(t time.Time) dateKey {
	return dateKey{year: t.Year(), month: t.Month(), day: t.Day()}
}

type entry struct {
	ev  domain.Event
	key dateKey
	seq uint64 // insertion order, stable tie-break for sorting
}

// Index groups events by calendar date.
type Index struct {
	mu      sync.RWMutex
	entries map[string]*entry
	buckets map[dateKey][]string // event IDs in insertion order
	seq     uint64
}

func NewIndex() *Index {
	return &Index{
		entries: map[string]*entry{},
		buckets: map[dateKey][]string{},
	}
}

// Upsert inserts or replaces an event under its date bucket. If the event
// already existed under a different date (the date was edited), it is removed
// from the old bucket first.
func (x *Index) Upsert(ev domain.Event) {
	key := keyOf(domain.DateOnly(ev.Date))

	x.mu.Lock()
	defer x.mu.Unlock()

	if old, ok := x.entries[ev.ID]; ok {
		if old.key == key {
			old.ev = ev
			return
		}
		x.removeFromBucketLocked(old.key, ev.ID)
	}

	x.seq++
	x.entries[ev.ID] = &entry{ev: ev, key: key, seq: x.seq}
	x.buckets[key] = append(x.buckets[key], ev.ID)
}

// Remove deletes the event from whichever bucket holds it. No-op if absent.
func (x *Index) Remove(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	e, ok := x.entries[id]
	if !ok {
		return
	}
	delete(x.entries, id)
	x.removeFromBucketLocked(e.key, id)
}

func (x *Index) removeFromBucketLocked(key dateKey, id string) {
	ids := x.buckets[key]
	for i, v := range ids {
		if v == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(x.buckets, key)
	} else {
		x.buckets[key] = ids
	}
}

// Get returns the indexed event by ID.
func (x *Index) Get(id string) (domain.Event, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.entries[id]
	if !ok {
		return domain.Event{}, false
	}
	return e.ev, true
}

// EventsOn returns the events effective on the given calendar date, in
// insertion order. Non-recurring events match their stored date exactly;
// recurring events match their stored month/day in any queried year.
func (x *Index) EventsOn(date time.Time) []domain.Event {
	key := keyOf(date)

	x.mu.RLock()
	defer x.mu.RUnlock()

	var hits []*entry
	for bkey, ids := range x.buckets {
		if bkey.month != key.month || bkey.day != key.day {
			continue
		}
		for _, id := range ids {
			e := x.entries[id]
			if bkey.year == key.year || e.ev.Category.Recurs() {
				hits = append(hits, e)
			}
		}
	}
	if len(hits) == 0 {
		return nil
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].seq < hits[j].seq })
	out := make([]domain.Event, len(hits))
	for i, e := range hits {
		out[i] = e.ev
	}
	return out
}

// Month returns events of the given calendar month keyed by day of month,
// for rendering a month grid. Recurring events appear under their stored
// month/day regardless of stored year.
func (x *Index) Month(year int, month time.Month) map[int][]domain.Event {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := map[int][]domain.Event{}
	for key, ids := range x.buckets {
		if key.month != month {
			continue
		}
		if key.year != year && !x.bucketRecursLocked(ids) {
			continue
		}
		for _, id := range ids {
			ev := x.entries[id].ev
			if key.year == year || ev.Category.Recurs() {
				out[key.day] = append(out[key.day], ev)
			}
		}
	}
	return out
}

func (x *Index) bucketRecursLocked(ids []string) bool {
	for _, id := range ids {
		if x.entries[id].ev.Category.Recurs() {
			return true
		}
	}
	return false
}

// upcomingItem pairs an event with its effective next occurrence.
type upcomingItem struct {
	ev  domain.Event
	occ time.Time
	seq uint64
}

// Upcoming returns events whose effective next occurrence is at or after
// `from`, ascending by that occurrence, truncated to limit (limit <= 0 means
// no truncation). The occurrence for recurring categories is re-anchored to
// the current or next year; non-recurring events drop out once their date
// has passed.
func (x *Index) Upcoming(from time.Time, limit int) []domain.Event {
	x.mu.RLock()
	items := make([]upcomingItem, 0, len(x.entries))
	for _, e := range x.entries {
		occ, ok := e.ev.NextOccurrence(from)
		if !ok {
			continue
		}
		items = append(items, upcomingItem{ev: e.ev, occ: occ, seq: e.seq})
	}
	x.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].occ.Equal(items[j].occ) {
			return items[i].occ.Before(items[j].occ)
		}
		return items[i].seq < items[j].seq
	})

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]domain.Event, len(items))
	for i, it := range items {
		out[i] = it.ev
	}
	return out
}

// All returns every indexed event in insertion order.
func (x *Index) All() []domain.Event {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]upcomingItem, 0, len(x.entries))
	for _, e := range x.entries {
		out = append(out, upcomingItem{ev: e.ev, seq: e.seq})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })

	evs := make([]domain.Event, len(out))
	for i, it := range out {
		evs[i] = it.ev
	}
	return evs
}

// Len reports the number of indexed events.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}
