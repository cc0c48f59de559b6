package storage

import (
	"context"
	"sort"
	"sync"

	"occasio/internal/domain"
)

// Memory is a map-backed Store with no durability. It backs tests and
// ephemeral runs; it deliberately copies records on the way in and out so
// callers can't alias internal state.
type Memory struct {
	mu       sync.RWMutex
	contacts map[string]domain.Contact
	events   map[string]domain.Event
	messages map[string]domain.DraftedMessage
	jobs     map[string]domain.DeliveryJob
	marks    map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		contacts: map[string]domain.Contact{},
		events:   map[string]domain.Event{},
		messages: map[string]domain.DraftedMessage{},
		jobs:     map[string]domain.DeliveryJob{},
		marks:    map[string]int{},
	}
}

func (m *Memory) PutContact(_ context.Context, c domain.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Channels = append([]domain.Channel(nil), c.Channels...)
	m.contacts[c.ID] = c
	return nil
}

func (m *Memory) GetContact(_ context.Context, id string) (domain.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[id]
	if !ok {
		return domain.Contact{}, ErrNotFound
	}
	c.Channels = append([]domain.Channel(nil), c.Channels...)
	return c, nil
}

func (m *Memory) ListContacts(_ context.Context) ([]domain.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Contact, 0, len(m.contacts))
	for _, c := range m.contacts {
		c.Channels = append([]domain.Channel(nil), c.Channels...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeleteContact(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contacts[id]; !ok {
		return ErrNotFound
	}
	delete(m.contacts, id)
	return nil
}

func (m *Memory) PutEvent(_ context.Context, e domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ContactIDs = append([]string(nil), e.ContactIDs...)
	m.events[e.ID] = e
	return nil
}

func (m *Memory) GetEvent(_ context.Context, id string) (domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	if !ok {
		return domain.Event{}, ErrNotFound
	}
	e.ContactIDs = append([]string(nil), e.ContactIDs...)
	return e, nil
}

func (m *Memory) ListEvents(_ context.Context) ([]domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Event, 0, len(m.events))
	for _, e := range m.events {
		e.ContactIDs = append([]string(nil), e.ContactIDs...)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeleteEvent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[id]; !ok {
		return ErrNotFound
	}
	delete(m.events, id)
	return nil
}

func (m *Memory) PutMessage(_ context.Context, msg domain.DraftedMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ID] = msg
	return nil
}

func (m *Memory) GetMessage(_ context.Context, id string) (domain.DraftedMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return domain.DraftedMessage{}, ErrNotFound
	}
	return msg, nil
}

func (m *Memory) PutJob(_ context.Context, j domain.DeliveryJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (domain.DeliveryJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.DeliveryJob{}, ErrNotFound
	}
	return j, nil
}

func (m *Memory) ListJobsInStates(_ context.Context, states ...domain.JobState) ([]domain.DeliveryJob, error) {
	want := map[domain.JobState]bool{}
	for _, s := range states {
		want[s] = true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.DeliveryJob
	for _, j := range m.jobs {
		if want[j.State] {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) PutReminderMark(_ context.Context, eventID string, year int) error {
	m.mu.Lock()
	m.marks[eventID] = year
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetReminderMark(_ context.Context, eventID string) (int, bool, error) {
	m.mu.RLock()
	y, ok := m.marks[eventID]
	m.mu.RUnlock()
	return y, ok, nil
}

func (m *Memory) DeleteReminderMark(_ context.Context, eventID string) error {
	m.mu.Lock()
	delete(m.marks, eventID)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
