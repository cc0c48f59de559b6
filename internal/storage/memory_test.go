package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"occasio/internal/domain"
)

func TestMemoryContacts(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	c := domain.Contact{
		ID:       "c1",
		Name:     "Sarah",
		Channels: []domain.Channel{{Type: domain.ChannelSMS, Address: "+1555"}},
	}
	if err := m.PutContact(ctx, c); err != nil {
		t.Fatalf("PutContact: %v", err)
	}
	got, err := m.GetContact(ctx, "c1")
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}
	if got.Name != "Sarah" || len(got.Channels) != 1 {
		t.Fatalf("got %+v", got)
	}

	// The store copies slices; mutating a returned record must not leak in.
	got.Channels[0].Address = "tampered"
	again, _ := m.GetContact(ctx, "c1")
	if again.Channels[0].Address != "+1555" {
		t.Fatal("returned slice aliases stored state")
	}

	if _, err := m.GetContact(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := m.DeleteContact(ctx, "c1"); err != nil {
		t.Fatalf("DeleteContact: %v", err)
	}
	if err := m.DeleteContact(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete err = %v, want ErrNotFound", err)
	}
}

func TestMemoryListOrdering(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"b", "a", "c"} {
		c := domain.Contact{ID: id, Name: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := m.PutContact(ctx, c); err != nil {
			t.Fatalf("PutContact: %v", err)
		}
	}
	list, err := m.ListContacts(ctx)
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	want := []string{"b", "a", "c"} // creation order, not key order
	for i := range want {
		if list[i].ID != want[i] {
			t.Fatalf("order = %v, want %v", list, want)
		}
	}
}

func TestMemoryEvents(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	ev := domain.Event{ID: "e1", Title: "Birthday", ContactIDs: []string{"c1"}}
	if err := m.PutEvent(ctx, ev); err != nil {
		t.Fatalf("PutEvent: %v", err)
	}
	got, err := m.GetEvent(ctx, "e1")
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	got.ContactIDs[0] = "tampered"
	again, _ := m.GetEvent(ctx, "e1")
	if again.ContactIDs[0] != "c1" {
		t.Fatal("returned slice aliases stored state")
	}
	if err := m.DeleteEvent(ctx, "e1"); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if _, err := m.GetEvent(ctx, "e1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryJobsByState(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	states := []domain.JobState{domain.JobPending, domain.JobScheduled, domain.JobDelivered, domain.JobFailed}
	for i, st := range states {
		j := domain.DeliveryJob{ID: string(st), State: st, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := m.PutJob(ctx, j); err != nil {
			t.Fatalf("PutJob: %v", err)
		}
	}

	open, err := m.ListJobsInStates(ctx, domain.JobScheduled, domain.JobPending)
	if err != nil {
		t.Fatalf("ListJobsInStates: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("open jobs = %d, want 2", len(open))
	}
	if open[0].State != domain.JobPending || open[1].State != domain.JobScheduled {
		t.Fatalf("order = %v, want CreatedAt order", open)
	}

	none, err := m.ListJobsInStates(ctx)
	if err != nil || len(none) != 0 {
		t.Fatalf("no-state query = %v, %v", none, err)
	}
}

func TestMemoryReminderMarks(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	if _, ok, err := m.GetReminderMark(ctx, "e1"); err != nil || ok {
		t.Fatalf("unset mark: ok=%v err=%v", ok, err)
	}
	if err := m.PutReminderMark(ctx, "e1", 2026); err != nil {
		t.Fatalf("PutReminderMark: %v", err)
	}
	year, ok, err := m.GetReminderMark(ctx, "e1")
	if err != nil || !ok || year != 2026 {
		t.Fatalf("mark = %d/%v/%v", year, ok, err)
	}

	if err := m.DeleteReminderMark(ctx, "e1"); err != nil {
		t.Fatalf("DeleteReminderMark: %v", err)
	}
	if _, ok, err := m.GetReminderMark(ctx, "e1"); err != nil || ok {
		t.Fatalf("deleted mark: ok=%v err=%v", ok, err)
	}
	if err := m.DeleteReminderMark(ctx, "e1"); err != nil {
		t.Fatalf("delete unknown: %v", err)
	}
}
