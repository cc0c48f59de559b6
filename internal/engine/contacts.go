package engine

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"occasio/internal/contacts"
	"occasio/internal/domain"
	"occasio/pkg/logx"
)

// CreateContact validates and stores a contact. When the contact carries a
// birthday or anniversary, the matching recurring event is seeded so the
// calendar picks it up without a second call.
func (e *Engine) CreateContact(ctx context.Context, c domain.Contact) (domain.Contact, error) {
	if err := validateContact(c); err != nil {
		return domain.Contact{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Category == "" {
		c.Category = domain.CategoryOther
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = e.now()
	}
	if err := e.store.PutContact(ctx, c); err != nil {
		return domain.Contact{}, err
	}
	e.seedContactEvents(ctx, c)
	e.log.Info("contact.created", logx.String("contact_id", c.ID), logx.String("category", string(c.Category)))
	return c, nil
}

// UpdateContact replaces the stored contact record. Events referencing the
// contact are untouched; they hold the ID, not the record.
func (e *Engine) UpdateContact(ctx context.Context, c domain.Contact) (domain.Contact, error) {
	prev, err := e.store.GetContact(ctx, c.ID)
	if err != nil {
		return domain.Contact{}, err
	}
	if err := validateContact(c); err != nil {
		return domain.Contact{}, err
	}
	c.CreatedAt = prev.CreatedAt
	if err := e.store.PutContact(ctx, c); err != nil {
		return domain.Contact{}, err
	}
	e.log.Info("contact.updated", logx.String("contact_id", c.ID))
	return c, nil
}

// validateContact guards both the create and update paths.
func validateContact(c domain.Contact) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: contact name is required", domain.ErrValidation)
	}
	for _, ch := range c.Channels {
		if _, err := domain.ParseChannelType(string(ch.Type)); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		if strings.TrimSpace(ch.Address) == "" {
			return fmt.Errorf("%w: channel %s has no address", domain.ErrValidation, ch.Type)
		}
	}
	return nil
}

func (e *Engine) GetContact(ctx context.Context, id string) (domain.Contact, error) {
	return e.store.GetContact(ctx, id)
}

func (e *Engine) ListContacts(ctx context.Context) ([]domain.Contact, error) {
	return e.store.ListContacts(ctx)
}

// DeleteContact removes the contact and every event that references no other
// contact afterwards.
func (e *Engine) DeleteContact(ctx context.Context, id string) error {
	if err := e.store.DeleteContact(ctx, id); err != nil {
		return err
	}
	for _, ev := range e.index.All() {
		remaining := ev.ContactIDs[:0:0]
		for _, cid := range ev.ContactIDs {
			if cid != id {
				remaining = append(remaining, cid)
			}
		}
		if len(remaining) == len(ev.ContactIDs) {
			continue
		}
		if len(remaining) == 0 {
			if err := e.DeleteEvent(ctx, ev.ID); err != nil {
				e.log.Warn("contact.orphan_event_delete_failed", logx.String("event_id", ev.ID), logx.Err(err))
			}
			continue
		}
		ev.ContactIDs = remaining
		ev.UpdatedAt = e.now()
		if err := e.store.PutEvent(ctx, ev); err != nil {
			e.log.Warn("contact.event_detach_failed", logx.String("event_id", ev.ID), logx.Err(err))
			continue
		}
		e.index.Upsert(ev)
	}
	e.log.Info("contact.deleted", logx.String("contact_id", id))
	return nil
}

// ImportContacts loads a vCard stream, stores the resulting contacts, and
// seeds birthday/anniversary events for the dates the cards carried.
func (e *Engine) ImportContacts(ctx context.Context, r io.Reader) ([]domain.Contact, error) {
	res, err := contacts.Import(r, e.now(), e.log)
	if err != nil {
		return nil, err
	}
	stored := make([]domain.Contact, 0, len(res.Contacts))
	for _, c := range res.Contacts {
		if err := e.store.PutContact(ctx, c); err != nil {
			e.log.Warn("contact.import_store_failed", logx.String("name", c.Name), logx.Err(err))
			continue
		}
		e.seedContactEvents(ctx, c)
		stored = append(stored, c)
	}
	e.log.Info("contact.imported",
		logx.Int("stored", len(stored)),
		logx.Int("skipped", res.Skipped))
	return stored, nil
}

// seedContactEvents creates the recurring events implied by the contact's
// birthday/anniversary fields. Failures are logged, not fatal: the contact is
// already stored and the event can be added by hand.
func (e *Engine) seedContactEvents(ctx context.Context, c domain.Contact) {
	if c.Birthday != nil {
		ev := domain.Event{
			Title:           c.Name + "'s Birthday",
			Date:            *c.Birthday,
			Category:        domain.CategoryBirthday,
			ContactIDs:      []string{c.ID},
			ReminderEnabled: c.RemindersEnabled,
		}
		if _, err := e.CreateEvent(ctx, ev); err != nil {
			e.log.Warn("contact.seed_event_failed", logx.String("contact_id", c.ID), logx.Err(err))
		}
	}
	if c.Anniversary != nil {
		ev := domain.Event{
			Title:           c.Name + "'s Anniversary",
			Date:            *c.Anniversary,
			Category:        domain.CategoryAnniversary,
			ContactIDs:      []string{c.ID},
			ReminderEnabled: c.RemindersEnabled,
		}
		if _, err := e.CreateEvent(ctx, ev); err != nil {
			e.log.Warn("contact.seed_event_failed", logx.String("contact_id", c.ID), logx.Err(err))
		}
	}
}
