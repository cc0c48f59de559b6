// Package contacts imports contact records from vCard streams.
package contacts

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-vcard"
	"github.com/google/uuid"

	"occasio/internal/domain"
	"occasio/pkg/logx"
)

// Placeholder year for vCard truncated dates (--MM-DD). A leap year, so
// --02-29 survives parsing.
const noYearYear = 2000

// ImportResult reports what a vCard import produced.
type ImportResult struct {
	Contacts []domain.Contact
	Skipped  int // cards that failed to decode or had no usable name
}

// Import decodes a stream of vCards into contacts. Malformed cards are
// skipped, not fatal: address books exported by real clients routinely
// contain a few broken entries and losing the rest over them helps nobody.
func Import(r io.Reader, now time.Time, log logx.Logger) (ImportResult, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	dec := vcard.NewDecoder(r)
	var res ImportResult
	for {
		card, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Warn("vcard.card_skipped", logx.Err(err))
			res.Skipped++
			continue
		}
		c, err := fromCard(card, now)
		if err != nil {
			log.Debug("vcard.card_skipped", logx.Err(err))
			res.Skipped++
			continue
		}
		res.Contacts = append(res.Contacts, c)
	}
	if len(res.Contacts) == 0 && res.Skipped > 0 {
		return res, fmt.Errorf("vcard: no usable cards (%d skipped)", res.Skipped)
	}
	return res, nil
}

func fromCard(card vcard.Card, now time.Time) (domain.Contact, error) {
	// Name strategy: FN (formatted) over N (structured).
	name := ""
	if fn := card.Get(vcard.FieldFormattedName); fn != nil {
		name = strings.TrimSpace(fn.Value)
	}
	if name == "" {
		if n := card.Get(vcard.FieldName); n != nil {
			name = strings.TrimSpace(strings.ReplaceAll(n.Value, ";", " "))
		}
	}
	if name == "" {
		return domain.Contact{}, errors.New("card has no name")
	}

	c := domain.Contact{
		ID:               uuid.NewString(),
		Name:             name,
		RemindersEnabled: true,
		CreatedAt:        now,
	}
	if em := card.Get(vcard.FieldEmail); em != nil {
		c.Email = strings.TrimSpace(em.Value)
	}
	if note := card.Get(vcard.FieldNote); note != nil {
		c.Notes = strings.TrimSpace(note.Value)
	}
	if cat := card.Get(vcard.FieldCategories); cat != nil {
		c.Category = mapCategory(cat.Value)
	} else {
		c.Category = domain.CategoryOther
	}

	// Phone numbers become sms channels; the first one is preferred.
	for _, tel := range card.Values(vcard.FieldTelephone) {
		tel = strings.TrimSpace(tel)
		if tel == "" {
			continue
		}
		c.Channels = append(c.Channels, domain.Channel{Type: domain.ChannelSMS, Address: tel})
	}
	if len(c.Channels) > 0 {
		c.Preferred = c.Channels[0].Type
	}

	if bday := card.Get(vcard.FieldBirthday); bday != nil && bday.Value != "" {
		if d, _, err := parseCardDate(bday.Value); err == nil {
			c.Birthday = &d
		}
	}
	if ann := card.Get(vcard.FieldAnniversary); ann != nil && ann.Value != "" {
		if d, _, err := parseCardDate(ann.Value); err == nil {
			c.Anniversary = &d
		}
	}
	return c, nil
}

func mapCategory(raw string) domain.ContactCategory {
	for _, part := range strings.Split(raw, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "family":
			return domain.CategoryFamily
		case "friend", "friends":
			return domain.CategoryFriends
		case "work", "colleague", "colleagues":
			return domain.CategoryWork
		}
	}
	return domain.CategoryOther
}

// parseCardDate handles the date shapes seen in the wild: full dates in
// dashed, basic, and timestamp forms, plus the vCard 4.0 truncated --MM-DD
// variants. yearKnown is false for truncated dates.
func parseCardDate(value string) (t time.Time, yearKnown bool, err error) {
	value = strings.TrimSpace(value)
	for _, f := range []string{"2006-01-02", "20060102", time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(f, value); err == nil {
			return domain.DateOnly(t), true, nil
		}
	}
	for _, f := range []string{"--01-02", "--0102"} {
		if t, err := time.Parse(f, value); err == nil {
			return time.Date(noYearYear, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), false, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unrecognized date %q", value)
}
