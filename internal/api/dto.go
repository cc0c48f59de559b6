package api

import (
	"time"

	"occasio/internal/delivery"
	"occasio/internal/domain"
	"occasio/internal/reminder"
)

// Wire shapes. Domain types stay free of json tags; the API owns its own
// representation so storage and transport can't drift apart silently.

type channelDTO struct {
	Type    string `json:"type"`
	Address string `json:"address"`
}

type contactDTO struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Email            string       `json:"email,omitempty"`
	Channels         []channelDTO `json:"channels,omitempty"`
	Preferred        string       `json:"preferred,omitempty"`
	Category         string       `json:"category"`
	Notes            string       `json:"notes,omitempty"`
	Birthday         *string      `json:"birthday,omitempty"`    // YYYY-MM-DD
	Anniversary      *string      `json:"anniversary,omitempty"` // YYYY-MM-DD
	RemindersEnabled bool         `json:"reminders_enabled"`
	CreatedAt        time.Time    `json:"created_at"`
}

type eventDTO struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Date            string    `json:"date"` // YYYY-MM-DD
	Category        string    `json:"category"`
	ContactIDs      []string  `json:"contact_ids"`
	ReminderEnabled bool      `json:"reminder_enabled"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type messageDTO struct {
	ID         string    `json:"id"`
	EventID    string    `json:"event_id,omitempty"`
	ContactID  string    `json:"contact_id,omitempty"`
	Body       string    `json:"body"`
	Tone       string    `json:"tone"`
	Provenance string    `json:"provenance"`
	RevisionOf string    `json:"revision_of,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type draftDTO struct {
	Message    messageDTO `json:"message"`
	Candidates []string   `json:"candidates"`
}

type jobDTO struct {
	ID           string     `json:"id"`
	State        string     `json:"state"`
	Attempts     int        `json:"attempts"`
	LastError    string     `json:"last_error,omitempty"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type noticeDTO struct {
	EventID        string    `json:"event_id"`
	Title          string    `json:"title"`
	Category       string    `json:"category"`
	ContactIDs     []string  `json:"contact_ids"`
	Occurrence     string    `json:"occurrence"` // YYYY-MM-DD
	OccurrenceYear int       `json:"occurrence_year"`
	RaisedAt       time.Time `json:"raised_at"`
}

const dateLayout = "2006-01-02"

func toContactDTO(c domain.Contact) contactDTO {
	out := contactDTO{
		ID:               c.ID,
		Name:             c.Name,
		Email:            c.Email,
		Preferred:        string(c.Preferred),
		Category:         string(c.Category),
		Notes:            c.Notes,
		RemindersEnabled: c.RemindersEnabled,
		CreatedAt:        c.CreatedAt,
	}
	for _, ch := range c.Channels {
		out.Channels = append(out.Channels, channelDTO{Type: string(ch.Type), Address: ch.Address})
	}
	if c.Birthday != nil {
		s := c.Birthday.Format(dateLayout)
		out.Birthday = &s
	}
	if c.Anniversary != nil {
		s := c.Anniversary.Format(dateLayout)
		out.Anniversary = &s
	}
	return out
}

func fromContactDTO(in contactDTO) (domain.Contact, error) {
	c := domain.Contact{
		ID:               in.ID,
		Name:             in.Name,
		Email:            in.Email,
		Preferred:        domain.ChannelType(in.Preferred),
		Category:         domain.ContactCategory(in.Category),
		Notes:            in.Notes,
		RemindersEnabled: in.RemindersEnabled,
		CreatedAt:        in.CreatedAt,
	}
	for _, ch := range in.Channels {
		c.Channels = append(c.Channels, domain.Channel{Type: domain.ChannelType(ch.Type), Address: ch.Address})
	}
	if in.Birthday != nil {
		d, err := time.Parse(dateLayout, *in.Birthday)
		if err != nil {
			return domain.Contact{}, err
		}
		c.Birthday = &d
	}
	if in.Anniversary != nil {
		d, err := time.Parse(dateLayout, *in.Anniversary)
		if err != nil {
			return domain.Contact{}, err
		}
		c.Anniversary = &d
	}
	return c, nil
}

func toEventDTO(e domain.Event) eventDTO {
	return eventDTO{
		ID:              e.ID,
		Title:           e.Title,
		Date:            e.Date.Format(dateLayout),
		Category:        string(e.Category),
		ContactIDs:      e.ContactIDs,
		ReminderEnabled: e.ReminderEnabled,
		Notes:           e.Notes,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func toEventDTOs(events []domain.Event) []eventDTO {
	out := make([]eventDTO, 0, len(events))
	for _, e := range events {
		out = append(out, toEventDTO(e))
	}
	return out
}

func toMessageDTO(m domain.DraftedMessage) messageDTO {
	return messageDTO{
		ID:         m.ID,
		EventID:    m.EventID,
		ContactID:  m.ContactID,
		Body:       m.Body,
		Tone:       string(m.Tone),
		Provenance: string(m.Provenance),
		RevisionOf: m.RevisionOf,
		CreatedAt:  m.CreatedAt,
	}
}

func toJobDTO(st delivery.Status) jobDTO {
	out := jobDTO{
		ID:           st.ID,
		State:        st.State,
		Attempts:     st.Attempts,
		LastError:    st.LastError,
		ScheduledFor: st.ScheduledFor,
		CreatedAt:    st.CreatedAt,
	}
	if !st.CompletedAt.IsZero() {
		t := st.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

func toNoticeDTOs(notices []reminder.Notice) []noticeDTO {
	out := make([]noticeDTO, 0, len(notices))
	for _, n := range notices {
		out = append(out, noticeDTO{
			EventID:        n.EventID,
			Title:          n.Title,
			Category:       string(n.Category),
			ContactIDs:     n.ContactIDs,
			Occurrence:     n.Occurrence.Format(dateLayout),
			OccurrenceYear: n.OccurrenceYear,
			RaisedAt:       n.RaisedAt,
		})
	}
	return out
}
