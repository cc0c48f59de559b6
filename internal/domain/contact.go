package domain

import (
	"fmt"
	"strings"
	"time"
)

// ChannelType identifies a messaging channel a contact can be reached on.
type ChannelType string

const (
	ChannelSMS      ChannelType = "sms"
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelTelegram ChannelType = "telegram"
)

// ParseChannelType validates a channel type string from config, API input or storage.
func ParseChannelType(s string) (ChannelType, error) {
	switch t := ChannelType(strings.ToLower(strings.TrimSpace(s))); t {
	case ChannelSMS, ChannelWhatsApp, ChannelTelegram:
		return t, nil
	default:
		return "", fmt.Errorf("unknown channel type %q", s)
	}
}

// Channel is one address a contact can receive messages on.
type Channel struct {
	Type    ChannelType
	Address string
}

// ContactCategory groups contacts in the dashboard.
type ContactCategory string

const (
	CategoryFamily  ContactCategory = "family"
	CategoryFriends ContactCategory = "friends"
	CategoryWork    ContactCategory = "work"
	CategoryOther   ContactCategory = "other"
)

// Contact is a person the user sends greetings to.
//
// Events and delivery jobs reference contacts by ID only; the contact record
// is never embedded elsewhere, so edits don't drift.
type Contact struct {
	ID        string
	Name      string
	Email     string
	Channels  []Channel
	Preferred ChannelType
	Category  ContactCategory
	Notes     string

	// Birthday/Anniversary are optional; when set at creation time the engine
	// offers to seed the matching recurring events.
	Birthday    *time.Time
	Anniversary *time.Time

	RemindersEnabled bool
	CreatedAt        time.Time
}

// ChannelFor returns the contact's address for the given channel type.
func (c *Contact) ChannelFor(t ChannelType) (Channel, bool) {
	for _, ch := range c.Channels {
		if ch.Type == t {
			return ch, true
		}
	}
	return Channel{}, false
}

// PreferredChannel returns the preferred channel, falling back to the first
// configured one.
func (c *Contact) PreferredChannel() (Channel, bool) {
	if ch, ok := c.ChannelFor(c.Preferred); ok {
		return ch, true
	}
	if len(c.Channels) > 0 {
		return c.Channels[0], true
	}
	return Channel{}, false
}
