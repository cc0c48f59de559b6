package domain

import "time"

// Tone tags the register of a drafted greeting.
type Tone string

const (
	ToneCasual       Tone = "casual"
	ToneFormal       Tone = "formal"
	ToneFriendly     Tone = "friendly"
	ToneProfessional Tone = "professional"
)

// Provenance records who authored a drafted message body.
type Provenance string

const (
	ProvenanceAI         Provenance = "ai"
	ProvenanceUserEdited Provenance = "user-edited"
)

// DraftedMessage is an immutable candidate greeting. Editing never mutates a
// draft in place; a revision is a new DraftedMessage pointing back at the
// original, which preserves the audit trail.
type DraftedMessage struct {
	ID         string
	EventID    string // optional
	ContactID  string // optional; at least one of EventID/ContactID is set
	Body       string
	Tone       Tone
	Provenance Provenance
	RevisionOf string // ID of the draft this revision replaces, if any
	CreatedAt  time.Time
}
