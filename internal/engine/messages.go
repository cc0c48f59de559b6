package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"occasio/internal/domain"
	"occasio/internal/suggest"
	"occasio/pkg/logx"
)

// Draft is the result of one drafting call: the persisted primary candidate
// plus every body the suggester produced, so a caller can offer alternatives.
type Draft struct {
	Message    domain.DraftedMessage
	Candidates []string
}

// DraftMessage asks the suggester for candidate greetings for an (event,
// contact) pair and persists the first candidate as an AI-provenance draft.
func (e *Engine) DraftMessage(ctx context.Context, eventID, contactID string, tone domain.Tone) (Draft, error) {
	ev, err := e.GetEvent(ctx, eventID)
	if err != nil {
		return Draft{}, err
	}
	c, err := e.store.GetContact(ctx, contactID)
	if err != nil {
		return Draft{}, err
	}
	if tone == "" {
		tone = domain.ToneFriendly
	}

	bodies, err := e.suggester.Suggest(ctx, suggest.Context{
		ContactName: c.Name,
		Category:    ev.Category,
		Tone:        tone,
		Notes:       c.Notes,
	})
	if err != nil {
		return Draft{}, err
	}
	if len(bodies) == 0 {
		return Draft{}, suggest.ErrNoSuggestions
	}
	for i := range bodies {
		bodies[i] = renderBody(bodies[i], c.Name, occasionWord(ev))
	}

	msg := domain.DraftedMessage{
		ID:         uuid.NewString(),
		EventID:    ev.ID,
		ContactID:  c.ID,
		Body:       bodies[0],
		Tone:       tone,
		Provenance: domain.ProvenanceAI,
		CreatedAt:  e.now(),
	}
	if err := e.store.PutMessage(ctx, msg); err != nil {
		return Draft{}, err
	}
	e.log.Info("message.drafted",
		logx.String("message_id", msg.ID),
		logx.String("event_id", ev.ID),
		logx.String("contact_id", c.ID),
		logx.String("tone", string(tone)),
		logx.Int("candidates", len(bodies)))
	return Draft{Message: msg, Candidates: bodies}, nil
}

// ReviseMessage stores an edited body as a new user-edited draft pointing
// back at the original. Drafts are immutable; the original stays untouched
// and any job already holding its ID keeps sending the original text.
func (e *Engine) ReviseMessage(ctx context.Context, messageID, body string) (domain.DraftedMessage, error) {
	orig, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return domain.DraftedMessage{}, err
	}
	if strings.TrimSpace(body) == "" {
		return domain.DraftedMessage{}, fmt.Errorf("%w: message body is required", domain.ErrValidation)
	}
	rev := domain.DraftedMessage{
		ID:         uuid.NewString(),
		EventID:    orig.EventID,
		ContactID:  orig.ContactID,
		Body:       body,
		Tone:       orig.Tone,
		Provenance: domain.ProvenanceUserEdited,
		RevisionOf: orig.ID,
		CreatedAt:  e.now(),
	}
	if err := e.store.PutMessage(ctx, rev); err != nil {
		return domain.DraftedMessage{}, err
	}
	e.log.Info("message.revised",
		logx.String("message_id", rev.ID),
		logx.String("revision_of", orig.ID))
	return rev, nil
}

func (e *Engine) GetMessage(ctx context.Context, id string) (domain.DraftedMessage, error) {
	return e.store.GetMessage(ctx, id)
}

// renderBody fills the {name} and {occasion} placeholders the canned
// suggestion bodies use. External suggesters may return fully rendered text;
// bodies without placeholders pass through unchanged.
func renderBody(body, name, occasion string) string {
	body = strings.ReplaceAll(body, "{name}", name)
	body = strings.ReplaceAll(body, "{occasion}", occasion)
	return body
}

func occasionWord(ev domain.Event) string {
	switch ev.Category {
	case domain.CategoryBirthday:
		return "birthday"
	case domain.CategoryAnniversary:
		return "anniversary"
	default:
		if t := strings.TrimSpace(ev.Title); t != "" {
			return t
		}
		return "day"
	}
}
