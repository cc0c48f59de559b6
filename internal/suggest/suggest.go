// Package suggest defines the text-suggestion collaborator interface.
//
// The engine never generates greeting text; it forwards a drafting context to
// an external Suggester and persists whichever candidate the caller keeps.
package suggest

import (
	"context"
	"errors"

	"occasio/internal/domain"
)

var ErrNoSuggestions = errors.New("suggester returned no candidates")

// Context carries what the suggester needs to draft candidates.
type Context struct {
	ContactName string
	Category    domain.EventCategory
	Tone        domain.Tone
	Notes       string
}

// Suggester produces candidate greeting bodies for a drafting context.
type Suggester interface {
	Suggest(ctx context.Context, sc Context) ([]string, error)
}

// Static serves canned bodies per tone. It is the default when no external
// suggestion service is configured, and keeps drafting usable offline.
type Static struct {
	// ByTone maps a tone to its template bodies. Empty tones fall back to
	// Default.
	ByTone  map[domain.Tone][]string
	Default []string
}

func (s *Static) Suggest(_ context.Context, sc Context) ([]string, error) {
	bodies := s.ByTone[sc.Tone]
	if len(bodies) == 0 {
		bodies = s.Default
	}
	if len(bodies) == 0 {
		return nil, ErrNoSuggestions
	}
	out := make([]string, len(bodies))
	copy(out, bodies)
	return out, nil
}
