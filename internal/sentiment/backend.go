// Package sentiment scores financial text with several independent backends
// and combines them into one composite score with a confidence value.
//
// Four backend variants are provided: a contextual LLM, a domain classifier
// served over HTTP, and two in-process lexicons. Each implements Backend and
// either returns a score in [-1, 1] or reports itself unavailable.
package sentiment

import (
	"context"
	"fmt"
	"math"

	"github.com/seenimoa/marketpulse/pkg/models"
)

// Subject is the entity a text is being scored for. A nil subject means the
// whole article.
type Subject struct {
	Kind models.ScopeKind
	ID   string // symbol or sector name
	Name string // display name, may be empty
}

// SubjectFor converts a scope into a subject, returning nil for the
// whole-article scope.
func SubjectFor(scope models.Scope) *Subject {
	if scope.Kind != models.ScopeInstrument && scope.Kind != models.ScopeSector {
		return nil
	}
	return &Subject{Kind: scope.Kind, ID: scope.ID, Name: scope.Name}
}

// Describe returns a short human-readable form such as
// "Reliance Industries Limited (NSE: RELIANCE)" or "the energy sector".
func (s *Subject) Describe() string {
	if s == nil {
		return ""
	}
	switch s.Kind {
	case models.ScopeInstrument:
		if s.Name != "" && s.Name != s.ID {
			return fmt.Sprintf("%s (NSE: %s)", s.Name, s.ID)
		}
		return s.ID
	case models.ScopeSector:
		return fmt.Sprintf("the %s sector", s.ID)
	}
	return s.ID
}

// Result is one backend's output.
type Result struct {
	Score   float64           // [-1, 1]
	Details map[string]string // backend-specific metadata
}

// Backend is a single scoring variant. Score returns an error wrapping
// ErrUnavailable when the backend cannot produce a score; it never panics on
// malformed upstream output.
type Backend interface {
	Name() string
	Score(ctx context.Context, text string, subject *Subject) (Result, error)
}

func clamp(x float64) float64 {
	return math.Max(-1, math.Min(1, x))
}

// truncate cuts text to at most n runes. n <= 0 leaves it untouched.
func truncate(text string, n int) string {
	if n <= 0 {
		return text
	}
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n])
}
