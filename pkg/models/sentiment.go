package models

import "time"

// Label is the categorical form of a composite score.
type Label string

const (
	LabelVeryPositive Label = "very_positive"
	LabelPositive     Label = "positive"
	LabelNeutral      Label = "neutral"
	LabelNegative     Label = "negative"
	LabelVeryNegative Label = "very_negative"
)

// LabelBin maps scores at or above Min (exclusive when Exclusive is set) to Label.
type LabelBin struct {
	Min       float64
	Exclusive bool
	Label     Label
}

// LabelBins is the label table, ordered from the highest bin down. The last
// bin catches everything below the previous edges.
var LabelBins = []LabelBin{
	{Min: 0.6, Label: LabelVeryPositive},
	{Min: 0.2, Label: LabelPositive},
	{Min: -0.2, Exclusive: true, Label: LabelNeutral},
	{Min: -0.6, Exclusive: true, Label: LabelNegative},
}

// Labels lists every label in display order.
var Labels = []Label{LabelVeryPositive, LabelPositive, LabelNeutral, LabelNegative, LabelVeryNegative}

// LabelFor returns the label for a composite score.
func LabelFor(score float64) Label {
	for _, b := range LabelBins {
		if score > b.Min || (!b.Exclusive && score == b.Min) {
			return b.Label
		}
	}
	return LabelVeryNegative
}

// ScopeKind identifies what a score or aggregate pertains to.
type ScopeKind string

const (
	ScopeInstrument ScopeKind = "instrument"
	ScopeSector     ScopeKind = "sector"
	ScopeArticle    ScopeKind = "article" // whole-article, no entity
)

// Scope is exactly one of: an instrument, a sector, or the whole article.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id,omitempty"` // symbol or sector name; empty for ScopeArticle
	Name string    `json:"name,omitempty"`
}

// ArticleScope is the unscoped whole-article scope.
var ArticleScope = Scope{Kind: ScopeArticle}

// InstrumentScope returns a scope for a symbol.
func InstrumentScope(symbol, name string) Scope {
	return Scope{Kind: ScopeInstrument, ID: symbol, Name: name}
}

// SectorScope returns a scope for a sector.
func SectorScope(name string) Scope {
	return Scope{Kind: ScopeSector, ID: name, Name: name}
}

// Key returns a stable identifier for the scope.
func (s Scope) Key() string {
	if s.Kind == ScopeArticle || s.Kind == "" {
		return string(ScopeArticle)
	}
	return string(s.Kind) + ":" + s.ID
}

// SentimentScore is one ensemble result for an article within a scope.
type SentimentScore struct {
	ID         string             `json:"id"`
	ArticleID  string             `json:"article_id"`
	Symbol     string             `json:"symbol,omitempty"` // set only for instrument scope
	Sector     string             `json:"sector,omitempty"` // set only for sector scope
	Backends   map[string]float64 `json:"backends"`         // raw per-backend scores
	Composite  float64            `json:"composite"`        // [-1, 1]
	Label      Label              `json:"label"`
	Confidence float64            `json:"confidence"` // [0, 1]
	Entities   []string           `json:"entities,omitempty"`
	Keywords   []string           `json:"keywords,omitempty"`
	Details    map[string]string  `json:"details,omitempty"` // backend-specific metadata
	CreatedAt  time.Time          `json:"created_at"`
}

// Scope returns the scope the score was produced for.
func (s SentimentScore) Scope() Scope {
	switch {
	case s.Symbol != "":
		return Scope{Kind: ScopeInstrument, ID: s.Symbol}
	case s.Sector != "":
		return Scope{Kind: ScopeSector, ID: s.Sector}
	default:
		return ArticleScope
	}
}
