package models

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// EntityKind is the granularity of an aggregate.
type EntityKind string

const (
	EntityInstrument EntityKind = "instrument"
	EntitySector     EntityKind = "sector"
	EntityMarket     EntityKind = "market"
)

// EntityKey identifies the entity an aggregate is computed for.
type EntityKey struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id,omitempty"` // symbol or sector name; empty for market
}

// String returns "kind:id".
func (k EntityKey) String() string {
	return string(k.Kind) + ":" + k.ID
}

// Distribution counts scores per label.
type Distribution map[Label]int

// AggregateSnapshot is a computed sentiment summary for an entity over a window.
type AggregateSnapshot struct {
	Entity       EntityKey     `json:"entity"`
	Window       time.Duration `json:"window"`
	Average      float64       `json:"average"`
	WeightedAvg  float64       `json:"weighted_average"` // recency-weighted
	ArticleCount int           `json:"article_count"`
	Distribution Distribution  `json:"distribution"`
	ComputedAt   time.Time     `json:"computed_at"`
	ExpiresAt    time.Time     `json:"expires_at"`
}

// Label returns the label of the simple average.
func (s AggregateSnapshot) Label() Label {
	return LabelFor(s.Average)
}

// Clone returns a copy that shares no map with s.
func (s AggregateSnapshot) Clone() AggregateSnapshot {
	s.Distribution = maps.Clone(s.Distribution)
	return s
}

// CacheKey returns the composite (entity-type, entity-id, window) key.
func CacheKey(key EntityKey, window time.Duration) string {
	return fmt.Sprintf("%s:%s:%s", key.Kind, key.ID, window)
}

// RotationDirection classifies a sentiment change between two windows.
type RotationDirection string

const (
	RotationBullish RotationDirection = "bullish"
	RotationBearish RotationDirection = "bearish"
	RotationNeutral RotationDirection = "neutral"
)

// RotationSignal compares a sector's current window to the prior window.
type RotationSignal struct {
	Sector          string            `json:"sector"`
	Signal          RotationDirection `json:"signal"`
	SentimentChange float64           `json:"sentiment_change"`
	Previous        float64           `json:"previous_sentiment"`
	Current         float64           `json:"current_sentiment"`
	PreviousCount   int               `json:"previous_count"`
	CurrentCount    int               `json:"current_count"`
}

// TrendingSector ranks a sector by sentiment magnitude and volume.
type TrendingSector struct {
	Sector       string       `json:"sector"`
	TrendScore   float64      `json:"trend_score"`
	ArticleCount int          `json:"article_count"`
	Average      float64      `json:"average_sentiment"`
	Distribution Distribution `json:"distribution"`
}

// MarketSummary is the market-wide report over a window.
type MarketSummary struct {
	Date        string                       `json:"date"`
	Window      time.Duration                `json:"window"`
	Market      AggregateSnapshot            `json:"market"`
	Sectors     map[string]AggregateSnapshot `json:"sectors"`
	Trending    []TrendingSector             `json:"trending"`
	Rotation    []RotationSignal             `json:"rotation"`
	GeneratedAt time.Time                    `json:"generated_at"`
}

// Clone returns a deep copy of m.
func (m *MarketSummary) Clone() *MarketSummary {
	if m == nil {
		return nil
	}
	out := *m
	out.Market = m.Market.Clone()
	if m.Sectors != nil {
		out.Sectors = make(map[string]AggregateSnapshot, len(m.Sectors))
		for name, snap := range m.Sectors {
			out.Sectors[name] = snap.Clone()
		}
	}
	out.Trending = slices.Clone(m.Trending)
	for i := range out.Trending {
		out.Trending[i].Distribution = maps.Clone(out.Trending[i].Distribution)
	}
	out.Rotation = slices.Clone(m.Rotation)
	return &out
}
