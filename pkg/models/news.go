// Package models defines the core data structures used throughout marketpulse.
package models

import "time"

// Source is a configured feed endpoint tagged with a topical category.
type Source struct {
	ID             string    `json:"id"`       // e.g., "et-markets"
	Name           string    `json:"name"`     // e.g., "Economic Times Markets"
	URL            string    `json:"url"`      // RSS/Atom endpoint
	Category       string    `json:"category"` // e.g., "markets", "economy"
	Active         bool      `json:"active"`
	LastFetchedAt  time.Time `json:"last_fetched_at,omitempty"` // last successful fetch
	UnhealthyUntil time.Time `json:"unhealthy_until,omitempty"` // set after retry exhaustion
}

// Healthy reports whether the source may be fetched at t.
func (s Source) Healthy(t time.Time) bool {
	return s.UnhealthyUntil.IsZero() || !t.Before(s.UnhealthyUntil)
}

// FeedItem is a normalized candidate article produced by the ingestor.
type FeedItem struct {
	SourceID    string    `json:"source_id"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Summary     string    `json:"summary,omitempty"`
	Content     string    `json:"content,omitempty"`
	Author      string    `json:"author,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// Article is a deduplicated, persisted news article.
type Article struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Summary     string    `json:"summary,omitempty"`
	Body        string    `json:"body,omitempty"`
	Author      string    `json:"author,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	ScrapedAt   time.Time `json:"scraped_at"`

	ContentHash string `json:"content_hash"` // hex SHA-256 over normalized title + link
	SimHash     uint64 `json:"simhash"`      // 64-bit near-duplicate fingerprint

	Analyzed    bool     `json:"analyzed"`
	Instruments []string `json:"instruments,omitempty"` // symbols, populated after recognition
	Sectors     []string `json:"sectors,omitempty"`     // sector names, populated after recognition
}

// Text returns the text scored and matched for the article.
func (a Article) Text() string {
	text := a.Title
	if a.Summary != "" {
		text += ". " + a.Summary
	}
	if a.Body != "" {
		text += "\n" + a.Body
	}
	return text
}
