// Package store defines the repository interfaces the pipeline persists through.
// Implementations live in sub-packages; see store/badger.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/seenimoa/marketpulse/pkg/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a uniqueness constraint (article link or
	// content fingerprint) is violated, including when two writers race.
	// Callers treat it as a benign no-op.
	ErrDuplicate = errors.New("store: duplicate")
)

// SourceRepository persists feed sources.
type SourceRepository interface {
	SaveSource(ctx context.Context, src *models.Source) error
	GetSource(ctx context.Context, id string) (*models.Source, error)
	ListSources(ctx context.Context) ([]models.Source, error)
}

// ArticleRepository persists articles. Link and ContentHash are unique.
type ArticleRepository interface {
	// InsertArticle stores a new article, returning ErrDuplicate when its link
	// or content hash is already taken.
	InsertArticle(ctx context.Context, a *models.Article) error
	UpdateArticle(ctx context.Context, a *models.Article) error
	GetArticle(ctx context.Context, id string) (*models.Article, error)
	// ListUnanalyzed returns unanalyzed articles, newest first.
	ListUnanalyzed(ctx context.Context, limit int) ([]models.Article, error)
	// ListScrapedSince returns articles scraped at or after since.
	ListScrapedSince(ctx context.Context, since time.Time) ([]models.Article, error)
	// DeleteArticle removes an article and its scores.
	DeleteArticle(ctx context.Context, id string) error
	// DeleteUnanalyzedBefore removes unanalyzed articles scraped before cutoff.
	DeleteUnanalyzedBefore(ctx context.Context, cutoff time.Time) (int, error)
	CountArticles(ctx context.Context) (total, analyzed int, err error)
}

// InstrumentRepository persists the instrument reference data.
type InstrumentRepository interface {
	SaveInstrument(ctx context.Context, inst *models.Instrument) error
	GetInstrument(ctx context.Context, symbol string) (*models.Instrument, error)
	ListInstruments(ctx context.Context) ([]models.Instrument, error)
}

// SectorRepository persists the sector reference data.
type SectorRepository interface {
	SaveSector(ctx context.Context, sec *models.Sector) error
	GetSector(ctx context.Context, name string) (*models.Sector, error)
	ListSectors(ctx context.Context) ([]models.Sector, error)
}

// ScoreRepository persists sentiment scores. There is at most one score per
// (article, scope); saving again replaces it.
type ScoreRepository interface {
	SaveScore(ctx context.Context, s *models.SentimentScore) error
	ScoresForArticle(ctx context.Context, articleID string) ([]models.SentimentScore, error)
	// RecentScores returns up to limit scores for the entity created in
	// [from, to), newest first. EntityMarket matches every score.
	RecentScores(ctx context.Context, key models.EntityKey, from, to time.Time, limit int) ([]models.SentimentScore, error)
}

// Store bundles every repository behind one handle.
type Store interface {
	SourceRepository
	ArticleRepository
	InstrumentRepository
	SectorRepository
	ScoreRepository
	Close() error
}
