// Package pipeline runs articles through ingestion, deduplication, entity
// recognition and ensemble scoring, and serves cached aggregates. It owns no
// timers: a scheduler outside the package decides when each stage runs.
package pipeline

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/singleflight"

	"github.com/seenimoa/marketpulse/internal/aggregate"
	"github.com/seenimoa/marketpulse/internal/catalog"
	"github.com/seenimoa/marketpulse/internal/dedup"
	"github.com/seenimoa/marketpulse/internal/entity"
	"github.com/seenimoa/marketpulse/internal/infra"
	"github.com/seenimoa/marketpulse/internal/ingest"
	"github.com/seenimoa/marketpulse/internal/sentiment"
	"github.com/seenimoa/marketpulse/internal/store"
)

// ErrUnscored is returned when no sentiment backend produced a score. The
// article stays unanalyzed and is picked up by the next AnalyzePending pass.
var ErrUnscored = errors.New("pipeline: article unscored")

// Default values applied when Config leaves them zero.
const (
	DefaultWorkers          = 4
	DefaultUnhealthyFor     = 15 * time.Minute
	DefaultScoreConcurrency = 4
)

// Config holds the components a Pipeline drives.
type Config struct {
	Store      store.Store
	Catalog    *catalog.Catalog
	Fetcher    ingest.Fetcher
	Dedup      *dedup.Deduplicator
	Recognizer *entity.Recognizer
	Ensemble   *sentiment.Ensemble
	Cache      *aggregate.ResultCache
	Logger     arbor.ILogger

	Workers          int           // concurrent source fetches
	ScoreConcurrency int           // concurrent scopes per article
	UnhealthyFor     time.Duration // how long a failing source is skipped
	Now              func() time.Time
}

// Stats counts pipeline activity since construction.
type Stats struct {
	Fetched         int64                `json:"fetched"`
	New             int64                `json:"new"`
	ExactDuplicates int64                `json:"exact_duplicates"`
	NearDuplicates  int64                `json:"near_duplicates"`
	Malformed       int64                `json:"malformed"`
	FailedSources   int64                `json:"failed_sources"`
	Scored          int64                `json:"scored"`
	Merged          int64                `json:"merged"` // Score calls that shared an evaluation
	Exhausted       int64                `json:"exhausted"`
	Cache           aggregate.CacheStats `json:"cache"`
	DedupIndexed    int                  `json:"dedup_indexed"`
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	store      store.Store
	catalog    *catalog.Catalog
	pool       *ingest.Pool
	dedup      *dedup.Deduplicator
	recognizer *entity.Recognizer
	ensemble   *sentiment.Ensemble
	cache      *aggregate.ResultCache
	logger     arbor.ILogger

	scoreConcurrency int
	unhealthyFor     time.Duration
	now              func() time.Time

	inflight singleflight.Group

	fetched, created, exact, near, malformed, failed atomic.Int64
	scored, merged, exhausted                        atomic.Int64
}

// New creates a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.ScoreConcurrency <= 0 {
		cfg.ScoreConcurrency = DefaultScoreConcurrency
	}
	if cfg.UnhealthyFor <= 0 {
		cfg.UnhealthyFor = DefaultUnhealthyFor
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{
		store:            cfg.Store,
		catalog:          cfg.Catalog,
		pool:             ingest.NewPool(cfg.Fetcher, cfg.Workers),
		dedup:            cfg.Dedup,
		recognizer:       cfg.Recognizer,
		ensemble:         cfg.Ensemble,
		cache:            cfg.Cache,
		logger:           infra.OrNop(cfg.Logger),
		scoreConcurrency: cfg.ScoreConcurrency,
		unhealthyFor:     cfg.UnhealthyFor,
		now:              cfg.Now,
	}
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Fetched:         p.fetched.Load(),
		New:             p.created.Load(),
		ExactDuplicates: p.exact.Load(),
		NearDuplicates:  p.near.Load(),
		Malformed:       p.malformed.Load(),
		FailedSources:   p.failed.Load(),
		Scored:          p.scored.Load(),
		Merged:          p.merged.Load(),
		Exhausted:       p.exhausted.Load(),
		Cache:           p.cache.Stats(),
		DedupIndexed:    p.dedup.Len(),
	}
}
