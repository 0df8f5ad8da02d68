// Package app wires every component from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/seenimoa/marketpulse/internal/aggregate"
	"github.com/seenimoa/marketpulse/internal/catalog"
	"github.com/seenimoa/marketpulse/internal/config"
	"github.com/seenimoa/marketpulse/internal/dedup"
	"github.com/seenimoa/marketpulse/internal/entity"
	"github.com/seenimoa/marketpulse/internal/infra"
	"github.com/seenimoa/marketpulse/internal/ingest"
	"github.com/seenimoa/marketpulse/internal/llm"
	"github.com/seenimoa/marketpulse/internal/pipeline"
	"github.com/seenimoa/marketpulse/internal/sentiment"
	"github.com/seenimoa/marketpulse/internal/store/badger"
	"github.com/seenimoa/marketpulse/pkg/models"
)

// App holds all application components and dependencies.
type App struct {
	Config *config.Config
	Logger arbor.ILogger

	Store   *badger.Store
	Catalog *catalog.Catalog

	// Entity recognition
	Corpus     *entity.Corpus
	Recognizer *entity.Recognizer

	Dedup    *dedup.Deduplicator
	Ingestor *ingest.Ingestor

	// Sentiment. Router is nil when the contextual backend is disabled.
	Router   *llm.Router
	Ensemble *sentiment.Ensemble

	Aggregator *aggregate.Aggregator
	Cache      *aggregate.ResultCache

	Pipeline *pipeline.Pipeline
}

// New validates cfg and initializes the application. Configuration errors
// are returned before anything is opened.
func New(ctx context.Context, cfg *config.Config, logger arbor.ILogger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: infra.OrNop(logger)}

	if err := a.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := a.init(ctx); err != nil {
		_ = a.Store.Close()
		return nil, err
	}

	a.Logger.Info().
		Strs("backends", a.Ensemble.Backends()).
		Int("instruments", a.Recognizer.InstrumentCount()).
		Str("corpus", a.Recognizer.Version()).
		Msg("Application initialization complete")
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	if err := a.initCatalog(ctx); err != nil {
		return fmt.Errorf("failed to initialize sources: %w", err)
	}
	if err := a.initEntity(ctx); err != nil {
		return fmt.Errorf("failed to initialize entity recognizer: %w", err)
	}
	if err := a.initSentiment(ctx); err != nil {
		return fmt.Errorf("failed to initialize sentiment ensemble: %w", err)
	}
	a.initPipeline()

	if _, err := a.Pipeline.Warm(ctx, a.Config.Dedup.Window); err != nil {
		return err
	}
	return nil
}

// initStorage opens the badger store.
func (a *App) initStorage() error {
	st, err := badger.Open(a.Config.Storage.Path, a.Logger)
	if err != nil {
		return err
	}
	a.Store = st
	a.Logger.Debug().Str("storage", "badger").Str("path", a.Config.Storage.Path).Msg("Storage layer initialized")
	return nil
}

func (a *App) initCatalog(ctx context.Context) error {
	a.Catalog = catalog.New(a.Store, a.Logger)
	return a.Catalog.Sync(ctx, catalog.FromConfig(a.Config.Sources))
}

// initEntity loads the corpus: a configured file is imported into the store,
// otherwise previously imported reference data is used, falling back to the
// embedded corpus on first run.
func (a *App) initEntity(ctx context.Context) error {
	var (
		c   *entity.Corpus
		err error
	)
	switch path := a.Config.Entity.CorpusPath; {
	case path != "":
		if c, err = entity.LoadCorpus(path); err != nil {
			return err
		}
		if _, _, err = entity.Import(ctx, c, a.Store); err != nil {
			return err
		}
	default:
		c, err = entity.FromStore(ctx, a.Store)
		if errors.Is(err, entity.ErrEmptyCorpus) {
			if c, err = entity.DefaultCorpus(); err != nil {
				return err
			}
			n, s, ierr := entity.Import(ctx, c, a.Store)
			if ierr != nil {
				return ierr
			}
			a.Logger.Info().Int("instruments", n).Int("sectors", s).Msg("Imported embedded corpus")
		} else if err != nil {
			return err
		}
	}

	a.Corpus = c
	a.Recognizer = entity.NewRecognizer(c,
		entity.WithThreshold(a.Config.Entity.Threshold),
		entity.WithMinSpanLength(a.Config.Entity.MinSpanLength),
		entity.WithLogger(a.Logger),
	)
	return nil
}

// initSentiment builds the enabled backends in configured order.
func (a *App) initSentiment(ctx context.Context) error {
	sc := a.Config.Sentiment
	var backends []sentiment.Backend

	for _, name := range sc.Backends {
		if !a.Config.BackendEnabled(name) {
			continue
		}
		switch name {
		case config.BackendContextualLLM:
			router, err := llm.NewRouterFromConfig(ctx, a.Config.LLM, a.Logger)
			if err != nil {
				return err
			}
			a.Router = router
			backends = append(backends, sentiment.NewContextual(router,
				sentiment.WithRateLimit(sc.Contextual.RequestsPerSecond, sc.Contextual.Burst),
				sentiment.WithRetry(infra.Backoff{
					Base:        time.Second,
					Factor:      2,
					Max:         8 * time.Second,
					MaxAttempts: sc.Contextual.MaxAttempts,
				}),
				sentiment.WithMaxChars(sc.Contextual.MaxChars),
				sentiment.WithChatOptions(llm.ChatOptions{
					Temperature: llm.Temperature(a.Config.LLM.Temperature),
					MaxTokens:   a.Config.LLM.MaxTokens,
				}),
				sentiment.WithContextualLogger(a.Logger),
			))
		case config.BackendDomainClassifier:
			backends = append(backends, sentiment.NewClassifier(sc.Classifier.URL,
				sentiment.WithClassifierToken(sc.Classifier.Token),
				sentiment.WithClassifierRateLimit(sc.Classifier.RequestsPerSecond, sc.Classifier.Burst),
				sentiment.WithClassifierLogger(a.Logger),
			))
		case config.BackendLexiconFast:
			backends = append(backends, sentiment.NewLexiconFast())
		case config.BackendLexiconBaseline:
			backends = append(backends, sentiment.NewLexiconBaseline())
		}
	}

	a.Ensemble = sentiment.NewEnsemble(backends,
		sentiment.WithWeights(sc.Weights),
		sentiment.WithConfidenceFloor(sc.ConfidenceFloor),
		sentiment.WithBackendTimeout(sc.Timeout),
		sentiment.WithLogger(a.Logger),
	)
	return nil
}

func (a *App) initPipeline() {
	ic, ac := a.Config.Ingest, a.Config.Aggregate

	a.Dedup = dedup.New(
		dedup.WithWindow(a.Config.Dedup.Window),
		dedup.WithMaxHamming(a.Config.Dedup.MaxHamming),
		dedup.WithMinJaccard(a.Config.Dedup.MinJaccard),
		dedup.WithLogger(a.Logger),
	)
	a.Ingestor = ingest.New(
		ingest.WithUserAgent(ic.UserAgent),
		ingest.WithTimeout(ic.Timeout),
		ingest.WithBackoff(infra.Backoff{
			Base:        ic.BackoffBase,
			Factor:      2,
			Max:         ic.BackoffMax,
			MaxAttempts: ic.MaxAttempts,
		}),
		ingest.WithMaxItems(ic.MaxItemsPerFeed),
		ingest.WithLogger(a.Logger),
	)

	a.Aggregator = aggregate.New(a.Store,
		aggregate.WithRecentLimit(ac.RecentLimit),
		aggregate.WithRotationThreshold(ac.RotationThreshold),
		aggregate.WithMinTrendingCount(ac.MinTrendingCount),
		aggregate.WithMinCorrelationPoints(ac.MinCorrelationPoints),
		aggregate.WithLogger(a.Logger),
	)
	a.Cache = aggregate.NewResultCache(a.Aggregator,
		aggregate.WithTTL(models.EntityInstrument, ac.InstrumentTTL),
		aggregate.WithTTL(models.EntitySector, ac.SectorTTL),
		aggregate.WithTTL(models.EntityMarket, ac.MarketTTL),
	)

	a.Pipeline = pipeline.New(pipeline.Config{
		Store:        a.Store,
		Catalog:      a.Catalog,
		Fetcher:      a.Ingestor,
		Dedup:        a.Dedup,
		Recognizer:   a.Recognizer,
		Ensemble:     a.Ensemble,
		Cache:        a.Cache,
		Logger:       a.Logger,
		Workers:      ic.Workers,
		UnhealthyFor: ic.UnhealthyFor,
	})
}

// Close releases the store.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	a.Logger.Debug().Msg("Store closed")
	return nil
}
